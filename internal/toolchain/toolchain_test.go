package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/runner"
)

// fakeRunner is a test double for CommandRunner. Each call is recorded and
// answered by fn, which may write files to simulate a tool's outputs.
type fakeRunner struct {
	mu    sync.Mutex
	calls []runner.Invocation
	fn    func(inv runner.Invocation) (*runner.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, inv runner.Invocation) (*runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	if f.fn == nil {
		return &runner.Result{}, nil
	}
	return f.fn(inv)
}

func writeIn(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func newCase(t *testing.T) *corpus.Case {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "00_main.sy")
	require.NoError(t, os.WriteFile(src, []byte("int main() { return 3; }\n"), 0o644))
	return &corpus.Case{Rel: "00_main.sy", Source: src, Dir: filepath.Join(root, "out", "00_main")}
}

// argAfter returns the argument following flag in argv.
func argAfter(argv []string, flag string) string {
	for i := 0; i+1 < len(argv); i++ {
		if argv[i] == flag {
			return argv[i+1]
		}
	}
	return ""
}

func TestRefCompiler_RenamesOutputs(t *testing.T) {
	c := newCase(t)
	fr := &fakeRunner{fn: func(inv runner.Invocation) (*runner.Result, error) {
		writeIn(t, inv.Dir, "llvm_ir.ll", "define i32 @main()")
		writeIn(t, inv.Dir, "out.s", "main:")
		return &runner.Result{}, nil
	}}
	g := &RefCompiler{Options: Options{Runner: fr}, Java: "java", Jar: "/ref.jar", Optimize: true}

	arts, err := g.Generate(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	assert.Equal(t, filepath.Join(c.Dir, "ref.ll"), arts[0].Path)
	assert.Equal(t, Intermediate, arts[0].Kind)
	assert.Equal(t, filepath.Join(c.Dir, "ref.s"), arts[1].Path)
	assert.Equal(t, "armv7", arts[1].ISA)
	assert.NoFileExists(t, filepath.Join(c.Dir, "llvm_ir.ll"))

	require.Len(t, fr.calls, 1)
	assert.Equal(t, []string{"java", "-jar", "/ref.jar", "-O1", "-o", "out.s", c.Source}, fr.calls[0].Argv)
	assert.Equal(t, c.Dir, fr.calls[0].Dir)
}

func TestRefCompiler_NoOptimize(t *testing.T) {
	c := newCase(t)
	fr := &fakeRunner{fn: func(inv runner.Invocation) (*runner.Result, error) {
		writeIn(t, inv.Dir, "llvm_ir.ll", "")
		return &runner.Result{}, nil
	}}
	g := &RefCompiler{Options: Options{Runner: fr}, Java: "java", Jar: "/ref.jar"}

	arts, err := g.Generate(context.Background(), c)
	require.NoError(t, err)
	assert.Len(t, arts, 1)
	assert.NotContains(t, fr.calls[0].Argv, "-O1")
}

func TestRefCompiler_MissingAssemblyWhenRequired(t *testing.T) {
	c := newCase(t)
	fr := &fakeRunner{fn: func(inv runner.Invocation) (*runner.Result, error) {
		writeIn(t, inv.Dir, "llvm_ir.ll", "")
		return &runner.Result{}, nil
	}}
	g := &RefCompiler{Options: Options{Runner: fr}, Java: "java", Jar: "/ref.jar", NeedAssembly: true}

	_, err := g.Generate(context.Background(), c)
	require.True(t, IsToolError(err))
	assert.NoFileExists(t, filepath.Join(c.Dir, "ref.ll"), "partial artifacts must not survive")
}

func TestRefCompiler_FailureRemovesStaleArtifacts(t *testing.T) {
	c := newCase(t)
	require.NoError(t, os.MkdirAll(c.Dir, 0o755))
	writeIn(t, c.Dir, "ref.ll", "stale")
	fr := &fakeRunner{fn: func(inv runner.Invocation) (*runner.Result, error) {
		writeIn(t, inv.Dir, "llvm_ir.ll", "truncat")
		return &runner.Result{ExitCode: 1, Output: []byte("Exception in thread main")}, nil
	}}
	g := &RefCompiler{Options: Options{Runner: fr}, Java: "java", Jar: "/ref.jar"}

	_, err := g.Generate(context.Background(), c)
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, Reference, te.Side)
	assert.Equal(t, 1, te.ExitCode)
	assert.Contains(t, te.Error(), "Exception in thread main")
	assert.NoFileExists(t, filepath.Join(c.Dir, "ref.ll"))
	assert.NoFileExists(t, filepath.Join(c.Dir, "llvm_ir.ll"))
}

func TestCompiler_EmitModes(t *testing.T) {
	tests := []struct {
		emit      Emit
		wantKinds []Kind
		wantCalls int
	}{
		{EmitIntermediate, []Kind{Intermediate}, 1},
		{EmitIntermediateAndNative, []Kind{Intermediate, Assembly}, 2},
		{EmitNative, []Kind{Assembly}, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.emit), func(t *testing.T) {
			c := newCase(t)
			fr := &fakeRunner{fn: func(inv runner.Invocation) (*runner.Result, error) {
				out := argAfter(inv.Argv, "-o")
				require.NoError(t, os.WriteFile(out, []byte("x"), 0o644))
				return &runner.Result{}, nil
			}}
			g := &Compiler{
				Options:   Options{Runner: fr, Timeout: time.Minute},
				Java:      "java",
				JavaArgs:  []string{"-Xss1024m"},
				Classpath: []string{"/c.jar", "/antlr.jar"},
				Main:      "Compiler",
				Args:      []string{"-O1"},
				Emit:      tt.emit,
			}

			arts, err := g.Generate(context.Background(), c)
			require.NoError(t, err)
			var kinds []Kind
			for _, a := range arts {
				kinds = append(kinds, a.Kind)
				assert.Equal(t, UnderTest, a.Side)
			}
			assert.Equal(t, tt.wantKinds, kinds)
			require.Len(t, fr.calls, tt.wantCalls)

			argv := strings.Join(fr.calls[0].Argv, " ")
			assert.True(t, strings.HasPrefix(argv, "java -Xss1024m -cp /c.jar:/antlr.jar Compiler -O1 "), argv)
			assert.Equal(t, time.Minute, fr.calls[0].Timeout)
		})
	}
}

func TestCompiler_SecondStageFailureRemovesBoth(t *testing.T) {
	c := newCase(t)
	fr := &fakeRunner{fn: func(inv runner.Invocation) (*runner.Result, error) {
		out := argAfter(inv.Argv, "-o")
		require.NoError(t, os.WriteFile(out, []byte("x"), 0o644))
		if filepath.Ext(out) == ".s" {
			return &runner.Result{ExitCode: 1}, nil
		}
		return &runner.Result{}, nil
	}}
	g := &Compiler{Options: Options{Runner: fr}, Java: "java", Main: "Compiler", Emit: EmitIntermediateAndNative}

	_, err := g.Generate(context.Background(), c)
	require.True(t, IsToolError(err))
	assert.NoFileExists(t, filepath.Join(c.Dir, "our.ll"))
	assert.NoFileExists(t, filepath.Join(c.Dir, "our.s"))
}

func TestCompiler_ExitZeroWithoutOutput(t *testing.T) {
	c := newCase(t)
	g := &Compiler{Options: Options{Runner: &fakeRunner{}}, Java: "java", Main: "Compiler", Emit: EmitIntermediate}

	_, err := g.Generate(context.Background(), c)
	require.True(t, IsToolError(err))
	assert.Contains(t, err.Error(), "our.ll not generated")
}

func TestCompiler_Timeout(t *testing.T) {
	c := newCase(t)
	fr := &fakeRunner{fn: func(runner.Invocation) (*runner.Result, error) {
		return &runner.Result{TimedOut: true, ExitCode: -1}, nil
	}}
	g := &Compiler{Options: Options{Runner: fr}, Java: "java", Main: "Compiler", Emit: EmitNative}

	_, err := g.Generate(context.Background(), c)
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.TimedOut)
	assert.Contains(t, te.Error(), "timed out")
}

func TestInvoke_StartFailure(t *testing.T) {
	fr := &fakeRunner{fn: func(runner.Invocation) (*runner.Result, error) {
		return nil, errors.New("executable file not found")
	}}
	_, err := Invoke(context.Background(), fr, Reference, "compile", runner.Invocation{Argv: []string{"java"}})
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.ErrorContains(t, te, "executable file not found")
}

func TestInvoke_CanceledContextPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fr := &fakeRunner{fn: func(runner.Invocation) (*runner.Result, error) {
		return nil, context.Canceled
	}}
	_, err := Invoke(ctx, fr, UnderTest, "emit-llvm", runner.Invocation{Argv: []string{"java"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsToolError(err))
}

func TestHostC_RewritesAndCompiles(t *testing.T) {
	c := newCase(t)
	rt := t.TempDir()
	fr := &fakeRunner{fn: func(inv runner.Invocation) (*runner.Result, error) {
		require.NoError(t, os.WriteFile(argAfter(inv.Argv, "-o"), []byte("ELF"), 0o755))
		return &runner.Result{}, nil
	}}
	g := &HostC{Options: Options{Runner: fr}, CC: "clang", RuntimeDir: rt}

	arts, err := g.Generate(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, Executable, arts[0].Kind)

	src, err := os.ReadFile(filepath.Join(c.Dir, "ref.c"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(src), `#include "sylib.h"`))
	assert.Contains(t, fr.calls[0].Argv, filepath.Join(rt, "sylib.c"), "falls back to runtime source")
}

func TestRuntimeInputs_PrefersArchive(t *testing.T) {
	rt := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(rt, "aarch64"), 0o755))
	writeIn(t, filepath.Join(rt, "aarch64"), "libsysy.a", "")

	assert.Equal(t, []string{filepath.Join(rt, "aarch64", "libsysy.a")}, RuntimeInputs(rt, "aarch64"))
	assert.Equal(t, []string{filepath.Join(rt, "sylib.c")}, RuntimeInputs(rt, "armv7"))
}

func TestJarOutdated(t *testing.T) {
	root := t.TempDir()
	jar := filepath.Join(root, "c.jar")
	src := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	writeIn(t, src, "Main.java", "class Main {}")

	assert.True(t, JarOutdated(jar, []string{src}), "missing jar")

	writeIn(t, root, "c.jar", "")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(src, "Main.java"), old, old))
	assert.False(t, JarOutdated(jar, []string{src, filepath.Join(root, "gen")}))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(src, "Main.java"), future, future))
	assert.True(t, JarOutdated(jar, []string{src}))
}

func TestBuilder_EnsureReferenceJar(t *testing.T) {
	root := t.TempDir()
	script := filepath.Join(root, "build-ref.sh")
	jar := filepath.Join(root, "ref.jar")
	writeIn(t, root, "build-ref.sh", "#!/bin/sh\n")
	fr := &fakeRunner{fn: func(inv runner.Invocation) (*runner.Result, error) {
		writeIn(t, root, "ref.jar", "")
		return &runner.Result{}, nil
	}}
	b := &Builder{Runner: fr, Log: zap.NewNop()}

	require.NoError(t, b.EnsureReferenceJar(context.Background(), script, jar))
	require.Len(t, fr.calls, 1)
	assert.Equal(t, []string{"bash", script}, fr.calls[0].Argv)
}

func TestBuilder_EnsureReferenceJarMissing(t *testing.T) {
	root := t.TempDir()
	b := &Builder{Runner: &fakeRunner{}, Log: zap.NewNop()}

	err := b.EnsureReferenceJar(context.Background(), filepath.Join(root, "absent.sh"), filepath.Join(root, "ref.jar"))
	var missing corpus.ErrMissingPath
	require.True(t, errors.As(err, &missing))
}

func TestBuilder_EnsureCompilerJarUpToDate(t *testing.T) {
	root := t.TempDir()
	writeIn(t, root, "c.jar", "")
	fr := &fakeRunner{}
	b := &Builder{Runner: fr, Log: zap.NewNop()}

	require.NoError(t, b.EnsureCompilerJar(context.Background(), root, filepath.Join(root, "c.jar"), []string{filepath.Join(root, "src")}))
	assert.Empty(t, fr.calls)
}

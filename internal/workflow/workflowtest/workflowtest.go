// Package workflowtest builds a throwaway compiler project whose tools are
// answered by an in-process fake, for tests that drive whole runs.
package workflowtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deixis/crosscheck/internal/config"
	"github.com/deixis/crosscheck/internal/runner"
)

// Project is a fake compiler project in interpreter mode. Every program
// prints the contents of its source file and exits 0, unless the case name
// is listed in Diverge, in which case the under-test side prints "wrong".
type Project struct {
	Root   string
	Config *config.Config
	Runner *FakeRunner

	mu      sync.Mutex
	diverge map[string]bool
}

// NewProject lays out a project under t.TempDir with suite "functional"
// holding the given cases (name -> source text).
func NewProject(t *testing.T, cases map[string]string) *Project {
	t.Helper()
	for _, env := range []string{"JAVA", "CLANG", "LLVMLINK", "LLI"} {
		t.Setenv(env, "")
	}
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	for _, tool := range []string{"java", "llvm-link", "lli", "clang"} {
		write(t, filepath.Join(bin, tool), "#!/bin/sh\nexit 0\n", 0o755)
	}
	write(t, filepath.Join(root, "build.gradle"), "", 0o644)
	write(t, filepath.Join(root, "build", "libs", "compiler2025-nlvm-1.0.jar"), "jar", 0o644)
	write(t, filepath.Join(root, "references", "BUAA", "build", "libs", "ref-compiler.jar"), "jar", 0o644)
	write(t, filepath.Join(root, "sysy-runtime", "x86-64", "sylib.bc"), "bc", 0o644)
	for name, src := range cases {
		write(t, filepath.Join(root, "test", "resources", "functional", name), src, 0o644)
	}

	noStack := false
	cfg := &config.Config{
		Root:              root,
		RawUnlimitedStack: &noStack,
		RawRunTimeout:     "5s",
		Suites:            []string{"functional"},
		Tools: config.ToolsConfig{
			Java:     filepath.Join(bin, "java"),
			LLVMLink: filepath.Join(bin, "llvm-link"),
			LLI:      filepath.Join(bin, "lli"),
			Clang:    filepath.Join(bin, "clang"),
		},
	}
	p := &Project{Root: root, Config: cfg, diverge: map[string]bool{}}
	p.Runner = &FakeRunner{fn: p.answer}
	return p
}

// Diverge makes the under-test side of the named case print different output.
func (p *Project) Diverge(caseName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diverge[caseName] = true
}

// CaseDir returns where a case of the functional suite is placed.
func (p *Project) CaseDir(name string) string {
	return filepath.Join(p.Config.OutRoot(), "functional", strings.TrimSuffix(name, ".sy"))
}

func (p *Project) answer(inv runner.Invocation) (*runner.Result, error) {
	ok := &runner.Result{RunID: "fake", Wall: time.Millisecond}
	switch filepath.Base(inv.Argv[0]) {
	case "java":
		src := inv.Argv[len(inv.Argv)-1]
		if inv.Argv[1] == "-jar" {
			return ok, copyFile(src, filepath.Join(inv.Dir, "llvm_ir.ll"))
		}
		out := after(inv.Argv, "-o")
		if i := indexOf(inv.Argv, "-emit-llvm"); i > 0 {
			src = inv.Argv[i-1]
		}
		return ok, copyFile(src, out)
	case "llvm-link":
		return ok, copyFile(inv.Argv[1], after(inv.Argv, "-o"))
	case "lli":
		linked := inv.Argv[1]
		data, err := os.ReadFile(linked)
		if err != nil {
			return nil, err
		}
		out := string(data)
		p.mu.Lock()
		wrong := strings.HasPrefix(filepath.Base(linked), "our") && p.diverge[filepath.Base(filepath.Dir(linked))+".sy"]
		p.mu.Unlock()
		if wrong {
			out = "wrong\n"
		}
		ok.Output = []byte(out)
		return ok, nil
	}
	return nil, fmt.Errorf("unexpected tool %s", inv.Argv[0])
}

// FakeRunner records invocations and answers them in-process.
type FakeRunner struct {
	mu    sync.Mutex
	calls []runner.Invocation
	fn    func(runner.Invocation) (*runner.Result, error)
}

func (f *FakeRunner) Run(ctx context.Context, inv runner.Invocation) (*runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	return f.fn(inv)
}

// Calls returns the number of recorded invocations.
func (f *FakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func after(argv []string, flag string) string {
	if i := indexOf(argv, flag); i >= 0 && i+1 < len(argv) {
		return argv[i+1]
	}
	return ""
}

func indexOf(argv []string, s string) int {
	for i, a := range argv {
		if a == s {
			return i
		}
	}
	return -1
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func write(t *testing.T, path, body string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), mode); err != nil {
		t.Fatal(err)
	}
}

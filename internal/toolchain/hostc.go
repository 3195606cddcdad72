package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/csource"
	"github.com/deixis/crosscheck/internal/runner"
)

// HostC builds the reference as a host executable: the source is rewritten
// into C and compiled by the host C compiler against the runtime library.
type HostC struct {
	Options
	CC         string
	RuntimeDir string
}

func (g *HostC) Side() Side { return Reference }

// Generate writes ref.c and ref.bin into c.Dir.
func (g *HostC) Generate(ctx context.Context, c *corpus.Case) ([]Artifact, error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating case dir: %w", err)
	}
	src := filepath.Join(c.Dir, "ref.c")
	bin := filepath.Join(c.Dir, "ref.bin")
	if err := removeFiles(src, bin); err != nil {
		return nil, &ToolError{Side: Reference, Stage: "host-compile", Err: err}
	}

	if err := csource.WriteFile(c.Source, src); err != nil {
		return nil, &ToolError{Side: Reference, Stage: "rewrite", Err: err}
	}

	argv := []string{g.CC, "-w", "-O2", src}
	argv = append(argv, RuntimeInputs(g.RuntimeDir, "x86-64")...)
	argv = append(argv, "-I", g.RuntimeDir, "-static", "-fno-pie", "-o", bin)
	if _, err := Invoke(ctx, g.Runner, Reference, "host-compile", runner.Invocation{
		Argv:    argv,
		Dir:     c.Dir,
		Timeout: g.Timeout,
	}); err != nil {
		_ = removeFiles(bin)
		return nil, err
	}
	return []Artifact{
		{Side: Reference, Kind: Executable, ISA: "x86-64", Path: bin},
	}, nil
}

// RuntimeInputs returns the runtime library for isa, falling back to the
// runtime C source when no prebuilt archive exists.
func RuntimeInputs(runtimeDir, isa string) []string {
	archive := filepath.Join(runtimeDir, isa, "libsysy.a")
	if exists(archive) {
		return []string{archive}
	}
	return []string{filepath.Join(runtimeDir, "sylib.c")}
}

package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/runner"
)

// Fixed names the reference compiler writes into its working directory.
const (
	refRawIR  = "llvm_ir.ll"
	refRawAsm = "out.s"
)

// RefCompiler runs the reference compiler jar in the case directory. It
// always emits LLVM IR and, when its backend supports it, ARMv7 assembly.
type RefCompiler struct {
	Options
	Java     string
	Jar      string
	Optimize bool // pass -O1
	// NeedAssembly makes a missing ref.s a failure.
	NeedAssembly bool
}

func (g *RefCompiler) Side() Side { return Reference }

// Generate writes ref.ll and, if produced, ref.s into c.Dir.
func (g *RefCompiler) Generate(ctx context.Context, c *corpus.Case) ([]Artifact, error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating case dir: %w", err)
	}
	rawIR := filepath.Join(c.Dir, refRawIR)
	rawAsm := filepath.Join(c.Dir, refRawAsm)
	ll := filepath.Join(c.Dir, "ref.ll")
	asm := filepath.Join(c.Dir, "ref.s")
	targets := []string{rawIR, rawAsm, ll, asm}
	if err := removeFiles(targets...); err != nil {
		return nil, &ToolError{Side: Reference, Stage: "compile", Err: err}
	}

	argv := []string{g.Java, "-jar", g.Jar}
	if g.Optimize {
		argv = append(argv, "-O1")
	}
	argv = append(argv, "-o", refRawAsm, c.Source)

	fail := func(err error) ([]Artifact, error) {
		_ = removeFiles(targets...)
		return nil, err
	}

	if _, err := Invoke(ctx, g.Runner, Reference, "compile", runner.Invocation{
		Argv:    argv,
		Dir:     c.Dir,
		Timeout: g.Timeout,
	}); err != nil {
		return fail(err)
	}
	if !exists(rawIR) {
		return fail(&ToolError{Side: Reference, Stage: "compile", Argv: argv, Err: errors.New("reference IR not generated")})
	}
	if err := os.Rename(rawIR, ll); err != nil {
		return fail(&ToolError{Side: Reference, Stage: "compile", Err: err})
	}

	arts := []Artifact{{Side: Reference, Kind: Intermediate, Path: ll}}
	if exists(rawAsm) {
		if err := os.Rename(rawAsm, asm); err != nil {
			return fail(&ToolError{Side: Reference, Stage: "compile", Err: err})
		}
		arts = append(arts, Artifact{Side: Reference, Kind: Assembly, ISA: "armv7", Path: asm})
	} else if g.NeedAssembly {
		return fail(&ToolError{Side: Reference, Stage: "compile", Argv: argv, Err: fmt.Errorf("reference assembly missing: %s", asm)})
	}
	return arts, nil
}

package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/runner"
)

// Emit selects which artifacts the compiler under test produces.
type Emit string

const (
	EmitIntermediate          Emit = "intermediate-only"
	EmitIntermediateAndNative Emit = "intermediate+native"
	EmitNative                Emit = "native-only"
)

// Intermediate reports whether e includes LLVM IR.
func (e Emit) Intermediate() bool { return e != EmitNative }

// Native reports whether e includes AArch64 assembly.
func (e Emit) Native() bool { return e != EmitIntermediate }

// Compiler runs the compiler under test through the JVM.
type Compiler struct {
	Options
	Java      string
	JavaArgs  []string // e.g. -Xss1024m
	Classpath []string
	Main      string
	Args      []string // optimization flags, e.g. -O1
	Emit      Emit
}

func (g *Compiler) Side() Side { return UnderTest }

// Generate writes our.ll and/or our.s into c.Dir depending on Emit.
// Each form is a separate invocation; a failure removes both targets.
func (g *Compiler) Generate(ctx context.Context, c *corpus.Case) ([]Artifact, error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating case dir: %w", err)
	}
	ll := filepath.Join(c.Dir, "our.ll")
	asm := filepath.Join(c.Dir, "our.s")
	var targets []string
	if g.Emit.Intermediate() {
		targets = append(targets, ll)
	}
	if g.Emit.Native() {
		targets = append(targets, asm)
	}
	if err := removeFiles(targets...); err != nil {
		return nil, &ToolError{Side: UnderTest, Stage: "compile", Err: err}
	}

	var arts []Artifact
	if g.Emit.Intermediate() {
		if err := g.run(ctx, c, "emit-llvm", []string{c.Source, "-emit-llvm", "-o", ll}, ll); err != nil {
			_ = removeFiles(targets...)
			return nil, err
		}
		arts = append(arts, Artifact{Side: UnderTest, Kind: Intermediate, Path: ll})
	}
	if g.Emit.Native() {
		if err := g.run(ctx, c, "emit-asm", []string{"-S", "-o", asm, c.Source}, asm); err != nil {
			_ = removeFiles(targets...)
			return nil, err
		}
		arts = append(arts, Artifact{Side: UnderTest, Kind: Assembly, ISA: "aarch64", Path: asm})
	}
	return arts, nil
}

func (g *Compiler) run(ctx context.Context, c *corpus.Case, stage string, tail []string, want string) error {
	argv := []string{g.Java}
	argv = append(argv, g.JavaArgs...)
	argv = append(argv, "-cp", strings.Join(g.Classpath, string(os.PathListSeparator)), g.Main)
	argv = append(argv, g.Args...)
	argv = append(argv, tail...)

	if _, err := Invoke(ctx, g.Runner, UnderTest, stage, runner.Invocation{
		Argv:    argv,
		Dir:     c.Dir,
		Timeout: g.Timeout,
	}); err != nil {
		return err
	}
	if !exists(want) {
		return &ToolError{Side: UnderTest, Stage: stage, Argv: argv, Err: fmt.Errorf("%s not generated", filepath.Base(want))}
	}
	return nil
}

// Package workflow provides the run entry point shared by the CLI, the
// MCP server and watch mode: pre-flight, jar builds, case discovery and
// the batch itself.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/deixis/crosscheck/internal/config"
	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/logging"
	"github.com/deixis/crosscheck/internal/pipeline"
	"github.com/deixis/crosscheck/internal/report"
	"github.com/deixis/crosscheck/internal/toolchain"
)

// ErrNoCases is returned when a selection matches no case.
var ErrNoCases = errors.New("no cases selected")

// Engine holds shared dependencies for all run operations.
type Engine struct {
	Config  *config.Config
	Runner  toolchain.CommandRunner
	Log     *zap.Logger
	Console *logging.Console
	History pipeline.Recorder // optional
}

// Options narrows a run.
type Options struct {
	Suites []string // overrides the configured suites; missing ones are errors
	File   string   // single case; overrides Suites
	// SkipBuild leaves the compiler jars as they are.
	SkipBuild bool
	// Interrupts receives per-case contexts for user interrupts.
	Interrupts *pipeline.Interrupter
}

// Preflight checks every tool and path the configured mode needs and
// brings both compiler jars up to date. Any error here is fatal for the run.
func (e *Engine) Preflight(ctx context.Context, skipBuild bool) error {
	cfg := e.Config
	if err := corpus.Check(corpus.RequirementsFor(cfg)); err != nil {
		return err
	}
	if skipBuild {
		return nil
	}
	b := &toolchain.Builder{Runner: e.Runner, Log: e.logger(), Timeout: cfg.CompileTimeout()}
	if cfg.Mode() != config.Native {
		if err := b.EnsureReferenceJar(ctx, cfg.ReferenceBuildScript(), cfg.ReferenceJar()); err != nil {
			return fmt.Errorf("reference compiler: %w", err)
		}
	}
	srcRoots := []string{cfg.Path("src"), cfg.Path("gen")}
	if err := b.EnsureCompilerJar(ctx, cfg.Root, cfg.CompilerJar(), srcRoots); err != nil {
		return fmt.Errorf("compiler under test: %w", err)
	}
	return nil
}

// Discover resolves the case selection against the resource root.
func (e *Engine) Discover(opts Options) ([]corpus.Case, error) {
	sel := corpus.Selection{
		Root:   e.Config.ResourceRoot(),
		Suites: e.Config.SuiteDirs(),
		File:   opts.File,
	}
	if len(opts.Suites) > 0 {
		sel.Suites, sel.Strict = opts.Suites, true
	}
	cases, err := corpus.Discover(sel)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoCases, sel.Root)
	}
	return cases, nil
}

// Run performs a full run and returns its result. A partial result is
// returned with pipeline.ErrAborted when the run was aborted.
func (e *Engine) Run(ctx context.Context, opts Options) (*report.RunResult, error) {
	if err := e.Preflight(ctx, opts.SkipBuild); err != nil {
		return nil, err
	}
	cases, err := e.Discover(opts)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, cases, opts.Interrupts)
}

// Execute runs already discovered cases under a fresh RunContext.
func (e *Engine) Execute(ctx context.Context, cases []corpus.Case, intr *pipeline.Interrupter) (*report.RunResult, error) {
	rc, err := pipeline.NewRunContext(e.Config, e.logger(), e.Console)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	rc.History = e.History

	p, err := pipeline.Build(e.Config, e.Runner, rc.Diag, rc.Log)
	if err != nil {
		return nil, err
	}
	rc.Log.Info("run started",
		zap.String("mode", string(e.Config.Mode())),
		zap.Int("cases", len(cases)),
		zap.String("dir", rc.Dir))

	b := &pipeline.Batch{
		Pipeline:   p,
		Run:        rc,
		Mode:       pipeline.Label(e.Config.Mode()),
		Jobs:       e.Config.Jobs(),
		Interrupts: intr,
	}
	result, err := b.Execute(ctx, cases)
	if result != nil {
		rc.Log.Info("run finished",
			zap.Int("ok", result.Summary.OK),
			zap.Int("skip", result.Summary.Skip),
			zap.Int("fail", result.Summary.Fail),
			zap.String("report", filepath.Join(rc.Dir, pipeline.ReportFile)))
	}
	return result, err
}

func (e *Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

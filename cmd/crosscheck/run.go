package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deixis/crosscheck/internal/config"
	"github.com/deixis/crosscheck/internal/logging"
	"github.com/deixis/crosscheck/internal/pipeline"
	"github.com/deixis/crosscheck/internal/workflow"
)

// runFlags are the command-line overrides of a run.
type runFlags struct {
	dirs         []string
	file         string
	mode         string
	noOptimize   bool
	saveAsm      bool
	skipExisting bool
	skipBuild    bool
	jobs         int
	timeout      time.Duration
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the differential test over the corpus",
	Long: `Compile every case with both compilers, execute both results and compare them.

Ctrl-C skips the cases in flight; a second Ctrl-C within a second aborts the run.
Exits with status 1 when any case fails.`,
	Args: cobra.NoArgs,
	RunE: runDifferential,
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runOpts.dirs, "dirs", nil, "suite directories under the resource root (default: configured suites)")
	f.StringVar(&runOpts.file, "file", "", "run a single case")
	f.StringVar(&runOpts.mode, "mode", "", "interpreter, cross or native")
	f.BoolVar(&runOpts.noOptimize, "no-O1", false, "build the reference without optimization")
	f.BoolVar(&runOpts.saveAsm, "save-s", false, "also keep the intermediate form and assembly of our compiler")
	f.BoolVar(&runOpts.skipExisting, "skip-existing", false, "skip cases whose generated files already exist")
	f.BoolVar(&runOpts.skipBuild, "skip-build", false, "do not rebuild the compiler jars")
	f.IntVar(&runOpts.jobs, "jobs", 0, "cases processed in parallel (default: configured jobs, else 1)")
	f.DurationVar(&runOpts.timeout, "timeout", 0, "execution timeout per program (e.g. 10s)")
}

// apply overrides cfg with the flags that were set.
func (f runFlags) apply(cfg *config.Config) error {
	if f.mode != "" {
		if !config.Mode(f.mode).Valid() {
			return fmt.Errorf("unknown mode %q (want interpreter, cross or native)", f.mode)
		}
		cfg.RawMode = f.mode
	}
	if f.noOptimize {
		off := false
		cfg.RawOptimizeReference = &off
	}
	if f.saveAsm {
		cfg.PersistIntermediate = true
	}
	if f.skipExisting {
		cfg.SkipExisting = true
	}
	if f.jobs > 0 {
		cfg.RawJobs = f.jobs
	}
	if f.timeout > 0 {
		cfg.RawRunTimeout = f.timeout.String()
	}
	if f.file != "" && len(f.dirs) > 0 {
		return errors.New("--file and --dirs are mutually exclusive")
	}
	return nil
}

func runDifferential(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := runOpts.apply(cfg); err != nil {
		return err
	}

	var consoleOut io.Writer = cmd.OutOrStdout()
	if jsonOutput {
		consoleOut = cmd.ErrOrStderr()
	}
	console := logging.NewConsole(consoleOut)

	engine, hist, closeHistory := newEngine(cfg, console)
	defer closeHistory()

	ctx, intr, stop := signalContext(console)
	defer stop()

	result, err := engine.Run(ctx, workflow.Options{
		Suites:     runOpts.dirs,
		File:       runOpts.file,
		SkipBuild:  runOpts.skipBuild,
		Interrupts: intr,
	})
	if err != nil && !errors.Is(err, pipeline.ErrAborted) {
		return err
	}

	if hist != nil && result != nil {
		regressed, rerr := hist.Regressions(context.WithoutCancel(ctx), result.ID)
		if rerr != nil {
			logger.Warn("querying regressions", zap.Error(rerr))
		}
		for _, rel := range regressed {
			console.Verdict("FAIL", rel, "regressed since previous run")
		}
	}

	if jsonOutput && result != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(result); jerr != nil {
			return jerr
		}
	}

	if err != nil {
		return err
	}
	if pipeline.HasFailures(result) {
		return errFailed
	}
	return nil
}

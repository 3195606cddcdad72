package main

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/logging"
	"github.com/deixis/crosscheck/internal/pipeline"
	"github.com/deixis/crosscheck/internal/watch"
	"github.com/deixis/crosscheck/internal/workflow"
)

var watchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Re-run one case whenever its source, input or the compiler jar changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := runOpts.apply(cfg); err != nil {
			return err
		}
		// Every change must be re-judged.
		cfg.SkipExisting = false

		console := logging.NewConsole(cmd.OutOrStdout())
		engine, _, closeHistory := newEngine(cfg, console)
		defer closeHistory()

		ctx, stop := signalNotify()
		defer stop()

		if err := engine.Preflight(ctx, runOpts.skipBuild); err != nil {
			return err
		}
		cases, err := engine.Discover(workflow.Options{File: args[0]})
		if err != nil {
			return err
		}
		c := cases[0]

		runOnce := func(ctx context.Context) {
			run := []corpus.Case{c}
			if _, err := engine.Execute(ctx, run, nil); err != nil && !errors.Is(err, pipeline.ErrAborted) {
				logger.Error("watch run failed", zap.Error(err))
			}
		}
		runOnce(ctx)

		w := &watch.Watcher{
			Paths: watchPaths(c, cfg.CompilerJar()),
			Log:   logger,
		}
		console.Printf("watching %s (Ctrl-C to stop)", c.Rel)
		return w.Run(ctx, func(ctx context.Context, changed []string) {
			logger.Debug("change detected", zap.Strings("paths", changed))
			runOnce(ctx)
		})
	},
}

// watchPaths lists the files whose change invalidates the verdict of c.
// The input file is watched even when absent so that creating it counts.
func watchPaths(c corpus.Case, compilerJar string) []string {
	stdin := c.Stdin
	if stdin == "" {
		stdin = strings.TrimSuffix(c.Source, corpus.SourceExt) + corpus.StdinExt
	}
	return []string{c.Source, stdin, compilerJar}
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&runOpts.mode, "mode", "", "interpreter, cross or native")
	f.BoolVar(&runOpts.skipBuild, "skip-build", false, "do not rebuild the compiler jars at start")
}

// Command crosscheck runs the differential test between a reference
// compiler and the compiler under test.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deixis/crosscheck"
	"github.com/deixis/crosscheck/internal/config"
	"github.com/deixis/crosscheck/internal/history"
	"github.com/deixis/crosscheck/internal/logging"
	"github.com/deixis/crosscheck/internal/pipeline"
	"github.com/deixis/crosscheck/internal/runner"
	"github.com/deixis/crosscheck/internal/workflow"
)

var (
	logger *zap.Logger

	verbose    bool
	jsonOutput bool
	workspace  string
)

// errFailed makes main exit with status 1 without printing anything more.
var errFailed = errors.New("cases failed")

var rootCmd = &cobra.Command{
	Use:   "crosscheck",
	Short: "Differential testing of a compiler backend against a reference compiler",
	Long: `crosscheck compiles every test case with a trusted reference compiler and with
the compiler under test, executes both results, and compares their normalized
output and return values.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose, jsonOutput)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), crosscheck.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "JSON logs and machine-readable output")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Project directory (default: current)")

	rootCmd.AddCommand(runCmd, serveCmd, historyCmd, watchCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "crosscheck: %v\n", err)
		}
		os.Exit(1)
	}
}

// loadConfig reads .crosscheck from the workspace flag or the working directory.
func loadConfig() (*config.Config, error) {
	dir := workspace
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("determining workspace: %w", err)
		}
	}
	loaded, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loaded.Config, nil
}

// newEngine wires the engine for cfg. The returned closer releases the
// history database; history failures only disable history.
func newEngine(cfg *config.Config, console *logging.Console) (*workflow.Engine, *history.Store, func()) {
	e := &workflow.Engine{
		Config: cfg,
		Runner: &runner.Runner{
			Timeout:   cfg.CompileTimeout(),
			MaxOutput: cfg.MaxOutputBytes(),
		},
		Log:     logger,
		Console: console,
	}
	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		logger.Warn("run history disabled", zap.String("path", cfg.HistoryPath()), zap.Error(err))
		return e, nil, func() {}
	}
	e.History = hist
	return e, hist, func() { _ = hist.Close() }
}

// signalContext cancels per-case contexts on the first interrupt and the
// whole run on a second one that follows quickly.
func signalContext(console *logging.Console) (context.Context, *pipeline.Interrupter, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	in := pipeline.NewInterrupter(cancel)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case s := <-sig:
				if s == syscall.SIGTERM {
					cancel()
					continue
				}
				if in.Interrupt() {
					console.Headline("aborting run")
				} else {
					console.Printf("interrupted: skipping cases in flight (press Ctrl-C again within %s to abort)", pipeline.AbortWindow)
				}
			case <-done:
				return
			}
		}
	}()
	return ctx, in, func() {
		signal.Stop(sig)
		close(done)
		cancel()
	}
}

func signalNotify() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

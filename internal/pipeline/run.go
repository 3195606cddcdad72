package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deixis/crosscheck/internal/config"
	"github.com/deixis/crosscheck/internal/logging"
	"github.com/deixis/crosscheck/internal/report"
	"github.com/deixis/crosscheck/internal/substrate"
)

// Run-level side files.
const (
	ReportFile = "report.txt"
	DiagFile   = "assembler-errors.txt"
	RunsDir    = "runs"
)

// Recorder persists finished runs. Implemented by history.Store.
type Recorder interface {
	RecordRun(ctx context.Context, result *report.RunResult) error
}

// RunContext holds everything scoped to one run. It is created once and
// closed when the run ends.
type RunContext struct {
	ID       string
	Started  time.Time
	CaseRoot string // case directories live under here and persist across runs
	Dir      string // run-scoped files: report, diagnostics, summary.json

	Config  *config.Config
	Log     *zap.Logger
	Console *logging.Console
	Report  *report.Writer
	Diag    *substrate.DiagLog
	Store   report.Store // optional
	History Recorder     // optional
}

// NewRunID returns a sortable run identifier: start time plus a short
// random suffix.
func NewRunID(t time.Time) string {
	return t.Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// NewRunContext creates the run directory and opens the report file.
func NewRunContext(cfg *config.Config, log *zap.Logger, console *logging.Console) (*RunContext, error) {
	started := time.Now()
	rc := &RunContext{
		ID:       NewRunID(started),
		Started:  started,
		CaseRoot: cfg.OutRoot(),
		Config:   cfg,
		Log:      log,
		Console:  console,
	}
	rc.Dir = filepath.Join(rc.CaseRoot, RunsDir, rc.ID)
	if err := os.MkdirAll(rc.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run dir: %w", err)
	}
	w, err := report.Create(filepath.Join(rc.Dir, ReportFile))
	if err != nil {
		return nil, err
	}
	rc.Report = w
	rc.Diag = &substrate.DiagLog{Path: filepath.Join(rc.Dir, DiagFile)}
	rc.Store = report.NewDiskStore(filepath.Join(rc.CaseRoot, RunsDir))
	if rc.Log == nil {
		rc.Log = zap.NewNop()
	}
	rc.Log = rc.Log.With(zap.String("run", rc.ID))
	return rc, nil
}

// Close releases the report file.
func (rc *RunContext) Close() error {
	if rc.Report == nil {
		return nil
	}
	return rc.Report.Close()
}

// Finalize writes the report trailer and persists the result. Persistence
// failures are logged; only the report write is reported as an error.
func (rc *RunContext) Finalize(ctx context.Context, mode string, records []report.Record) (*report.RunResult, error) {
	summary := report.Summarize(records)
	result := &report.RunResult{
		ID:       rc.ID,
		Started:  rc.Started,
		Finished: time.Now(),
		Mode:     mode,
		Root:     rc.Dir,
		Report:   rc.Report.Path(),
		Summary:  summary,
		Records:  records,
	}
	err := rc.Report.Finish(records, summary, mode)

	if rc.Store != nil {
		if serr := rc.Store.Save(result); serr != nil {
			rc.Log.Warn("saving run summary", zap.Error(serr))
		}
	}
	if rc.History != nil {
		// The run may have been aborted; history still gets the partial result.
		hctx := context.WithoutCancel(ctx)
		if herr := rc.History.RecordRun(hctx, result); herr != nil {
			rc.Log.Warn("recording history", zap.Error(herr))
		}
	}

	if line := report.AverageLine(summary, mode); line != "" {
		rc.Console.Headline("%s", line)
	}
	rc.Console.Headline("%s", report.SummaryLine(summary))
	rc.Console.Printf("report: %s", rc.Report.Path())
	if err != nil {
		return result, fmt.Errorf("finishing report: %w", err)
	}
	return result, nil
}

// HasFailures reports whether any case of result failed.
func HasFailures(result *report.RunResult) bool {
	return result != nil && result.Summary.Fail > 0
}

// ErrAborted is returned by Batch.Execute when the run was aborted before
// every case started.
var ErrAborted = errors.New("run aborted")

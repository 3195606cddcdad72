package report

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Header describes a run at the top of the report file.
type Header struct {
	RunID    string
	Started  time.Time
	Mode     string
	RefOpt   bool
	Root     string
	Resource string
}

// Writer appends to a run's report file. Records may arrive from many
// goroutines; each call writes one complete block.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Create truncates path and returns a Writer appending to it.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating report: %w", err)
	}
	return &Writer{f: f, path: path}, nil
}

// Path returns the report file path.
func (w *Writer) Path() string { return w.path }

// Header writes the run banner.
func (w *Writer) Header(h Header) error {
	opt := "-O0"
	if h.RefOpt {
		opt = "-O1"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# crosscheck report %s\n", h.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "# RUN ID:   %s\n", h.RunID)
	fmt.Fprintf(&b, "# RUN MODE: %s\n", h.Mode)
	fmt.Fprintf(&b, "# REF OPT:  %s\n", opt)
	if h.Resource != "" {
		fmt.Fprintf(&b, "# CASES:    %s\n", h.Resource)
	}
	b.WriteString("\n")
	return w.write(b.String())
}

// Record writes one case block: the verdict line, diffs for mismatches,
// and a TIME line for passing cases with both samples.
func (w *Writer) Record(r Record, mode string) error {
	return w.write(FormatRecord(r, mode))
}

// FormatRecord renders the report block for r.
func FormatRecord(r Record, mode string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %s", r.Verdict, r.Case)
	if r.Reason != "" {
		fmt.Fprintf(&b, " (%s", r.Reason)
		if r.Detail != "" && r.Verdict == Skip {
			fmt.Fprintf(&b, ": %s", r.Detail)
		}
		b.WriteString(")")
	}
	if r.DiagPath != "" {
		fmt.Fprintf(&b, " err=%s", r.DiagPath)
	}
	b.WriteString("\n")

	if r.Verdict == Fail {
		if r.Reason == ReasonUpstreamTool && r.Detail != "" {
			b.WriteString(indent(r.Detail))
		}
		if r.OutputDiff != "" {
			b.WriteString("  ↳ stdout diff:\n")
			b.WriteString(indent(r.OutputDiff))
		}
		if r.ReturnDiff != "" {
			fmt.Fprintf(&b, "  ↳ return value: %s\n", r.ReturnDiff)
		}
	}
	if r.Verdict == OK && r.Timed() {
		fmt.Fprintf(&b, "TIME %s %s our=%.3fs ref=%.3fs ratio=%.2fx\n",
			mode, r.Case, float64(r.OurMicros)/1e6, float64(r.RefMicros)/1e6, r.Ratio())
	}
	return b.String()
}

// Finish writes the passed/skipped/failed lists and the summary line.
func (w *Writer) Finish(records []Record, s Summary, mode string) error {
	var b strings.Builder
	b.WriteString("\n")
	for _, v := range []Verdict{OK, Skip, Fail} {
		var names []string
		for _, r := range records {
			if r.Verdict == v {
				names = append(names, r.Case)
			}
		}
		if len(names) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s cases (%d):\n", v, len(names))
		for _, n := range names {
			fmt.Fprintf(&b, "  %s\n", n)
		}
	}
	if line := AverageLine(s, mode); line != "" {
		b.WriteString(line + "\n")
	}
	b.WriteString(SummaryLine(s) + "\n")
	return w.write(b.String())
}

// SummaryLine renders verdict counts.
func SummaryLine(s Summary) string {
	return fmt.Sprintf("=== OK:%d  SKIP:%d  FAIL:%d  TOTAL:%d ===", s.OK, s.Skip, s.Fail, s.Total)
}

// AverageLine renders the corpus timing figure, or "" without timing data.
func AverageLine(s Summary, mode string) string {
	if s.Timed == 0 {
		return ""
	}
	return fmt.Sprintf("AVG %s our=%.3fs ref=%.3fs ratio≈%.2fx over %d cases",
		mode, s.MeanOurMicros/1e6, s.MeanRefMicros/1e6, s.Ratio, s.Timed)
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *Writer) write(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return os.ErrClosed
	}
	_, err := w.f.WriteString(s)
	return err
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

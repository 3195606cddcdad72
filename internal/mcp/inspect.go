package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/crosscheck/internal/report"
	"github.com/deixis/crosscheck/internal/timing"
)

type inspectParams struct {
	RunID string `json:"run_id" jsonschema:"the run ID from an xc_run result, or latest"`
	Case  string `json:"case,omitempty" jsonschema:"case path relative to the resource root (e.g. functional/00_main.sy) or a bare file name. Omit to list every case that did not pass."`
}

type latestStore interface {
	Latest() (string, error)
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	runID := params.RunID
	if runID == "" {
		return errorResult("run_id is required")
	}
	if runID == "latest" {
		ls, ok := h.store.(latestStore)
		if !ok {
			return errorResult("this server cannot resolve the latest run; pass an explicit run_id")
		}
		id, err := ls.Latest()
		if err != nil {
			return errorResult(fmt.Sprintf("Failed to find the latest run: %v", err))
		}
		runID = id
	}

	result, err := h.store.Load(runID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", runID, err))
	}

	if params.Case == "" {
		return textResult(formatNonPassing(result))
	}
	rec, err := report.ByCase(result, params.Case)
	if err != nil {
		return errorResult(err.Error())
	}
	return textResult(formatRecord(result, rec))
}

func formatNonPassing(rr *report.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n", rr.ID, rr.Mode)
	fmt.Fprintln(&b, report.SummaryLine(rr.Summary))
	fmt.Fprintln(&b)

	n := 0
	for _, r := range rr.Records {
		if r.Verdict == report.OK {
			continue
		}
		n++
		fmt.Fprintf(&b, "%-4s %s", r.Verdict, r.Case)
		if r.Reason != "" {
			fmt.Fprintf(&b, " (%s)", r.Reason)
		}
		fmt.Fprintln(&b)
	}
	if n == 0 {
		fmt.Fprintln(&b, "Every case passed.")
	}
	return b.String()
}

func formatRecord(rr *report.RunResult, r report.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s (%s)\n", rr.ID, rr.Mode)
	fmt.Fprintf(&b, "%s: %s\n", r.Case, r.Label())
	if r.Dir != "" {
		fmt.Fprintf(&b, "Directory: %s\n", r.Dir)
	}
	if r.DiagPath != "" {
		fmt.Fprintf(&b, "Diagnostics: %s\n", r.DiagPath)
	}
	if r.RefMicros > 0 || r.OurMicros > 0 {
		fmt.Fprintf(&b, "Time: our=%s ref=%s", timing.Format(r.OurMicros), timing.Format(r.RefMicros))
		if r.Timed() {
			fmt.Fprintf(&b, " ratio=%.2fx", r.Ratio())
		}
		fmt.Fprintln(&b)
	}

	if r.Detail != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Detail:")
		writeIndented(&b, r.Detail)
	}
	if r.OutputDiff != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Output diff (ref -> our):")
		writeIndented(&b, r.OutputDiff)
	}
	if r.ReturnDiff != "" {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Return value: %s\n", r.ReturnDiff)
	}
	return b.String()
}

func writeIndented(b *strings.Builder, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(b, "    %s\n", line)
	}
}

package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/crosscheck/internal/history"
	"github.com/deixis/crosscheck/internal/timing"
)

type historyParams struct {
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of rows. Default: 20."`
	Case  string `json:"case,omitempty" jsonschema:"case path relative to the resource root; shows its verdict across runs"`
}

func (h *handler) historyHandler(ctx context.Context, req *mcp.CallToolRequest, params historyParams) (*mcp.CallToolResult, any, error) {
	if h.history == nil {
		return errorResult("run history is disabled")
	}
	if params.Case != "" {
		trail, err := h.history.CaseTrail(ctx, params.Case, params.Limit)
		if err != nil {
			return errorResult(fmt.Sprintf("Failed to query history: %v", err))
		}
		return textResult(FormatTrail(params.Case, trail))
	}
	runs, err := h.history.Runs(ctx, params.Limit)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to query history: %v", err))
	}
	return textResult(FormatRuns(runs))
}

// FormatRuns renders runs as a table, newest first.
func FormatRuns(runs []history.Run) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-26s %-19s %-7s %5s %5s %5s %7s\n", "RUN", "STARTED", "MODE", "OK", "SKIP", "FAIL", "RATIO")
	for _, r := range runs {
		ratio := "-"
		if r.Ratio > 0 {
			ratio = fmt.Sprintf("%.2fx", r.Ratio)
		}
		fmt.Fprintf(&b, "%-26s %-19s %-7s %5d %5d %5d %7s\n",
			r.ID, r.Started.Format("2006-01-02 15:04:05"), r.Mode, r.OK, r.Skip, r.Fail, ratio)
	}
	return b.String()
}

// FormatTrail renders the verdicts of one case, newest first.
func FormatTrail(rel string, trail []history.CaseEntry) string {
	if len(trail) == 0 {
		return fmt.Sprintf("No history for %s.\n", rel)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", rel)
	for _, e := range trail {
		fmt.Fprintf(&b, "  %s  %-26s %-4s", e.Started.Format("2006-01-02 15:04:05"), e.RunID, e.Verdict)
		if e.Reason != "" {
			fmt.Fprintf(&b, " (%s)", e.Reason)
		}
		if e.RefMicros > 0 && e.OurMicros > 0 {
			fmt.Fprintf(&b, "  our=%s ref=%s", timing.Format(e.OurMicros), timing.Format(e.RefMicros))
		}
		fmt.Fprintln(&b)
	}
	return b.String()
}

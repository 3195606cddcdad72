package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/deixis/crosscheck/internal/config"
	"github.com/deixis/crosscheck/internal/pipeline"
	"github.com/deixis/crosscheck/internal/report"
	"github.com/deixis/crosscheck/internal/workflow"
)

type runParams struct {
	Suites    []string `json:"suites,omitempty" jsonschema:"suite directories under the resource root (e.g. functional, performance). Defaults to the configured suites."`
	File      string   `json:"file,omitempty" jsonschema:"a single .sy case, absolute or relative to the resource root. Overrides suites."`
	Mode      string   `json:"mode,omitempty" jsonschema:"interpreter, cross or native. Defaults to the configured mode."`
	SkipBuild bool     `json:"skip_build,omitempty" jsonschema:"do not rebuild the compiler jars before running"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if !h.running.TryLock() {
		return errorResult("a run is already in progress; wait for it to finish")
	}
	defer h.running.Unlock()

	h.mu.Lock()
	engine := *h.engine
	h.mu.Unlock()
	if params.Mode != "" {
		if !config.Mode(params.Mode).Valid() {
			return errorResult(fmt.Sprintf("unknown mode %q (want interpreter, cross or native)", params.Mode))
		}
		c := *engine.Config
		c.RawMode = params.Mode
		engine.Config = &c
	}

	result, err := engine.Run(ctx, workflow.Options{
		Suites:    params.Suites,
		File:      params.File,
		SkipBuild: params.SkipBuild,
	})
	if err != nil && !errors.Is(err, pipeline.ErrAborted) {
		return errorResult(fmt.Sprintf("run failed: %v", err))
	}

	if result == nil {
		return errorResult("run produced no result")
	}
	// Cache for xc_inspect.
	if serr := h.store.Save(result); serr != nil {
		h.log.Warn("caching run result", zap.String("run", result.ID), zap.Error(serr))
	}

	return textResult(formatRun(result, errors.Is(err, pipeline.ErrAborted)))
}

func formatRun(rr *report.RunResult, aborted bool) string {
	var b strings.Builder

	switch {
	case aborted:
		fmt.Fprintln(&b, "Status: ABORTED")
	case rr.Summary.Fail > 0:
		fmt.Fprintln(&b, "Status: FAIL")
	default:
		fmt.Fprintln(&b, "Status: PASS")
	}
	fmt.Fprintf(&b, "Run: %s\n", rr.ID)
	fmt.Fprintf(&b, "Mode: %s\n", rr.Mode)
	fmt.Fprintln(&b, report.SummaryLine(rr.Summary))
	if line := report.AverageLine(rr.Summary, rr.Mode); line != "" {
		fmt.Fprintln(&b, line)
	}
	fmt.Fprintln(&b)

	if fails := report.ByVerdict(rr, report.Fail); len(fails) > 0 {
		fmt.Fprintln(&b, "Failures:")
		for _, r := range fails {
			fmt.Fprintf(&b, "  %s (%s)\n", r.Case, r.Reason)
		}
		fmt.Fprintln(&b)
	}
	if skips := report.ByVerdict(rr, report.Skip); len(skips) > 0 {
		fmt.Fprintln(&b, "Skipped:")
		for _, r := range skips {
			fmt.Fprintf(&b, "  %s (%s)\n", r.Case, r.Reason)
		}
		fmt.Fprintln(&b)
	}

	fmt.Fprintf(&b, "Report: %s\n", rr.Report)
	if rr.Summary.Fail > 0 || rr.Summary.Skip > 0 {
		fmt.Fprintf(&b, "Inspect with xc_inspect(run_id=%q, case=\"<relative path>\").\n", rr.ID)
	}
	return b.String()
}

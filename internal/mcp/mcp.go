// Package mcp provides the crosscheck MCP server, registering the run,
// inspect, history and workspace tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/deixis/crosscheck"
	"github.com/deixis/crosscheck/internal/config"
	"github.com/deixis/crosscheck/internal/history"
	"github.com/deixis/crosscheck/internal/report"
	"github.com/deixis/crosscheck/internal/workflow"
)

//go:embed instructions.md
var Instructions string

// HistoryReader is the read side of the run history.
// Implemented by history.Store.
type HistoryReader interface {
	Runs(ctx context.Context, limit int) ([]history.Run, error)
	CaseTrail(ctx context.Context, rel string, limit int) ([]history.CaseEntry, error)
}

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu      sync.Mutex // guards engine.Config
	running sync.Mutex // one run at a time
	engine  *workflow.Engine
	store   report.Store
	history HistoryReader // nil when history is disabled
	log     *zap.Logger
}

// NewServer creates an MCP server with all crosscheck tools registered.
// hist may be nil.
func NewServer(engine *workflow.Engine, store report.Store, hist HistoryReader) *mcp.Server {
	h := &handler{
		engine:  engine,
		store:   store,
		history: hist,
		log:     engine.Log,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}

	opts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "crosscheck", Version: crosscheck.Version}, opts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "xc_workspace",
		Description: "Summarise the compiler project: root, mode, suites with case counts, resolved tools and pre-flight status.",
	}, h.workspaceHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "xc_run",
		Description: `Run the differential test over the corpus, or over a single case.

Both the reference and the under-test compiler build every case; the outputs are
normalized and compared. Returns OK/SKIP/FAIL counts, the failing cases and the
speed ratio. Results are stored for drill-down via xc_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "xc_inspect",
		Description: `Drill into results from an xc_run.

Without a case, lists every case that did not pass. With a case (relative path such as
functional/00_main.sy, or a bare file name when unambiguous), shows its verdict, output
diff, return-value diff, timings and working directory. run_id may be "latest".`,
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "xc_history",
		Description: "List recent runs, or the verdict trail of one case across runs.",
	}, h.historyHandler)

	return s
}

// config returns the current configuration.
func (h *handler) config() *config.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.Config
}

// updateWorkspaceFromRoots queries the client for MCP roots and reloads
// the configuration from the first file root.
// This is called during session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}
	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}
	loaded, err := config.Load(u.Path)
	if err != nil {
		h.log.Warn("loading config from client root", zap.String("root", u.Path), zap.Error(err))
		return
	}

	h.mu.Lock()
	h.engine.Config = loaded.Config
	h.mu.Unlock()
	h.log.Info("workspace updated from client root", zap.String("root", loaded.Root))
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}

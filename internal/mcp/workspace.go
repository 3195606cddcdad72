package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/crosscheck/internal/corpus"
)

type workspaceParams struct{}

func (h *handler) workspaceHandler(ctx context.Context, req *mcp.CallToolRequest, _ workspaceParams) (*mcp.CallToolResult, any, error) {
	cfg := h.config()
	var b strings.Builder

	fmt.Fprintf(&b, "Project: %s\n", cfg.Root)
	fmt.Fprintf(&b, "Mode: %s\n", cfg.Mode())
	fmt.Fprintf(&b, "Resources: %s\n", cfg.ResourceRoot())
	fmt.Fprintf(&b, "Output: %s\n", cfg.OutRoot())
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Suites:")
	for _, suite := range cfg.SuiteDirs() {
		dir := filepath.Join(cfg.ResourceRoot(), suite)
		if _, err := os.Stat(dir); err != nil {
			fmt.Fprintf(&b, "  %s: missing\n", suite)
			continue
		}
		cases, err := corpus.Discover(corpus.Selection{Root: cfg.ResourceRoot(), Suites: []string{suite}})
		if err != nil {
			fmt.Fprintf(&b, "  %s: error (%v)\n", suite, err)
			continue
		}
		fmt.Fprintf(&b, "  %s: %d cases\n", suite, len(cases))
	}
	fmt.Fprintln(&b)

	tools := cfg.ResolveTools()
	fmt.Fprintln(&b, "Tools:")
	for _, t := range [][2]string{
		{"java", tools.Java},
		{"clang", tools.Clang},
		{"llvm-link", tools.LLVMLink},
		{"lli", tools.LLI},
		{"aarch64 cc", tools.AArch64CC},
		{"qemu-aarch64", tools.QEMUAArch64},
		{"arm cc", tools.ARMCC},
		{"qemu-arm", tools.QEMUARM},
	} {
		fmt.Fprintf(&b, "  %-13s %s\n", t[0], t[1])
	}
	fmt.Fprintln(&b)

	if err := corpus.Check(corpus.RequirementsFor(cfg)); err != nil {
		fmt.Fprintln(&b, "Pre-flight: FAIL")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	} else {
		fmt.Fprintln(&b, "Pre-flight: ok")
	}
	return textResult(b.String())
}

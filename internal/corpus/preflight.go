package corpus

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deixis/crosscheck/internal/config"
)

// toolInfo holds install metadata for a known tool.
type toolInfo struct {
	Package string // Debian/Ubuntu package providing the tool
	Env     string // environment variable overriding the tool path
}

// knownTools maps default tool names to their install metadata.
var knownTools = map[string]toolInfo{
	"java":                    {Package: "openjdk-17-jdk-headless"},
	"clang":                   {Package: "clang", Env: "CLANG"},
	"llvm-link":               {Package: "llvm", Env: "LLVMLINK"},
	"lli":                     {Package: "llvm", Env: "LLI"},
	"aarch64-linux-gnu-gcc":   {Package: "gcc-aarch64-linux-gnu", Env: "AARCH64_CC"},
	"arm-linux-gnueabihf-gcc": {Package: "gcc-arm-linux-gnueabihf", Env: "ARM_CC"},
	"qemu-aarch64":            {Package: "qemu-user", Env: "QEMU_A64"},
	"qemu-arm":                {Package: "qemu-user", Env: "QEMU_ARM"},
	"bash":                    {Package: "bash"},
}

// ErrToolUnavailable is returned when a required tool is not installed.
// It includes actionable install instructions when the tool is known.
type ErrToolUnavailable struct {
	Name string
	Info *toolInfo
}

// NewErrToolUnavailable builds the error for name, attaching install
// metadata when the tool is known.
func NewErrToolUnavailable(name string) ErrToolUnavailable {
	e := ErrToolUnavailable{Name: name}
	if info, ok := knownTools[name]; ok {
		e.Info = &info
	}
	return e
}

func (e ErrToolUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required but not installed.", e.Name)

	if e.Info == nil {
		return b.String()
	}
	if e.Info.Package != "" {
		fmt.Fprintf(&b, "\nInstall: apt-get install %s", e.Info.Package)
	}
	if e.Info.Env != "" {
		fmt.Fprintf(&b, "\nOr point %s at an existing binary.", e.Info.Env)
	}
	return b.String()
}

// ErrMissingPath is returned when a required file or directory is absent.
type ErrMissingPath struct {
	What string
	Path string
}

func (e ErrMissingPath) Error() string {
	return fmt.Sprintf("%s not found: %s", e.What, e.Path)
}

// Requirements lists what a run needs before its first case.
type Requirements struct {
	Tools []string          // names or paths resolved through PATH
	Paths map[string]string // description -> path that must exist
}

// Check verifies every requirement and joins all failures, so a single
// pre-flight run reports everything that is missing.
func Check(req Requirements) error {
	var errs []error
	seen := map[string]bool{}
	for _, tool := range req.Tools {
		if tool == "" || seen[tool] {
			continue
		}
		seen[tool] = true
		if _, err := exec.LookPath(tool); err != nil {
			errs = append(errs, NewErrToolUnavailable(tool))
		}
	}
	whats := make([]string, 0, len(req.Paths))
	for what := range req.Paths {
		whats = append(whats, what)
	}
	sort.Strings(whats)
	for _, what := range whats {
		if _, err := os.Stat(req.Paths[what]); err != nil {
			errs = append(errs, ErrMissingPath{What: what, Path: req.Paths[what]})
		}
	}
	return errors.Join(errs...)
}

// RequirementsFor returns the tools and paths the configured mode needs.
// Runtime sources are only required when the prebuilt runtime is absent.
func RequirementsFor(cfg *config.Config) Requirements {
	tools := cfg.ResolveTools()
	rt := cfg.RuntimeDir()
	req := Requirements{
		Tools: []string{tools.Java},
		Paths: map[string]string{},
	}
	needRuntime := func(prebuilt string) {
		if !exists(prebuilt) {
			req.Paths["runtime source"] = filepath.Join(rt, "sylib.c")
		}
	}

	switch cfg.Mode() {
	case config.Interpreter:
		req.Tools = append(req.Tools, tools.LLVMLink, tools.LLI)
		if cfg.UnlimitedStack() {
			req.Tools = append(req.Tools, "sh")
		}
		if bc := filepath.Join(rt, "x86-64", "sylib.bc"); !exists(bc) {
			req.Tools = append(req.Tools, tools.Clang)
			needRuntime(bc)
		}
		req.Paths["reference project"] = cfg.ReferenceRoot()
	case config.Cross:
		req.Tools = append(req.Tools, tools.AArch64CC, tools.QEMUAArch64, tools.ARMCC, tools.QEMUARM)
		needRuntime(filepath.Join(rt, "aarch64", "libsysy.a"))
		needRuntime(filepath.Join(rt, "armv7", "libsysy.a"))
		req.Paths["reference project"] = cfg.ReferenceRoot()
	case config.Native:
		req.Tools = append(req.Tools, tools.Clang, tools.AArch64CC, tools.QEMUAArch64)
		needRuntime(filepath.Join(rt, "x86-64", "libsysy.a"))
		needRuntime(filepath.Join(rt, "aarch64", "libsysy.a"))
		req.Paths["runtime header"] = filepath.Join(rt, "sylib.h")
	}
	return req
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

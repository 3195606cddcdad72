package substrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/deixis/crosscheck/internal/runner"
	"github.com/deixis/crosscheck/internal/toolchain"
)

// stackWrapper lifts the stack limit before exec'ing the interpreter;
// deeply recursive cases overflow the default 8 MB otherwise.
var stackWrapper = []string{"sh", "-c", `ulimit -s unlimited 2>/dev/null; exec "$0" "$@"`}

// Interpreter links LLVM IR with the runtime bitcode and runs it under lli.
type Interpreter struct {
	Runner         toolchain.CommandRunner
	LLVMLink       string
	LLI            string
	Clang          string // builds RuntimeBitcode from RuntimeSource when missing
	RuntimeBitcode string
	RuntimeSource  string
	UnlimitedStack bool
	LinkTimeout    time.Duration

	once    sync.Once
	prepErr error
}

func (s *Interpreter) Name() string { return "lli" }

// Prepare builds the runtime bitcode once per run when it is missing.
func (s *Interpreter) Prepare(ctx context.Context) error {
	s.once.Do(func() {
		if _, err := os.Stat(s.RuntimeBitcode); err == nil {
			return
		}
		if err := os.MkdirAll(filepath.Dir(s.RuntimeBitcode), 0o755); err != nil {
			s.prepErr = fmt.Errorf("creating runtime dir: %w", err)
			return
		}
		_, s.prepErr = toolchain.Invoke(ctx, s.Runner, toolchain.Reference, "runtime-bitcode", runner.Invocation{
			Argv:    []string{s.Clang, "-O2", "-c", "-emit-llvm", s.RuntimeSource, "-o", s.RuntimeBitcode},
			Dir:     filepath.Dir(s.RuntimeBitcode),
			Timeout: s.LinkTimeout,
		})
	})
	return s.prepErr
}

func (s *Interpreter) Execute(ctx context.Context, req Request) (Outcome, error) {
	ir, err := artifact(req, toolchain.Intermediate)
	if err != nil {
		return nil, err
	}
	if err := s.Prepare(ctx); err != nil {
		return nil, err
	}

	side := string(req.Side)
	linked := filepath.Join(req.Dir, side+".link.bc")
	diagPath := filepath.Join(req.Dir, side+".link.err")
	_ = os.Remove(linked)
	_ = os.Remove(diagPath)

	argv := []string{s.LLVMLink, ir.Path, s.RuntimeBitcode, "-o", linked}
	res, err := s.Runner.Run(ctx, runner.Invocation{Argv: argv, Dir: req.Dir, Timeout: s.LinkTimeout})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &toolchain.ToolError{Side: req.Side, Stage: "llvm-link", Argv: argv, Err: err}
	}
	if res.TimedOut {
		// A hung link counts as a timed-out run of this side.
		return Executed{Output: res.Output, Wall: res.Wall, Truncated: res.Truncated}, nil
	}
	if res.ExitCode != 0 || !fileExists(linked) {
		diag := string(res.Output)
		if err := os.WriteFile(diagPath, res.Output, 0o644); err != nil {
			return nil, fmt.Errorf("writing link diagnostics: %w", err)
		}
		return LinkRejected{
			Side:        req.Side,
			Reason:      ClassifyLink(diag),
			Diagnostics: diag,
			DiagPath:    diagPath,
		}, nil
	}

	cmd := []string{s.LLI, linked}
	if s.UnlimitedStack {
		cmd = append(append([]string{}, stackWrapper...), cmd...)
	}
	return run(ctx, s.Runner, req, cmd)
}

// ClassifyLink gives a human-readable category for llvm-link diagnostics.
func ClassifyLink(diag string) string {
	switch {
	case strings.Contains(diag, "does not dominate") || strings.Contains(diag, "dominate all uses"):
		return "invalid IR: dominance"
	case strings.Contains(diag, "Broken function") || strings.Contains(diag, "verify"):
		return "invalid IR: verification failed"
	default:
		return "invalid IR (llvm-link failed)"
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

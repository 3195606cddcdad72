// Package substrate executes compiled artifacts: directly on the host,
// under the LLVM interpreter, or under a user-mode instruction-set emulator.
package substrate

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/deixis/crosscheck/internal/runner"
	"github.com/deixis/crosscheck/internal/toolchain"
)

// Request describes one execution.
type Request struct {
	Side      toolchain.Side
	Label     string // case identifier used in side files, e.g. functional/00_main.sy
	Artifacts []toolchain.Artifact
	Stdin     string
	Dir       string
	Timeout   time.Duration
}

// Outcome is either Executed or LinkRejected.
type Outcome interface{ isOutcome() }

// Executed is the result of running a program to completion or to its deadline.
type Executed struct {
	ExitCode  *int // nil when the run timed out
	Output    []byte
	Wall      time.Duration
	Truncated bool
}

// TimedOut reports whether the run was killed at its deadline.
func (e Executed) TimedOut() bool { return e.ExitCode == nil }

// LinkRejected reports that the linker refused an intermediate form. The
// artifact is unverifiable rather than wrong. Reason is a best-effort
// reading of the diagnostics and is meant for humans only.
type LinkRejected struct {
	Side        toolchain.Side
	Reason      string
	Diagnostics string
	DiagPath    string // side file holding Diagnostics
}

func (Executed) isOutcome()     {}
func (LinkRejected) isOutcome() {}

// Substrate runs artifacts of one kind.
type Substrate interface {
	Name() string
	Execute(ctx context.Context, req Request) (Outcome, error)
}

// Preparer is implemented by substrates with one-time setup per run.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// run executes argv as the program under observation. Timeouts and
// non-zero exits are outcomes; only start failures are errors.
func run(ctx context.Context, r toolchain.CommandRunner, req Request, argv []string) (Outcome, error) {
	res, err := r.Run(ctx, runner.Invocation{
		Argv:    argv,
		Dir:     req.Dir,
		Stdin:   req.Stdin,
		Timeout: req.Timeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &toolchain.ToolError{Side: req.Side, Stage: "execute", Argv: argv, Err: err}
	}
	out := Executed{Output: res.Output, Wall: res.Wall, Truncated: res.Truncated}
	if !res.TimedOut {
		code := res.ExitCode
		out.ExitCode = &code
	}
	return out, nil
}

func artifact(req Request, kind toolchain.Kind) (toolchain.Artifact, error) {
	a, ok := toolchain.Find(req.Artifacts, kind)
	if !ok {
		return a, &toolchain.ToolError{Side: req.Side, Stage: "execute", Err: fmt.Errorf("no %s artifact", kind)}
	}
	return a, nil
}

// DiagLog appends tool diagnostics for many cases to one side file.
// It is safe for concurrent use.
type DiagLog struct {
	Path string
	mu   sync.Mutex
}

// Append writes a `=== header ===` block followed by body.
func (l *DiagLog) Append(header, body string) error {
	if l == nil || l.Path == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "=== %s ===\n%s\n", header, body)
	return err
}

// Direct runs a host executable.
type Direct struct {
	Runner toolchain.CommandRunner
}

func (d *Direct) Name() string { return "direct" }

func (d *Direct) Execute(ctx context.Context, req Request) (Outcome, error) {
	exe, err := artifact(req, toolchain.Executable)
	if err != nil {
		return nil, err
	}
	return run(ctx, d.Runner, req, []string{exe.Path})
}

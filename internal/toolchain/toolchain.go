// Package toolchain drives the compilers that turn a case into runnable
// artifacts: the trusted reference pipeline and the compiler under test.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/deixis/crosscheck/internal/corpus"
	"github.com/deixis/crosscheck/internal/runner"
)

// Side identifies which pipeline produced an artifact or result.
type Side string

const (
	Reference Side = "ref"
	UnderTest Side = "our"
)

// Kind classifies an artifact.
type Kind string

const (
	Intermediate Kind = "intermediate" // LLVM IR text
	Assembly     Kind = "assembly"
	Executable   Kind = "executable"
)

// Artifact is a file produced by exactly one Generate call.
type Artifact struct {
	Side Side
	Kind Kind
	ISA  string // target instruction set; empty for intermediate form
	Path string
}

// Find returns the first artifact of kind k.
func Find(arts []Artifact, k Kind) (Artifact, bool) {
	for _, a := range arts {
		if a.Kind == k {
			return a, true
		}
	}
	return Artifact{}, false
}

// CommandRunner executes commands.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, inv runner.Invocation) (*runner.Result, error)
}

// Generator compiles a case into runnable artifacts.
type Generator interface {
	Side() Side
	Generate(ctx context.Context, c *corpus.Case) ([]Artifact, error)
}

// ToolError reports an external tool that failed for reasons unrelated to
// the behavior of the program under test.
type ToolError struct {
	Side     Side
	Stage    string // e.g. "compile", "emit-asm", "cross-link"
	Argv     []string
	ExitCode int
	TimedOut bool
	Output   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Side, e.Stage)
	switch {
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	case e.TimedOut:
		b.WriteString(": timed out")
	default:
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if len(e.Argv) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Argv, " "))
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\n%s", tail(out, 40))
	}
	return b.String()
}

func (e *ToolError) Unwrap() error { return e.Err }

// IsToolError reports whether err carries a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

// Invoke runs inv and converts anything but a clean exit into a *ToolError.
// Context cancellation is returned unchanged.
func Invoke(ctx context.Context, r CommandRunner, side Side, stage string, inv runner.Invocation) (*runner.Result, error) {
	res, err := r.Run(ctx, inv)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ToolError{Side: side, Stage: stage, Argv: inv.Argv, Err: err}
	}
	if !res.Succeeded() {
		return res, &ToolError{
			Side:     side,
			Stage:    stage,
			Argv:     inv.Argv,
			ExitCode: res.ExitCode,
			TimedOut: res.TimedOut,
			Output:   string(res.Output),
		}
	}
	return res, nil
}

// tail keeps the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return "...\n" + strings.Join(lines[len(lines)-n:], "\n")
}

// removeFiles deletes paths, ignoring those that do not exist.
func removeFiles(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Options carries settings shared by every generator.
type Options struct {
	Runner  CommandRunner
	Timeout time.Duration
}

// Package runner executes external tools and programs under test with
// workspace bounds, process-group timeouts, and output size limits.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrEmptyArgv is returned when an Invocation has no command.
var ErrEmptyArgv = errors.New("empty argv")

// Invocation describes a single subprocess.
type Invocation struct {
	Argv    []string
	Dir     string        // resolved against the workspace; must stay inside it
	Stdin   string        // path of a file fed to stdin; empty means no input
	Timeout time.Duration // zero uses the runner default
	Env     []string      // appended to the inherited environment
}

// Runner executes commands within a workspace boundary.
type Runner struct {
	Workspace string
	Timeout   time.Duration
	MaxOutput int // bytes
}

// Run executes inv and returns its combined stdout and stderr.
//
// The child is started in its own process group. When the timeout or ctx
// fires the whole group receives SIGKILL, so grandchildren such as an
// emulated program or an interpreter spawned by a shell wrapper die too.
// A timeout is not an error: the Result has TimedOut set. A non-zero exit
// is not an error either. Errors are reserved for commands that could not
// be started at all.
func (r *Runner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if len(inv.Argv) == 0 {
		return nil, ErrEmptyArgv
	}

	dir, err := r.resolveDir(inv.Dir)
	if err != nil {
		return nil, err
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = r.Timeout
	}
	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = 16 << 20
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	runID := uuid.New().String()

	cmd := exec.CommandContext(runCtx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = time.Second

	if inv.Stdin != "" {
		f, err := os.Open(inv.Stdin)
		if err != nil {
			return nil, fmt.Errorf("opening stdin: %w", err)
		}
		defer f.Close()
		cmd.Stdin = f
	}

	var out bytes.Buffer
	lw := &limitWriter{buf: &out, limit: maxOutput}
	cmd.Stdout = lw
	cmd.Stderr = lw

	start := time.Now()
	runErr := cmd.Run()
	wall := time.Since(start)

	res := &Result{
		RunID:     runID,
		Output:    out.Bytes(),
		Wall:      wall,
		Truncated: lw.dropped,
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Binary not found or other exec error.
			return nil, fmt.Errorf("executing %s: %w", inv.Argv[0], runErr)
		}
		res.ExitCode = exitCode(exitErr)
	}
	return res, nil
}

// exitCode maps a signalled child to 128+signal, the shell convention the
// return-code marker is compared against.
func exitCode(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if pgid, err := unix.Getpgid(pid); err == nil && pgid > 0 {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// resolveDir resolves cwd relative to the workspace and validates it
// is within the workspace boundary.
func (r *Runner) resolveDir(cwd string) (string, error) {
	if cwd == "" {
		return r.Workspace, nil
	}
	if r.Workspace == "" {
		return filepath.Clean(cwd), nil
	}

	var dir string
	if filepath.IsAbs(cwd) {
		dir = filepath.Clean(cwd)
	} else {
		dir = filepath.Clean(filepath.Join(r.Workspace, cwd))
	}

	rel, err := filepath.Rel(r.Workspace, dir)
	if err != nil {
		return "", fmt.Errorf("resolving cwd: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd %q is outside workspace %q", cwd, r.Workspace)
	}
	return dir, nil
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf     *bytes.Buffer
	limit   int
	dropped bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.dropped = w.dropped || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		// Report all bytes as consumed to avoid short write errors.
		w.buf.Write(p[:remaining])
		w.dropped = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

package runner

import "time"

// Result holds the outcome of a command execution.
type Result struct {
	RunID     string        // unique identifier for this run
	ExitCode  int           // process exit code; -1 when TimedOut
	TimedOut  bool          // true if the process group was killed at the deadline
	Output    []byte        // combined stdout and stderr (may be truncated)
	Wall      time.Duration // measured wall-clock time
	Truncated bool          // true if output exceeded the size cap
}

// Succeeded reports whether the command ran to completion with exit code 0.
func (r *Result) Succeeded() bool {
	return r != nil && !r.TimedOut && r.ExitCode == 0
}

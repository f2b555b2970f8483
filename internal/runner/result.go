package runner

import (
	"syscall"
	"time"
)

// StopReason records which controller ended a run early.
type StopReason string

const (
	StopNone     StopReason = ""         // the process exited on its own
	StopDeadline StopReason = "deadline" // the timeout elapsed
	StopCanceled StopReason = "canceled" // the caller's context was cancelled
)

// Result holds the outcome of one agent process run.
type Result struct {
	RunID     string         // unique identifier for this run
	PID       int            // process ID of the child
	ExitCode  int            // process exit code; -1 when killed by a signal
	Signal    syscall.Signal // terminating signal, 0 on a normal exit
	Output    []byte         // accumulated stdout (may be truncated)
	Truncated bool           // true if stdout exceeded the size cap
	Stopped   StopReason     // set when the run was terminated by this package
	Duration  time.Duration  // wall-clock time from start to exit
}

// Signaled reports whether the process was terminated by a signal.
func (r *Result) Signaled() bool {
	return r.Signal != 0
}

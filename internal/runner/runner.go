// Package runner launches the external agent process, relays its output
// live while keeping a copy, and bounds its run time.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Defaults used when the corresponding Runner field is zero.
const (
	DefaultMaxOutput = 4 << 20
	DefaultKillGrace = 5 * time.Second
)

// Runner executes one agent process per Run call.
type Runner struct {
	Stdin     *os.File      // inherited by the child; nil attaches the null device
	Stdout    io.Writer     // receives child stdout as it arrives; nil discards
	Stderr    io.Writer     // receives child stderr as it arrives; nil discards
	MaxOutput int           // bytes of stdout kept for validation
	KillGrace time.Duration // wait between SIGTERM and SIGKILL
	Logger    *slog.Logger
}

// StartError is returned when the agent binary cannot be launched.
type StartError struct {
	Binary string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Binary, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// NotFound reports whether the binary does not exist or is not on PATH.
func (e *StartError) NotFound() bool {
	return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, fs.ErrNotExist)
}

// Run starts argv[0] with the remaining arguments and waits for it to exit.
// The first element is the binary name (resolved via PATH).
//
// Stdout is forwarded to r.Stdout and accumulated into Result.Output;
// stderr is forwarded to r.Stderr only. Forwarding never blocks the child:
// a stalled r.Stdout delays only what the user sees. When timeout elapses,
// or ctx is cancelled, the child receives SIGTERM, relaying stops and,
// after KillGrace, the child receives SIGKILL. Result.Stopped records which
// of the two happened.
//
// A launch failure is returned as *StartError. Run never retries.
func (r *Runner) Run(ctx context.Context, argv []string, timeout time.Duration) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", timeout)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	grace := r.killGrace()

	var stdout bytes.Buffer
	outRelay := newRelay(r.Stdout, &stdout, r.maxOutput())
	errRelay := newRelay(r.Stderr, nil, 0)

	cmd := exec.Command(argv[0], argv[1:]...)
	if r.Stdin != nil {
		cmd.Stdin = r.Stdin
	}
	cmd.Stdout = outRelay
	cmd.Stderr = errRelay
	// Bounds pipe draining when a grandchild keeps stdout open.
	cmd.WaitDelay = grace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &StartError{Binary: argv[0], Err: err}
	}

	log := r.logger().With("run_id", runID, "pid", cmd.Process.Pid)
	log.Debug("agent started", "binary", argv[0], "timeout", timeout)

	term := &terminator{
		grace: grace,
		stop: func() {
			outRelay.Close()
			errRelay.Close()
		},
		signal: func() error { return cmd.Process.Signal(syscall.SIGTERM) },
		kill:   func() error { return ignoreDone(cmd.Process.Kill()) },
		onError: func(op string, err error) {
			log.Warn("terminating agent", "op", op, "err", err)
		},
	}
	dl := armDeadline(timeout, func() {
		if term.Request(StopDeadline) {
			log.Debug("deadline elapsed, termination requested")
		}
	})

	type waitResult struct {
		err     error
		stopped StopReason
	}
	waitc := make(chan waitResult, 1)
	go func() {
		err := cmd.Wait()
		waitc <- waitResult{err: err, stopped: term.Exited()}
	}()

	var wr waitResult
	select {
	case wr = <-waitc:
	case <-ctx.Done():
		if term.Request(StopCanceled) {
			log.Debug("context cancelled, termination requested", "err", ctx.Err())
		}
		wr = <-waitc
	}
	dl.Stop()

	if wr.stopped == StopNone {
		outRelay.Finish(ctx)
		errRelay.Finish(ctx)
	}
	output, truncated := outRelay.Snapshot()
	errRelay.Close()

	res := &Result{
		RunID:     runID,
		PID:       cmd.Process.Pid,
		Output:    output,
		Truncated: truncated,
		Stopped:   wr.stopped,
		Duration:  time.Since(start),
	}

	ps := cmd.ProcessState
	if ps == nil {
		return nil, fmt.Errorf("waiting for %s: %w", argv[0], wr.err)
	}
	res.ExitCode = ps.ExitCode()
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		res.Signal = ws.Signal()
	}

	var exitErr *exec.ExitError
	if wr.err != nil && !errors.As(wr.err, &exitErr) {
		// Typically exec.ErrWaitDelay: the process exited but its pipes
		// stayed open past the grace period.
		log.Debug("agent output incomplete", "err", wr.err)
	}

	log.Debug("agent finished",
		"exit_code", res.ExitCode,
		"signal", res.Signal,
		"stopped", res.Stopped,
		"output_bytes", len(res.Output),
		"duration", res.Duration,
	)
	return res, nil
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return DefaultMaxOutput
}

func (r *Runner) killGrace() time.Duration {
	if r.KillGrace > 0 {
		return r.KillGrace
	}
	return DefaultKillGrace
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ignoreDone treats signalling an already-reaped process as success.
func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

package runner

import (
	"errors"
	"os"
	"sync"
	"time"
)

// deadline fires a callback once when a run outlives its timeout.
type deadline struct {
	timer *time.Timer
}

func armDeadline(d time.Duration, expire func()) *deadline {
	return &deadline{timer: time.AfterFunc(d, expire)}
}

// Stop cancels the deadline if it has not fired yet.
func (d *deadline) Stop() {
	d.timer.Stop()
}

// terminator issues at most one termination request per run, and none at
// all once the process has been reaped.
type terminator struct {
	mu       sync.Mutex
	reason   StopReason
	exited   bool
	escalate *time.Timer

	grace   time.Duration
	stop    func()       // freezes the output relays; must not block
	signal  func() error // graceful termination (SIGTERM); os.ErrProcessDone once reaped
	kill    func() error // forced termination after grace
	onError func(op string, err error)
}

// Request asks the process to terminate, arms the kill escalation and
// stops relaying output. Request reports whether this call issued the
// termination; repeated calls, and calls that find the process already
// reaped, are no-ops and record no reason.
func (t *terminator) Request(reason StopReason) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exited || t.reason != StopNone {
		return false
	}

	if err := t.signal(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			// Wait has already returned; the run ended on its own.
			t.exited = true
			return false
		}
		t.report("signal", err)
	}
	t.reason = reason
	if t.grace > 0 {
		t.escalate = time.AfterFunc(t.grace, t.forceKill)
	}
	t.stop()
	return true
}

func (t *terminator) forceKill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exited {
		return
	}
	if err := t.kill(); err != nil {
		t.report("kill", err)
	}
}

// Exited marks the process as reaped and returns the reason recorded by
// the termination request, if any.
func (t *terminator) Exited() StopReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exited = true
	if t.escalate != nil {
		t.escalate.Stop()
	}
	return t.reason
}

func (t *terminator) report(op string, err error) {
	if t.onError != nil {
		t.onError(op, err)
	}
}

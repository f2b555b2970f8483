package runner

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// relay forwards child output to a user-facing writer and optionally
// keeps a copy. Once closed it drops everything it is given, which is how
// relaying stops after a termination request.
//
// Writes to out happen on a separate forwarding goroutine, so a stalled
// terminal never blocks the pipe copy, Close, or the termination path.
// Chunks reach out in the order the child produced them.
type relay struct {
	closed atomic.Bool
	out    io.Writer // nil discards

	mu        sync.Mutex // guards the fields below; never held across a write to out
	buf       *bytes.Buffer
	limit     int
	truncated bool
	pending   [][]byte
	finished  bool

	wake chan struct{} // nudges the forwarder; capacity 1
	done chan struct{} // closed by Close
	idle chan struct{} // closed when the forwarder returns
	once sync.Once
}

func newRelay(out io.Writer, buf *bytes.Buffer, limit int) *relay {
	w := &relay{
		out:   out,
		buf:   buf,
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		idle:  make(chan struct{}),
	}
	if out != nil {
		go w.forward()
	} else {
		close(w.idle)
	}
	return w
}

// Write always reports len(p) consumed so that the copy goroutine keeps
// draining the pipe whatever the state of the user's stream.
func (w *relay) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return len(p), nil
	}

	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		return len(p), nil
	}
	if w.buf != nil {
		w.accumulate(p)
	}
	if w.out != nil {
		w.pending = append(w.pending, bytes.Clone(p))
	}
	w.mu.Unlock()

	if w.out != nil {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// accumulate writes up to limit bytes to buf, then discards the rest.
func (w *relay) accumulate(p []byte) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = len(p) > 0 || w.truncated
		return
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return
	}
	w.buf.Write(p)
}

func (w *relay) forward() {
	defer close(w.idle)
	for {
		w.mu.Lock()
		chunks, finished := w.pending, w.finished
		w.pending = nil
		w.mu.Unlock()

		for _, c := range chunks {
			if w.closed.Load() {
				return
			}
			// A broken user stream must not stop accumulation.
			_, _ = w.out.Write(c)
		}
		if len(chunks) > 0 {
			continue
		}
		if finished {
			return
		}
		select {
		case <-w.wake:
		case <-w.done:
			return
		}
	}
}

// Close stops relaying, discards anything not yet forwarded and freezes
// the buffer. It never waits for the user's stream and is safe to call
// more than once.
func (w *relay) Close() {
	w.closed.Store(true)
	w.once.Do(func() { close(w.done) })
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}

// Finish waits until everything already written has been forwarded. The
// child must have exited. If ctx ends first the relay is closed instead.
func (w *relay) Finish(ctx context.Context) {
	w.mu.Lock()
	w.finished = true
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}

	select {
	case <-w.idle:
	case <-ctx.Done():
		w.Close()
	}
}

// Snapshot closes the relay and returns a copy of the accumulated bytes.
func (w *relay) Snapshot() ([]byte, bool) {
	w.Close()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil, w.truncated
	}
	return bytes.Clone(w.buf.Bytes()), w.truncated
}

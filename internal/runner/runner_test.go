package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for use from the copy goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestRunner(t *testing.T) (*Runner, *syncBuffer, *syncBuffer) {
	t.Helper()
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	return &Runner{
		Stdout:    stdout,
		Stderr:    stderr,
		MaxOutput: 1 << 20,
		KillGrace: 2 * time.Second,
	}, stdout, stderr
}

func sh(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestRun_Success(t *testing.T) {
	r, stdout, _ := newTestRunner(t)
	res, err := r.Run(context.Background(), []string{"echo", "hello"}, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if string(res.Output) != "hello\n" {
		t.Errorf("Output = %q, want %q", res.Output, "hello\n")
	}
	if stdout.String() != "hello\n" {
		t.Errorf("relayed stdout = %q, want %q", stdout.String(), "hello\n")
	}
	if res.RunID == "" {
		t.Error("RunID is empty")
	}
	if res.PID == 0 {
		t.Error("PID is 0")
	}
	if res.Stopped != StopNone {
		t.Errorf("Stopped = %q, want none", res.Stopped)
	}
}

func TestRun_PreservesOrder(t *testing.T) {
	r, stdout, _ := newTestRunner(t)
	res, err := r.Run(context.Background(), sh("for i in 1 2 3 4 5; do printf 'chunk%s;' $i; sleep 0.01; done"), 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "chunk1;chunk2;chunk3;chunk4;chunk5;"
	if string(res.Output) != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
	if stdout.String() != want {
		t.Errorf("relayed stdout = %q, want %q", stdout.String(), want)
	}
}

func TestRun_StderrRelayedNotAccumulated(t *testing.T) {
	r, stdout, stderr := newTestRunner(t)
	res, err := r.Run(context.Background(), sh("echo oops >&2; echo out"), 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(res.Output), "oops") {
		t.Errorf("Output = %q, stderr must not be accumulated", res.Output)
	}
	if stderr.String() != "oops\n" {
		t.Errorf("relayed stderr = %q, want %q", stderr.String(), "oops\n")
	}
	if stdout.String() != "out\n" {
		t.Errorf("relayed stdout = %q, want %q", stdout.String(), "out\n")
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	r, _, _ := newTestRunner(t)
	res, err := r.Run(context.Background(), sh("echo partial; exit 3"), 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Signaled() {
		t.Errorf("Signal = %v, want none", res.Signal)
	}
	if string(res.Output) != "partial\n" {
		t.Errorf("Output = %q, want %q", res.Output, "partial\n")
	}
}

func TestRun_BinaryNotFound(t *testing.T) {
	r, _, _ := newTestRunner(t)
	_, err := r.Run(context.Background(), []string{"nonexistent-binary-xyz-123"}, time.Second)
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("error = %v, want *StartError", err)
	}
	if !startErr.NotFound() {
		t.Errorf("NotFound() = false for %v", startErr)
	}
	if !strings.Contains(err.Error(), "nonexistent-binary-xyz-123") {
		t.Errorf("error = %q, want to mention the binary name", err)
	}
}

func TestRun_NotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, _, _ := newTestRunner(t)
	_, err := r.Run(context.Background(), []string{path}, time.Second)
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("error = %v, want *StartError", err)
	}
	if startErr.NotFound() {
		t.Errorf("NotFound() = true for a permission failure: %v", startErr)
	}
}

func TestRun_EmptyArgv(t *testing.T) {
	r, _, _ := newTestRunner(t)
	if _, err := r.Run(context.Background(), nil, time.Second); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestRun_NonPositiveTimeout(t *testing.T) {
	r, _, _ := newTestRunner(t)
	if _, err := r.Run(context.Background(), []string{"echo"}, 0); err == nil {
		t.Fatal("expected error for zero timeout")
	}
}

func TestRun_Timeout(t *testing.T) {
	r, _, _ := newTestRunner(t)

	start := time.Now()
	res, err := r.Run(context.Background(), []string{"sleep", "10"}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v, want prompt return after the deadline", elapsed)
	}
	if res.Stopped != StopDeadline {
		t.Errorf("Stopped = %q, want %q", res.Stopped, StopDeadline)
	}
	if res.Signal != syscall.SIGTERM {
		t.Errorf("Signal = %v, want SIGTERM", res.Signal)
	}
}

func TestRun_TimeoutEscalatesToKill(t *testing.T) {
	r, _, _ := newTestRunner(t)
	r.KillGrace = 200 * time.Millisecond

	res, err := r.Run(context.Background(), sh("trap '' TERM; exec sleep 10"), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stopped != StopDeadline {
		t.Errorf("Stopped = %q, want %q", res.Stopped, StopDeadline)
	}
	if res.Signal != syscall.SIGKILL {
		t.Errorf("Signal = %v, want SIGKILL", res.Signal)
	}
}

func TestRun_StopsRelayingAfterTimeout(t *testing.T) {
	r, stdout, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), sh("trap '' TERM; echo early; sleep 0.6; echo late"), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stopped != StopDeadline {
		t.Errorf("Stopped = %q, want %q", res.Stopped, StopDeadline)
	}
	if string(res.Output) != "early\n" {
		t.Errorf("Output = %q, want only the output before the deadline", res.Output)
	}
	if stdout.String() != "early\n" {
		t.Errorf("relayed stdout = %q, want only the output before the deadline", stdout.String())
	}
}

func TestRun_ContextCancel(t *testing.T) {
	r, _, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := r.Run(ctx, []string{"sleep", "10"}, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stopped != StopCanceled {
		t.Errorf("Stopped = %q, want %q", res.Stopped, StopCanceled)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	r, _, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Run(ctx, []string{"echo", "hi"}, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestRun_StdinInherited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdin")
	if err := os.WriteFile(path, []byte("from stdin"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	r, _, _ := newTestRunner(t)
	r.Stdin = f
	res, err := r.Run(context.Background(), []string{"cat"}, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Output) != "from stdin" {
		t.Errorf("Output = %q, want %q", res.Output, "from stdin")
	}
}

func TestRun_OutputTruncation(t *testing.T) {
	r, stdout, _ := newTestRunner(t)
	r.MaxOutput = 100 // very small cap

	// Generate output larger than cap.
	res, err := r.Run(context.Background(), sh("dd if=/dev/zero bs=200 count=1 2>/dev/null"), 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(res.Output) != r.MaxOutput {
		t.Errorf("len(Output) = %d, want %d", len(res.Output), r.MaxOutput)
	}
	if len(stdout.String()) != 200 {
		t.Errorf("relayed %d bytes, want all 200", len(stdout.String()))
	}
}

// stalledWriter never returns from Write until release is closed, like a
// paused pager or a full terminal pipe.
type stalledWriter struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newStalledWriter(t *testing.T) *stalledWriter {
	w := &stalledWriter{release: make(chan struct{}), entered: make(chan struct{})}
	t.Cleanup(func() { close(w.release) })
	return w
}

func (w *stalledWriter) Write(p []byte) (int, error) {
	w.once.Do(func() { close(w.entered) })
	<-w.release
	return len(p), nil
}

// runWithin fails the test if Run does not return within limit.
func runWithin(t *testing.T, limit time.Duration, run func() (*Result, error)) *Result {
	t.Helper()
	type ret struct {
		res *Result
		err error
	}
	c := make(chan ret, 1)
	go func() {
		res, err := run()
		c <- ret{res, err}
	}()
	select {
	case r := <-c:
		if r.err != nil {
			t.Fatalf("unexpected error: %v", r.err)
		}
		return r.res
	case <-time.After(limit):
		t.Fatalf("Run still blocked after %v", limit)
		return nil
	}
}

func TestRun_TimeoutWithStalledStdout(t *testing.T) {
	stdout := newStalledWriter(t)
	r := &Runner{Stdout: stdout, KillGrace: 200 * time.Millisecond}

	start := time.Now()
	res := runWithin(t, 3*time.Second, func() (*Result, error) {
		return r.Run(context.Background(), sh("echo early; sleep 4; echo done"), 200*time.Millisecond)
	})
	if res.Stopped != StopDeadline {
		t.Errorf("Stopped = %q, want %q", res.Stopped, StopDeadline)
	}
	if string(res.Output) != "early\n" {
		t.Errorf("Output = %q, want %q", res.Output, "early\n")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run took %v, want return shortly after the deadline", elapsed)
	}
}

func TestRun_CancelWithStalledStdout(t *testing.T) {
	stdout := newStalledWriter(t)
	r := &Runner{Stdout: stdout, KillGrace: 200 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stdout.entered
		cancel()
	}()

	res := runWithin(t, 3*time.Second, func() (*Result, error) {
		return r.Run(ctx, sh("echo early; exec sleep 10"), time.Minute)
	})
	if res.Stopped != StopCanceled {
		t.Errorf("Stopped = %q, want %q", res.Stopped, StopCanceled)
	}
}

func TestRun_SlowStdoutReceivesEverything(t *testing.T) {
	var got syncBuffer
	slow := writerFunc(func(p []byte) (int, error) {
		time.Sleep(20 * time.Millisecond)
		return got.Write(p)
	})
	r := &Runner{Stdout: slow}

	res, err := r.Run(context.Background(), sh("for i in 1 2 3 4 5; do echo line$i; done"), 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "line1\nline2\nline3\nline4\nline5\n"
	if got.String() != want {
		t.Errorf("relayed stdout = %q, want %q", got.String(), want)
	}
	if string(res.Output) != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

package process

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingLogger captures process output lines.
type recordingLogger struct {
	noopLogger
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Debug(msg string, args ...any) {
	if msg != "process output" {
		return
	}
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "line" {
			l.mu.Lock()
			l.lines = append(l.lines, args[i+1].(string))
			l.mu.Unlock()
		}
	}
}

func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestRunner_InitialState(t *testing.T) {
	r := New(Config{Name: "test", Binary: "/bin/true"})

	if r.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", r.Status(), StatusStopped)
	}
	if r.IsRunning() || r.PID() != 0 || r.LastError() != nil {
		t.Error("unexpected state before Start")
	}
	if r.config.GracefulTimeout != DefaultGracefulTimeout {
		t.Errorf("GracefulTimeout = %v, want default", r.config.GracefulTimeout)
	}
}

func TestRunner_CleanExit(t *testing.T) {
	logger := &recordingLogger{}
	exits := make(chan error, 1)
	r := New(Config{
		Name:   "echo",
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo booted; echo ready"},
		OnExit: func(err error) { exits <- err },
	})
	r.SetLogger(logger)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, r)

	if err := <-exits; err != nil {
		t.Errorf("OnExit error = %v, want nil", err)
	}
	if r.Status() != StatusExited {
		t.Errorf("Status() = %q, want %q", r.Status(), StatusExited)
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.lines) != 2 || logger.lines[0] != "booted" || logger.lines[1] != "ready" {
		t.Errorf("captured lines = %q", logger.lines)
	}
}

func TestRunner_FailedExit(t *testing.T) {
	var got error
	r := New(Config{
		Name:   "crash",
		Binary: "/bin/sh",
		Args:   []string{"-c", "exit 3"},
		OnExit: func(err error) { got = err },
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, r)

	if got == nil || r.Status() != StatusFailed || r.LastError() == nil {
		t.Errorf("exit err = %v, Status() = %q; want failure", got, r.Status())
	}
}

func TestRunner_StartMissingBinary(t *testing.T) {
	called := false
	r := New(Config{Name: "missing", Binary: "/nonexistent/emulator", OnExit: func(error) { called = true }})

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("Start() succeeded for a missing binary")
	}
	waitDone(t, r)
	if r.Status() != StatusFailed || called {
		t.Errorf("Status() = %q, OnExit called = %v", r.Status(), called)
	}
}

func TestRunner_StartTwice(t *testing.T) {
	r := New(Config{Name: "once", Binary: "/bin/true"})
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, r)

	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestRunner_Stop(t *testing.T) {
	var exitErr error
	r := New(Config{
		Name:            "sleeper",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
		OnExit:          func(err error) { exitErr = err },
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !r.IsRunning() || r.PID() == 0 {
		t.Fatal("process not running after Start")
	}
	if r.Stats().Status != StatusRunning {
		t.Errorf("Stats().Status = %q", r.Stats().Status)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if exitErr != nil {
		t.Errorf("OnExit error after requested stop = %v, want nil", exitErr)
	}
	if r.IsRunning() {
		t.Error("still running after Stop")
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestRunner_StartCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(Config{Name: "x", Binary: "/bin/true"}).Start(ctx); err == nil {
		t.Error("Start() with cancelled context succeeded")
	}
}

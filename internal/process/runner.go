package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a process.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusFailed  Status = "failed"
)

// DefaultGracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
const DefaultGracefulTimeout = 10 * time.Second

// maxLineSize bounds one captured output line.
const maxLineSize = 64 * 1024

// ErrAlreadyStarted is returned when Start is called on a used Runner.
var ErrAlreadyStarted = errors.New("process: already started")

// Config holds configuration for one child process.
type Config struct {
	// Name identifies the process in logs.
	Name string

	Binary string
	Args   []string

	// Env adds key=value pairs to the inherited environment.
	Env []string

	WorkDir string

	// GracefulTimeout defaults to DefaultGracefulTimeout.
	GracefulTimeout time.Duration

	// OnExit is called once when the process exits. err is nil for a clean
	// exit or a requested stop.
	OnExit func(err error)
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner starts and supervises a single child process.
type Runner struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	lastError     error
	startTime     time.Time
	stopRequested bool
	started       bool

	done chan struct{}
}

// New creates a runner. The process is not started until Start.
func New(cfg Config) *Runner {
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	return &Runner{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger. Call before Start.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// Start launches the process in its own process group. The process is not
// tied to ctx: it keeps running until it exits or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, r.config.Name)
	}
	r.started = true

	cmd := exec.Command(r.config.Binary, r.config.Args...) //nolint:gosec // Binary comes from the operator's config file
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if r.config.Env != nil {
		cmd.Env = append(os.Environ(), r.config.Env...)
	}
	cmd.Dir = r.config.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.failLocked(fmt.Errorf("creating stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.failLocked(fmt.Errorf("creating stderr pipe: %w", err))
	}

	r.logger.Info("starting process", "name", r.config.Name, "binary", r.config.Binary, "args", r.config.Args)
	if err := cmd.Start(); err != nil {
		return r.failLocked(fmt.Errorf("starting %s: %w", r.config.Name, err))
	}

	r.cmd = cmd
	r.status = StatusRunning
	r.startTime = time.Now()
	r.logger.Info("process started", "name", r.config.Name, "pid", cmd.Process.Pid)

	var output sync.WaitGroup
	output.Add(2)
	go r.captureOutput(&output, "stdout", stdout)
	go r.captureOutput(&output, "stderr", stderr)
	go r.wait(cmd, &output)

	return nil
}

// failLocked records a start failure. Done is closed and OnExit is not called.
func (r *Runner) failLocked(err error) error {
	r.status = StatusFailed
	r.lastError = err
	close(r.done)
	return err
}

func (r *Runner) captureOutput(wg *sync.WaitGroup, stream string, rd io.Reader) {
	defer wg.Done()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		r.logger.Debug("process output", "name", r.config.Name, "stream", stream, "line", sc.Text())
	}
}

// wait reaps the process once its output is drained.
func (r *Runner) wait(cmd *exec.Cmd, output *sync.WaitGroup) {
	// Wait closes the pipes, so the readers must finish first.
	output.Wait()
	err := cmd.Wait()

	r.mu.Lock()
	if r.stopRequested {
		err = nil
	}
	r.lastError = err
	if err != nil {
		r.status = StatusFailed
	} else {
		r.status = StatusExited
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("process exited with error", "name", r.config.Name, "error", err)
	} else {
		r.logger.Info("process exited", "name", r.config.Name)
	}
	if r.config.OnExit != nil {
		r.config.OnExit(err)
	}
	close(r.done)
}

// Done is closed after the process has exited and OnExit has returned, or
// after Start failed.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Stop sends SIGTERM to the process group, then SIGKILL after the graceful
// timeout, and waits for the exit. It is a no-op if the process is not running.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return nil
	}
	r.stopRequested = true
	pid := r.cmd.Process.Pid
	r.mu.Unlock()

	r.logger.Info("stopping process", "name", r.config.Name, "pid", pid)

	// Negative PID signals the whole group created via Setpgid.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Warn("failed to send SIGTERM to process group", "name", r.config.Name, "error", err)
	}

	select {
	case <-r.done:
		return nil
	case <-time.After(r.config.GracefulTimeout):
		r.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", r.config.Name, "timeout", r.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", r.config.Name, err)
	}
	<-r.done
	return nil
}

// Status returns the current status.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// IsRunning reports whether the process is running.
func (r *Runner) IsRunning() bool {
	return r.Status() == StatusRunning
}

// LastError returns the exit or start error, nil for a clean exit.
func (r *Runner) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastError
}

// PID returns the process ID, or 0 if never started.
func (r *Runner) PID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cmd != nil && r.cmd.Process != nil {
		return r.cmd.Process.Pid
	}
	return 0
}

// Stats describes a runner for the API.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (r *Runner) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Name: r.config.Name, Status: r.status}
	if r.cmd != nil && r.cmd.Process != nil {
		s.PID = r.cmd.Process.Pid
	}
	if r.status == StatusRunning {
		s.Uptime = time.Since(r.startTime)
	}
	if r.lastError != nil {
		s.LastError = r.lastError.Error()
	}
	return s
}

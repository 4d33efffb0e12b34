package sidecar

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

	"github.com/sarontebebe7/presencelight/internal/infrastructure/config"
)

// State of the detector process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
)

// Defaults applied by New for zero values.
const (
	DefaultRestartDelay    = 5 * time.Second
	DefaultMaxRestartDelay = 2 * time.Minute
	DefaultStableAfter     = time.Minute
	DefaultGracefulTimeout = 10 * time.Second
)

// maxLineLength bounds a single captured output line.
const maxLineLength = 64 * 1024

// Config describes the detector process.
type Config struct {
	Name    string
	Binary  string
	Args    []string
	Env     []string
	WorkDir string

	RestartOnFailure bool

	// RestartDelay is the first backoff step; it doubles per consecutive
	// crash up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// StableAfter is how long a run must last to reset the backoff.
	StableAfter time.Duration

	GracefulTimeout time.Duration
}

// ConfigFromConfig maps the sidecar section of the application config.
func ConfigFromConfig(c config.SidecarConfig) Config {
	return Config{
		Name:               "detector",
		Binary:             c.Binary,
		Args:               c.Args,
		RestartOnFailure:   c.RestartOnFailure,
		RestartDelay:       c.RestartDelay,
		MaxRestartAttempts: c.MaxRestartAttempts,
	}
}

// Logger defines the logging interface for the sidecar supervisor.
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

// Stats is a snapshot of the supervised process.
type Stats struct {
	Name         string  `json:"name"`
	State        State   `json:"state"`
	PID          int     `json:"pid,omitempty"`
	UptimeSecs   float64 `json:"uptime_seconds,omitempty"`
	Restarts     int     `json:"restarts"`
	LastExitCode int     `json:"last_exit_code"`
	LastError    string  `json:"last_error,omitempty"`
}

// Supervisor keeps one detector process alive.
type Supervisor struct {
	config Config
	logger Logger

	mu           sync.RWMutex
	cmd          *exec.Cmd
	state        State
	restarts     int
	consecutive  int
	lastErr      error
	lastExitCode int
	startedAt    time.Time
	stopping     bool
	stopCh       chan struct{}
	done         chan struct{}
}

// New creates a supervisor; nothing runs until Start.
func New(cfg Config) *Supervisor {
	if cfg.Name == "" {
		cfg.Name = "detector"
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = DefaultMaxRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = DefaultStableAfter
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	return &Supervisor{
		config: cfg,
		logger: noopLogger{},
		state:  StateStopped,
	}
}

// SetLogger sets the logger.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches the detector and watches it until ctx is cancelled or
// Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.config.Binary == "" {
		return ErrNoBinary
	}

	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting || s.watching() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.config.Name)
	}
	s.state = StateStarting
	s.stopping = false
	s.consecutive = 0
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	cmd, err := s.spawn(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.lastErr = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.watch(ctx, cmd)
	return nil
}

// watching reports whether a watcher from a previous Start is still
// alive, for example sleeping before a restart. Caller holds s.mu.
func (s *Supervisor) watching() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Supervisor) spawn(ctx context.Context) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, s.config.Binary, s.config.Args...) //nolint:gosec // Binary comes from validated config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Let Stop deliver signals to the whole group instead of the
	// context killing only the leader.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.config.GracefulTimeout

	if s.config.Env != nil {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}
	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.config.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.capture("stdout", stdout)
	go s.capture("stderr", stderr)

	s.logger.Info("detector started",
		"name", s.config.Name,
		"binary", s.config.Binary,
		"pid", cmd.Process.Pid,
	)
	return cmd, nil
}

// capture logs the stream one line at a time; stderr lines are warnings.
func (s *Supervisor) capture(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineLength)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if stream == "stderr" {
			s.logger.Warn("detector output", "name", s.config.Name, "stream", stream, "line", line)
		} else {
			s.logger.Debug("detector output", "name", s.config.Name, "stream", stream, "line", line)
		}
	}
}

func (s *Supervisor) watch(ctx context.Context, cmd *exec.Cmd) {
	s.mu.RLock()
	done, stopCh := s.done, s.stopCh
	s.mu.RUnlock()
	defer close(done)

	for {
		err := cmd.Wait()
		ran := time.Since(s.runStartedAt())

		s.mu.Lock()
		stopping := s.stopping
		s.lastExitCode = exitCode(cmd)
		if stopping || ctx.Err() != nil {
			s.state = StateStopped
			s.mu.Unlock()
			s.logger.Info("detector stopped", "name", s.config.Name)
			return
		}
		if err == nil {
			err = errors.New("exited with status 0")
		}
		s.lastErr = err
		s.state = StateFailed
		if ran >= s.config.StableAfter {
			s.consecutive = 0
		}
		s.consecutive++
		attempt := s.consecutive
		s.mu.Unlock()

		s.logger.Warn("detector exited unexpectedly",
			"name", s.config.Name,
			"error", err,
			"ran_for", ran.Round(time.Millisecond),
		)

		if !s.config.RestartOnFailure {
			return
		}
		if s.config.MaxRestartAttempts > 0 && attempt > s.config.MaxRestartAttempts {
			s.logger.Error("detector restart limit reached",
				"name", s.config.Name,
				"attempts", attempt-1,
			)
			return
		}

		delay := s.backoff(attempt)
		s.logger.Info("restarting detector", "name", s.config.Name, "attempt", attempt, "delay", delay)

		if !s.sleep(ctx, stopCh, delay) {
			s.setState(StateStopped)
			return
		}

		s.mu.Lock()
		if s.stopping {
			s.state = StateStopped
			s.mu.Unlock()
			return
		}
		s.restarts++
		s.mu.Unlock()

		next, err := s.spawn(ctx)
		for err != nil {
			s.logger.Error("failed to restart detector", "name", s.config.Name, "error", err)
			s.mu.Lock()
			s.lastErr = err
			s.consecutive++
			attempt = s.consecutive
			s.mu.Unlock()
			if s.config.MaxRestartAttempts > 0 && attempt > s.config.MaxRestartAttempts {
				s.setState(StateFailed)
				return
			}
			if !s.sleep(ctx, stopCh, s.backoff(attempt)) {
				s.setState(StateStopped)
				return
			}
			next, err = s.spawn(ctx)
		}
		cmd = next
	}
}

// backoff returns RestartDelay doubled per consecutive failure, capped.
func (s *Supervisor) backoff(attempt int) time.Duration {
	d := s.config.RestartDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.config.MaxRestartDelay {
			return s.config.MaxRestartDelay
		}
	}
	return d
}

// sleep waits for d and reports false if the wait was cut short.
func (s *Supervisor) sleep(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) runStartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// Stop sends SIGTERM to the detector's process group, escalating to
// SIGKILL after GracefulTimeout, and waits for the watcher to exit.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return nil
	}
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	cmd := s.cmd
	done := s.done
	running := s.state == StateRunning
	s.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping detector", "name", s.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to send SIGTERM", "name", s.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.config.GracefulTimeout):
		s.logger.Warn("detector ignored SIGTERM, sending SIGKILL",
			"name", s.config.Name,
			"timeout", s.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", s.config.Name, err)
	}
	<-done
	return nil
}

// State returns the current process state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Running reports whether the detector process is up.
func (s *Supervisor) Running() bool {
	return s.State() == StateRunning
}

// Stats returns a snapshot for status reporting.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Name:         s.config.Name,
		State:        s.state,
		Restarts:     s.restarts,
		LastExitCode: s.lastExitCode,
	}
	if s.cmd != nil && s.cmd.Process != nil && s.state == StateRunning {
		st.PID = s.cmd.Process.Pid
		st.UptimeSecs = time.Since(s.startedAt).Seconds()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

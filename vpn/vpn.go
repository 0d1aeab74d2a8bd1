// Package vpn keeps an OpenVPN server process alive next to the
// orchestrator. The supervisor is deliberately thin: it spawns the daemon,
// restarts it with capped exponential backoff when it dies, and forwards a
// reload signal when the published CRL changes. Tunnel configuration itself
// stays in the daemon's own config file.
package vpn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ErrNotRunning is returned by Reload when no daemon process is up.
var ErrNotRunning = errors.New("vpn daemon is not running")

const (
	defaultBackoff    = 1 * time.Second
	defaultBackoffMax = 60 * time.Second

	// A run at least this long counts as healthy and resets the backoff.
	healthyRunTime = 30 * time.Second
)

// Supervisor runs the tunnel daemon as a child process and restarts it
// when it exits. Run blocks until its context is canceled.
type Supervisor struct {
	binary     string
	cfgFile    string
	args       []string
	logger     *slog.Logger
	backoff    time.Duration
	backoffMax time.Duration

	mu  sync.Mutex
	cmd *exec.Cmd
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the structured logger. Daemon stdout and stderr are
// forwarded to it line by line.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithArgs appends extra arguments to every daemon invocation.
func WithArgs(args ...string) Option {
	return func(s *Supervisor) { s.args = args }
}

// WithBackoff overrides the restart backoff's initial and maximum delay.
func WithBackoff(initial, max time.Duration) Option {
	return func(s *Supervisor) {
		if initial > 0 {
			s.backoff = initial
		}
		if max > 0 {
			s.backoffMax = max
		}
	}
}

// New creates a supervisor for the given daemon binary. When configFile is
// non-empty every invocation gets a --config argument pointing at it.
func New(binary, configFile string, opts ...Option) *Supervisor {
	s := &Supervisor{
		binary:     binary,
		cfgFile:    configFile,
		backoff:    defaultBackoff,
		backoffMax: defaultBackoffMax,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return s
}

// Run supervises the daemon until ctx is canceled. A missing binary fails
// immediately; a crashing daemon is restarted with growing delays, reset
// after the process stays up long enough to be considered healthy.
func (s *Supervisor) Run(ctx context.Context) error {
	if _, err := exec.LookPath(s.binary); err != nil {
		return fmt.Errorf("vpn daemon binary: %w", err)
	}

	delay := s.backoff
	for {
		started := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) >= healthyRunTime {
			delay = s.backoff
		}
		s.logger.Warn("vpn daemon exited, restarting",
			"error", err,
			"uptime", time.Since(started).Round(time.Millisecond),
			"backoff", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = nextBackoff(delay, s.backoffMax)
	}
}

// Reload signals the running daemon to re-read its config and CRL.
func (s *Supervisor) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return ErrNotRunning
	}
	return s.cmd.Process.Signal(syscall.SIGHUP)
}

func (s *Supervisor) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.binary, s.argv()...)
	cmd.Stdout = &lineWriter{logger: s.logger, level: slog.LevelInfo}
	cmd.Stderr = &lineWriter{logger: s.logger, level: slog.LevelWarn}

	s.mu.Lock()
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("starting vpn daemon: %w", err)
	}
	s.cmd = cmd
	s.mu.Unlock()

	s.logger.Info("vpn daemon started", "pid", cmd.Process.Pid, "binary", s.binary)
	err := cmd.Wait()

	s.mu.Lock()
	s.cmd = nil
	s.mu.Unlock()
	return err
}

func (s *Supervisor) argv() []string {
	var argv []string
	if s.cfgFile != "" {
		argv = append(argv, "--config", s.cfgFile)
	}
	return append(argv, s.args...)
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// lineWriter forwards process output to the structured logger one line at
// a time. Partial writes are logged as-is; daemon output is line buffered
// in practice.
type lineWriter struct {
	logger *slog.Logger
	level  slog.Level
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) > 0 {
			w.logger.Log(context.Background(), w.level, "vpn: "+string(line))
		}
	}
	return len(p), nil
}

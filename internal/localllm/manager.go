// Package localllm supervises the locally-hosted model server: it spawns the
// server script, forwards its output to the log, waits until the HTTP API
// answers, and shuts it down gracefully on exit.
package localllm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrExitedEarly is returned by Start when the process exits before the
	// server became ready.
	ErrExitedEarly = errors.New("localllm: process exited before becoming ready")

	// ErrStartupTimeout is returned by Start when the server did not become
	// ready in time.
	ErrStartupTimeout = errors.New("localllm: startup timeout")

	// ErrNotRunning is returned by Check when no server answers.
	ErrNotRunning = errors.New("localllm: server not running")
)

// startupMarkers are log lines printed by the server once it is about to
// accept requests.
var startupMarkers = []string{"Uvicorn running", "Starting API server"}

const (
	defaultStartupTimeout = 120 * time.Second
	defaultPollInterval   = time.Second
	defaultPollTimeout    = 2 * time.Second
	defaultPollAttempts   = 30
	defaultStopGrace      = 5 * time.Second

	pipeWaitDelay = 2 * time.Second
)

// Config describes how to run the server.
type Config struct {
	// ScriptPath is the server script. Required.
	ScriptPath string

	// BaseURL is where the server listens, e.g. http://localhost:8000.
	BaseURL string

	// Python is the interpreter. Empty uses .venv/bin/python in the working
	// directory when present, python3 otherwise.
	Python string

	// Dir is the working directory. Empty uses the current directory.
	Dir string

	// StartupTimeout bounds the whole start sequence. Defaults to 120s.
	StartupTimeout time.Duration

	// PollInterval and PollTimeout control readiness polling of GET /docs.
	PollInterval time.Duration
	PollTimeout  time.Duration

	// PollAttempts is how many failed polls are tolerated after the startup
	// marker was seen. Defaults to 30.
	PollAttempts int

	// StopGrace is how long Stop waits after SIGTERM before killing.
	// Defaults to 5s.
	StopGrace time.Duration
}

func (c *Config) setDefaults() {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = defaultPollAttempts
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Manager owns one server process.
//
// Manager is safe for concurrent use.
type Manager struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error
	ready   bool
	stopped bool
}

// New creates a Manager. It does not start anything.
func New(cfg Config) *Manager {
	cfg.setDefaults()
	return &Manager{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.PollTimeout},
		log:    slog.Default().With("component", "localllm"),
	}
}

// Python returns the interpreter that Start would use.
func (m *Manager) Python() string {
	if m.cfg.Python != "" {
		return m.cfg.Python
	}
	venv := filepath.Join(m.cfg.Dir, ".venv", "bin", "python")
	if _, err := os.Stat(venv); err == nil {
		return venv
	}
	return "python3"
}

// Start launches the server and blocks until it answers, the process exits,
// the startup timeout elapses, or ctx is cancelled. A server that already
// answers at BaseURL is reused and no process is spawned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cmd != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.Check(ctx) == nil {
		m.log.Info("localllm: server already running, not spawning", "url", m.cfg.BaseURL)
		return nil
	}

	script, err := filepath.Abs(m.cfg.ScriptPath)
	if err != nil {
		return fmt.Errorf("localllm: resolve script path: %w", err)
	}
	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("localllm: script: %w", err)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd := exec.Command(m.Python(), script)
	cmd.Dir = m.cfg.Dir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	// Children of the script may keep the output open after it exits.
	cmd.WaitDelay = pipeWaitDelay

	m.log.Info("localllm: starting server", "python", cmd.Path, "script", script)
	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return fmt.Errorf("localllm: spawn: %w", err)
	}

	marker := make(chan struct{})
	var markerOnce sync.Once
	seen := func() { markerOnce.Do(func() { close(marker) }) }

	go m.forward(stdoutR, "stdout", seen)
	go m.forward(stderrR, "stderr", seen)

	exited := make(chan struct{})
	m.mu.Lock()
	m.cmd = cmd
	m.exited = exited
	m.mu.Unlock()

	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		m.mu.Lock()
		m.exitErr = err
		wasReady, stopping := m.ready, m.stopped
		m.ready = false
		m.mu.Unlock()
		close(exited)
		if wasReady && !stopping {
			m.log.Error("localllm: server exited unexpectedly", "err", err)
		} else {
			m.log.Info("localllm: server exited", "err", err)
		}
	}()

	if err := m.waitReady(ctx, marker, exited); err != nil {
		_ = m.Stop(context.Background())
		return err
	}
	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()
	m.log.Info("localllm: server ready", "url", m.cfg.BaseURL)
	return nil
}

func (m *Manager) waitReady(ctx context.Context, marker, exited <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
	defer cancel()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	markerSeen := false
	failed := 0
	for {
		select {
		case <-exited:
			m.mu.Lock()
			err := m.exitErr
			m.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrExitedEarly, err)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrStartupTimeout
			}
			return fmt.Errorf("localllm: start: %w", ctx.Err())
		case <-marker:
			marker = nil
			markerSeen = true
		case <-ticker.C:
		}

		if m.Check(ctx) == nil {
			return nil
		}
		if markerSeen {
			failed++
			if failed >= m.cfg.PollAttempts {
				return fmt.Errorf("%w: no answer after %d attempts", ErrStartupTimeout, failed)
			}
		}
	}
}

// forward copies one output stream of the process into the log line by line.
func (m *Manager) forward(r io.Reader, stream string, seen func()) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		m.log.Info("localllm: output", "stream", stream, "line", line)
		for _, mk := range startupMarkers {
			if strings.Contains(line, mk) {
				seen()
			}
		}
	}
	// Keep draining so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// Check reports whether the server answers GET /docs.
func (m *Manager) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL+"/docs", nil)
	if err != nil {
		return fmt.Errorf("localllm: create request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", ErrNotRunning, resp.StatusCode)
	}
	return nil
}

// Running reports whether a spawned process is alive.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited == nil {
		return false
	}
	select {
	case <-m.exited:
		return false
	default:
		return true
	}
}

// Stop sends SIGTERM and kills the process if it has not exited after the
// grace period or when ctx is cancelled. Stop is a no-op when nothing was
// spawned.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cmd, exited := m.cmd, m.exited
	m.stopped = true
	m.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-exited:
		return nil
	default:
	}

	m.log.Info("localllm: stopping server")
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		m.log.Warn("localllm: SIGTERM failed, killing", "err", err)
		_ = cmd.Process.Kill()
	}

	timer := time.NewTimer(m.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	m.log.Warn("localllm: server did not exit after SIGTERM, killing")
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("localllm: kill: %w", err)
	}
	<-exited
	return nil
}

package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// fileState identifies one observed revision of the settings file.
type fileState struct {
	cfg  *Config
	sum  [sha256.Size]byte
	mod  time.Time
	size int64
}

// Watcher polls the YAML settings file and reports each valid content change
// as an (old, new) config pair. Environment variables still override the
// file on every reload. A file that fails to parse or validate is logged and
// the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu    sync.Mutex
	state fileState

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and starts polling it. The initial load must
// succeed.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	st, err := readState(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.state = st

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.cfg
}

// Stop ends polling and waits for an in-progress reload to finish. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.reload()
		}
	}
}

// reload re-reads the file when its size or mtime moved and fires onChange
// only if the content hash differs.
func (w *Watcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: settings file unavailable", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.state
	w.mu.Unlock()
	if info.ModTime().Equal(prev.mod) && info.Size() == prev.size {
		return
	}

	next, err := readState(w.path)
	if err != nil {
		slog.Warn("config: settings file rejected, keeping previous", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if next.sum == w.state.sum {
		w.state.mod, w.state.size = next.mod, next.size
		w.mu.Unlock()
		return
	}
	old := w.state.cfg
	w.state = next
	w.mu.Unlock()

	slog.Info("config: settings reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, next.cfg)
	}
}

func readState(path string) (fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return fileState{}, err
	}
	return fileState{
		cfg:  cfg,
		sum:  sha256.Sum256(data),
		mod:  info.ModTime(),
		size: info.Size(),
	}, nil
}

package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/config"
)

const settingsYAML = `
discord:
  token: test-token
providers:
  llm:
    name: gemini
    api_key: k
conversation:
  speaker: 3
server:
  log_level: info
`

const settingsYAMLUpdated = `
discord:
  token: test-token
providers:
  llm:
    name: gemini
    api_key: k
conversation:
  speaker: 8
server:
  log_level: debug
`

const settingsYAMLInvalid = `
discord:
  token: test-token
server:
  log_level: bananas
`

const pollInterval = 20 * time.Millisecond

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

// changeRecorder collects onChange calls.
type changeRecorder struct {
	mu    sync.Mutex
	pairs [][2]*config.Config
	fired chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{fired: make(chan struct{}, 16)}
}

func (r *changeRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.pairs = append(r.pairs, [2]*config.Config{old, new})
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// startWatcher writes content to a fresh file and watches it.
func startWatcher(t *testing.T, content string, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxrelay.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, onChange, config.WithInterval(pollInterval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

// bumpMtime moves the file's mtime forward so the next poll re-reads it even
// on filesystems with coarse timestamps.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	w, _ := startWatcher(t, settingsYAML, nil)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after initial load")
	}
	if cfg.Conversation.Speaker != 3 {
		t.Errorf("speaker = %d, want 3", cfg.Conversation.Speaker)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, settingsYAMLInvalid)
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid file")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, path := startWatcher(t, settingsYAML, rec.onChange)

	writeFile(t, path, settingsYAMLUpdated)
	bumpMtime(t, path)

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange not called")
	}

	rec.mu.Lock()
	old, cur := rec.pairs[0][0], rec.pairs[0][1]
	rec.mu.Unlock()

	d := config.Diff(old, cur)
	if !d.SpeakerChanged || !d.LogLevelChanged {
		t.Errorf("diff = %+v, want speaker and log level changes", d)
	}
	if cur.Conversation.Speaker != 8 {
		t.Errorf("new speaker = %d, want 8", cur.Conversation.Speaker)
	}
	if w.Current() != cur {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_IgnoresUnchangedContent(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	_, path := startWatcher(t, settingsYAML, rec.onChange)

	bumpMtime(t, path)
	time.Sleep(10 * pollInterval)

	if n := rec.count(); n != 0 {
		t.Errorf("onChange calls = %d, want 0 for a touch without edits", n)
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, path := startWatcher(t, settingsYAML, rec.onChange)
	before := w.Current()

	writeFile(t, path, settingsYAMLInvalid)
	bumpMtime(t, path)
	time.Sleep(10 * pollInterval)

	if n := rec.count(); n != 0 {
		t.Errorf("onChange calls = %d, want 0 for an invalid file", n)
	}
	if w.Current() != before {
		t.Error("Current() changed after an invalid edit")
	}

	// A later valid edit is picked up again.
	writeFile(t, path, settingsYAMLUpdated)
	later := time.Now().Add(4 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("valid edit after an invalid one was not reported")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	w, _ := startWatcher(t, settingsYAML, nil)
	w.Stop()
	w.Stop()
}

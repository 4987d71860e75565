package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/types"
)

// Store loads and persists a [History].
type Store interface {
	// Load returns the stored history. Missing or unreadable storage yields an
	// empty history, never an error that would block startup.
	Load(ctx context.Context) History

	// Persist replaces the stored history with h.
	Persist(ctx context.Context, h History) error
}

// fileFormat is the on-disk layout: {"messages":[{"role":"user","parts":"…"}]}.
type fileFormat struct {
	Messages []fileMessage `json:"messages"`
}

type fileMessage struct {
	Role  types.Role `json:"role"`
	Parts string     `json:"parts"`
}

var _ Store = (*FileStore)(nil)

// FileStore persists the history as an indented JSON file. Writes go to a
// temporary file in the same directory which is then renamed over the
// target, so a crash mid-write never leaves a truncated history behind.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore for path. The parent directory is created
// on the first Persist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// Load implements [Store].
func (s *FileStore) Load(_ context.Context) History {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return History{}
	}
	if err != nil {
		slog.Warn("history: read failed, starting empty", "path", s.path, "err", err)
		return History{}
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("history: corrupt file, starting empty", "path", s.path, "err", err)
		return History{}
	}

	msgs := make([]types.Message, 0, len(f.Messages))
	for i, m := range f.Messages {
		if !m.Role.IsValid() {
			slog.Warn("history: skipping message with unknown role", "index", i, "role", m.Role)
			continue
		}
		msgs = append(msgs, types.Message{Role: m.Role, Content: m.Parts})
	}
	return History{msgs: msgs}
}

// Persist implements [Store].
func (s *FileStore) Persist(_ context.Context, h History) error {
	f := fileFormat{Messages: make([]fileMessage, 0, h.Len())}
	for _, m := range h.msgs {
		f.Messages = append(f.Messages, fileMessage{Role: m.Role, Parts: m.Content})
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("history: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("history: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("history: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("history: replace %s: %w", s.path, err)
	}
	return nil
}

// MemoryStore keeps the persisted history in memory. It is used when no
// history file is configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	saved   History
	failErr error
	writes  int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a MemoryStore that initially holds h.
func NewMemoryStore(h History) *MemoryStore {
	return &MemoryStore{saved: h}
}

// Load implements [Store].
func (s *MemoryStore) Load(_ context.Context) History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// Persist implements [Store].
func (s *MemoryStore) Persist(_ context.Context, h History) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.saved = h
	s.writes++
	return nil
}

// FailWith makes every following Persist return err. Nil restores normal
// operation.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Writes returns the number of successful Persist calls.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

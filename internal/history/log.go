package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/types"
)

// ErrPersist wraps every persistence failure reported by [Log].
var ErrPersist = errors.New("history: persist failed")

// Log is the single owner of the current conversation history. Every
// mutation persists the new value before it becomes visible; when
// persistence fails the in-memory value stays at its previous state.
//
// Log is safe for concurrent use. Mutations are strictly serialized.
type Log struct {
	store Store

	mu  sync.Mutex
	cur History
}

// NewLog loads the stored history from store and returns a Log owning it.
func NewLog(ctx context.Context, store Store) *Log {
	return &Log{store: store, cur: store.Load(ctx)}
}

// Snapshot returns the current history.
func (l *Log) Snapshot() History {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

// AppendAndPersist appends msg and persists the result. On success the new
// history is returned. On failure the returned history is the unchanged
// pre-append value and the error wraps [ErrPersist].
func (l *Log) AppendAndPersist(ctx context.Context, msg types.Message) (History, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.cur.Append(msg)
	if err := l.store.Persist(ctx, next); err != nil {
		return l.cur, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	l.cur = next
	return next, nil
}

// Clear resets the history to empty and persists it. On failure the current
// history is kept.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Persist(ctx, History{}); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	l.cur = History{}
	return nil
}

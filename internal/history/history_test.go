package history

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/types"
)

// ─── History ──────────────────────────────────────────────────────────────────

func TestHistory_AppendDoesNotMutate(t *testing.T) {
	t.Parallel()

	a := New(types.UserMessage("A", "hi"))
	b := a.Append(types.ModelMessage("hello"))
	c := a.Append(types.ModelMessage("other"))

	if a.Len() != 1 {
		t.Fatalf("original Len = %d, want 1", a.Len())
	}
	if b.Len() != 2 || c.Len() != 2 {
		t.Fatalf("appended Len = %d/%d, want 2/2", b.Len(), c.Len())
	}
	if b.Messages()[1].Content != "hello" || c.Messages()[1].Content != "other" {
		t.Error("sibling appends share storage")
	}
}

func TestHistory_MessagesIsCopy(t *testing.T) {
	t.Parallel()

	h := New(types.UserMessage("A", "hi"))
	msgs := h.Messages()
	msgs[0].Content = "changed"
	if h.Messages()[0].Content != "A: hi" {
		t.Error("Messages exposed internal storage")
	}
}

func TestHistory_Tail(t *testing.T) {
	t.Parallel()

	var h History
	for _, s := range []string{"1", "2", "3"} {
		h = h.Append(types.ModelMessage(s))
	}

	tests := []struct {
		n    int
		want []string
	}{
		{0, nil},
		{2, []string{"2", "3"}},
		{10, []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		got := h.Tail(tt.n)
		if len(got) != len(tt.want) {
			t.Fatalf("Tail(%d) len = %d, want %d", tt.n, len(got), len(tt.want))
		}
		for i := range got {
			if got[i].Content != tt.want[i] {
				t.Errorf("Tail(%d)[%d] = %q, want %q", tt.n, i, got[i].Content, tt.want[i])
			}
		}
	}
}

// ─── FileStore ────────────────────────────────────────────────────────────────

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	s := NewFileStore(path)

	h := New(types.UserMessage("A", "こんにちは"), types.ModelMessage("こんにちは、元気？"))
	if err := s.Persist(ctx, h); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	got := s.Load(ctx).Messages()
	want := h.Messages()
	if len(got) != len(want) {
		t.Fatalf("loaded %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFileStore_Format(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	s := NewFileStore(path)
	if err := s.Persist(context.Background(), New(types.UserMessage("A", "x"), types.ModelMessage("y"))); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"messages\"") {
		t.Errorf("file is not 2-space indented:\n%s", data)
	}
	var raw struct {
		Messages []map[string]string `json:"messages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw.Messages[0]["role"] != "user" || raw.Messages[0]["parts"] != "A: x" {
		t.Errorf("first message = %v", raw.Messages[0])
	}
	if raw.Messages[1]["role"] != "model" {
		t.Errorf("second role = %q, want model", raw.Messages[1]["role"])
	}
}

func TestFileStore_LoadMissingOrCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	for name, path := range map[string]string{
		"missing": filepath.Join(dir, "absent.json"),
		"corrupt": corrupt,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if h := NewFileStore(path).Load(context.Background()); h.Len() != 0 {
				t.Errorf("Len = %d, want 0", h.Len())
			}
		})
	}
}

func TestFileStore_LoadSkipsUnknownRoles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	data := `{"messages":[{"role":"user","parts":"a"},{"role":"system","parts":"b"},{"role":"model","parts":"c"}]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := NewFileStore(path).Load(context.Background()).Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

// ─── Log ──────────────────────────────────────────────────────────────────────

// failingStore wraps a Store and fails Persist while fail is set.
type failingStore struct {
	Store
	mu   sync.Mutex
	fail bool
}

func (f *failingStore) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *failingStore) Persist(ctx context.Context, h History) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Store.Persist(ctx, h)
}

func TestLog_AppendRollsBackOnPersistFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &failingStore{Store: NewFileStore(filepath.Join(t.TempDir(), "h.json"))}
	l := NewLog(ctx, store)

	if _, err := l.AppendAndPersist(ctx, types.UserMessage("A", "one")); err != nil {
		t.Fatalf("AppendAndPersist: %v", err)
	}
	before := l.Snapshot()

	store.setFail(true)
	got, err := l.AppendAndPersist(ctx, types.ModelMessage("two"))
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if got.Len() != before.Len() {
		t.Errorf("returned history Len = %d, want pre-append %d", got.Len(), before.Len())
	}
	if l.Snapshot().Len() != 1 {
		t.Errorf("in-memory Len = %d, want 1", l.Snapshot().Len())
	}
	if disk := store.Load(ctx).Len(); disk != 1 {
		t.Errorf("on-disk Len = %d, want 1", disk)
	}
}

func TestLog_ClearThenLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "h.json")
	l := NewLog(ctx, NewFileStore(path))
	for _, m := range []types.Message{types.UserMessage("A", "hi"), types.ModelMessage("yo")} {
		if _, err := l.AppendAndPersist(ctx, m); err != nil {
			t.Fatalf("AppendAndPersist: %v", err)
		}
	}

	if err := l.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if l.Snapshot().Len() != 0 {
		t.Error("in-memory history not cleared")
	}
	if got := NewFileStore(path).Load(ctx).Len(); got != 0 {
		t.Errorf("reloaded Len = %d, want 0", got)
	}
}

func TestLog_ClearFailureKeepsHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &failingStore{Store: NewFileStore(filepath.Join(t.TempDir(), "h.json"))}
	l := NewLog(ctx, store)
	if _, err := l.AppendAndPersist(ctx, types.UserMessage("A", "hi")); err != nil {
		t.Fatal(err)
	}

	store.setFail(true)
	if err := l.Clear(ctx); !errors.Is(err, ErrPersist) {
		t.Fatalf("Clear err = %v, want ErrPersist", err)
	}
	if l.Snapshot().Len() != 1 {
		t.Error("history dropped despite failed clear")
	}
}

func TestLog_ConcurrentAppendsKeepEveryMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewLog(ctx, NewFileStore(filepath.Join(t.TempDir(), "h.json")))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.AppendAndPersist(ctx, types.ModelMessage(strings.Repeat("x", i+1))); err != nil {
				t.Errorf("AppendAndPersist: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := l.Snapshot().Len(); got != 20 {
		t.Errorf("Len = %d, want 20", got)
	}
}

func TestMemoryStore_FailWith(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(New(types.ModelMessage("seed")))
	l := NewLog(ctx, s)

	s.FailWith(errors.New("disk full"))
	if _, err := l.AppendAndPersist(ctx, types.UserMessage("a", "x")); !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if got := s.Load(ctx).Len(); got != 1 {
		t.Errorf("stored len = %d, want 1", got)
	}

	s.FailWith(nil)
	if _, err := l.AppendAndPersist(ctx, types.UserMessage("a", "x")); err != nil {
		t.Fatalf("AppendAndPersist: %v", err)
	}
	if s.Writes() != 1 || s.Load(ctx).Len() != 2 {
		t.Errorf("writes = %d len = %d, want 1 and 2", s.Writes(), s.Load(ctx).Len())
	}
}

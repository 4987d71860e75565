package voicevox_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/voicevox"
)

// engine is a minimal VOICEVOX stand-in that records what it was asked.
type engine struct {
	mu         sync.Mutex
	queryText  string
	querySpkr  string
	synthSpkr  string
	synthBody  string
	queryCalls int
}

func (e *engine) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /audio_query", func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.queryCalls++
		e.queryText = r.URL.Query().Get("text")
		e.querySpkr = r.URL.Query().Get("speaker")
		e.mu.Unlock()
		_, _ = w.Write([]byte(`{"accent_phrases":[],"speedScale":1.0}`))
	})
	mux.HandleFunc("POST /synthesis", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		e.mu.Lock()
		e.synthSpkr = r.URL.Query().Get("speaker")
		e.synthBody = string(body)
		e.mu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFfakewav"))
	})
	mux.HandleFunc("GET /speakers", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name":"四国めたん","styles":[{"id":2,"name":"ノーマル"},{"id":0,"name":"あまあま"}]},
			{"name":"ずんだもん","styles":[{"id":3,"name":"ノーマル"}]}
		]`))
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`"0.14.0"`))
	})
	return mux
}

func newEngine(t *testing.T) (*engine, *httptest.Server) {
	t.Helper()
	e := &engine{}
	srv := httptest.NewServer(e.handler())
	t.Cleanup(srv.Close)
	return e, srv
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"こんにちは", "こんにちは"},
		{"  [笑] こんにちは [手を振る] ", "こんにちは"},
		{"[a][b]", ""},
		{"a [b] c", "a  c"},
	}
	for _, tt := range tests {
		if got := voicevox.CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSynthesize_WritesWAV(t *testing.T) {
	t.Parallel()

	e, srv := newEngine(t)
	dir := t.TempDir()
	p, err := voicevox.New(srv.URL, voicevox.WithTempDir(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path, err := p.Synthesize(context.Background(), "[笑]こんにちは", 3)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("path %q not in temp dir %q", path, dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "RIFFfakewav" {
		t.Errorf("file content = %q", data)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queryText != "こんにちは" || e.querySpkr != "3" || e.synthSpkr != "3" {
		t.Errorf("query text=%q speaker=%q synth speaker=%q", e.queryText, e.querySpkr, e.synthSpkr)
	}
	if e.synthBody != `{"accent_phrases":[],"speedScale":1.0}` {
		t.Errorf("synthesis body = %q, want audio query", e.synthBody)
	}
}

func TestSynthesize_UniqueFiles(t *testing.T) {
	t.Parallel()

	_, srv := newEngine(t)
	p, _ := voicevox.New(srv.URL, voicevox.WithTempDir(t.TempDir()))

	a, err := p.Synthesize(context.Background(), "一", 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Synthesize(context.Background(), "二", 1)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("both syntheses wrote %q", a)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	e, srv := newEngine(t)
	p, _ := voicevox.New(srv.URL)

	_, err := p.Synthesize(context.Background(), " [効果音] ", 1)
	if !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queryCalls != 0 {
		t.Errorf("engine called %d times for empty text", e.queryCalls)
	}
}

func TestSynthesize_EngineError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"speaker not found"}`, http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	p, _ := voicevox.New(srv.URL, voicevox.WithTempDir(t.TempDir()))
	if _, err := p.Synthesize(context.Background(), "テスト", 999); err == nil {
		t.Fatal("expected error")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	_, srv := newEngine(t)
	p, _ := voicevox.New(srv.URL)

	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	want := []tts.Voice{
		{ID: 2, Name: "四国めたん", StyleName: "ノーマル"},
		{ID: 0, Name: "四国めたん", StyleName: "あまあま"},
		{ID: 3, Name: "ずんだもん", StyleName: "ノーマル"},
	}
	if len(voices) != len(want) {
		t.Fatalf("voices = %d, want %d", len(voices), len(want))
	}
	for i := range want {
		if voices[i] != want[i] {
			t.Errorf("voices[%d] = %+v, want %+v", i, voices[i], want[i])
		}
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	_, srv := newEngine(t)
	p, _ := voicevox.New(srv.URL)
	if err := p.Check(context.Background()); err != nil {
		t.Errorf("Check: %v", err)
	}

	srv.Close()
	if err := p.Check(context.Background()); err == nil {
		t.Error("expected error once engine is down")
	}
}

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := voicevox.New(""); err == nil {
		t.Fatal("expected error")
	}
}

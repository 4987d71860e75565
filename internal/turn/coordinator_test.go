package turn_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/voxrelay/internal/history"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/turn"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxrelay/pkg/provider/llm/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxrelay/pkg/provider/stt/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
	"github.com/MrWong99/voxrelay/pkg/types"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

type recorder struct {
	mu     sync.Mutex
	events []turn.Event
}

func (r *recorder) Notify(_ context.Context, ev turn.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds(k turn.EventKind) []turn.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []turn.Event
	for _, ev := range r.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

type player struct {
	mu      sync.Mutex
	played  []string
	active  int
	overlap bool
	delay   time.Duration
	err     error
}

func (p *player) Play(_ context.Context, path string) error {
	p.mu.Lock()
	p.active++
	if p.active > 1 {
		p.overlap = true
	}
	data, _ := os.ReadFile(path)
	p.played = append(p.played, string(data))
	p.mu.Unlock()

	time.Sleep(p.delay)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return p.err
}

func (p *player) snapshot() ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...), p.overlap
}

// fileTTS writes the reply text to a temp file, like a real engine writes WAV.
func fileTTS(t *testing.T) *ttsmock.Provider {
	t.Helper()
	dir := t.TempDir()
	var n atomic.Int32
	return &ttsmock.Provider{
		SynthesizeFunc: func(_ context.Context, text string, _ int) (string, error) {
			path := filepath.Join(dir, fmt.Sprintf("reply-%d.wav", n.Add(1)))
			return path, os.WriteFile(path, []byte(text), 0o600)
		},
	}
}

type fixture struct {
	stt      *sttmock.Provider
	llm      *llmmock.Provider
	tts      *ttsmock.Provider
	store    *history.MemoryStore
	log      *history.Log
	notes    *recorder
	player   *player
	settings turn.Settings
	c        *turn.Coordinator
}

func newFixture(t *testing.T, opts ...turn.Option) *fixture {
	t.Helper()
	f := &fixture{
		stt:      &sttmock.Provider{Result: stt.Transcription{Text: "こんにちは", ProcessingTime: 120 * time.Millisecond}},
		llm:      &llmmock.Provider{Result: llm.Generation{Text: "こんにちは、元気？", ProcessingTime: 300 * time.Millisecond}},
		tts:      fileTTS(t),
		store:    history.NewMemoryStore(history.History{}),
		notes:    &recorder{},
		player:   &player{},
		settings: turn.Settings{VoiceID: 1, MaxVoiceLength: 300, MaxTokens: 150, SystemPrompt: "be nice"},
	}
	f.log = history.NewLog(context.Background(), f.store)
	opts = append([]turn.Option{turn.WithNotifier(f.notes)}, opts...)
	f.c = turn.New(f.stt, f.llm, f.tts, f.log, func() turn.Settings { return f.settings }, opts...)
	return f
}

func voiceInput(p turn.Player) turn.Input {
	return turn.Input{
		Source:    turn.SourceVoice,
		Speaker:   "A",
		Audio:     stt.Audio{PCM: make([]byte, 2*48000*2), SampleRate: 48000},
		ChannelID: "text-1",
		Player:    p,
	}
}

// ─── end-to-end ───────────────────────────────────────────────────────────────

func TestProcess_VoiceTurnEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.c.Process(context.Background(), voiceInput(f.player))
	f.c.Wait()

	if res.Final != turn.StateIdle || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	wantPath := []turn.State{turn.StateIdle, turn.StateTranscribing, turn.StateGenerating, turn.StateSynthesizing, turn.StatePlaying, turn.StateIdle}
	if fmt.Sprint(res.Path) != fmt.Sprint(wantPath) {
		t.Errorf("path = %v, want %v", res.Path, wantPath)
	}

	msgs := f.log.Snapshot().Messages()
	want := []types.Message{
		{Role: types.RoleUser, Content: "A: こんにちは"},
		{Role: types.RoleModel, Content: "こんにちは、元気？"},
	}
	if len(msgs) != 2 || msgs[0] != want[0] || msgs[1] != want[1] {
		t.Errorf("history = %v, want %v", msgs, want)
	}
	if f.tts.SynthesizeCount() != 1 {
		t.Errorf("tts calls = %d, want 1", f.tts.SynthesizeCount())
	}
	played, _ := f.player.snapshot()
	if len(played) != 1 || played[0] != "こんにちは、元気？" {
		t.Errorf("played = %v", played)
	}
	if got := len(f.notes.kinds(turn.EventTranscribed)); got != 1 {
		t.Errorf("transcribed events = %d, want 1", got)
	}
	replied := f.notes.kinds(turn.EventReplied)
	if len(replied) != 1 || replied[0].ChannelID != "text-1" || replied[0].Elapsed != 300*time.Millisecond {
		t.Errorf("replied events = %+v", replied)
	}
	if res.Outcome() != "spoken" {
		t.Errorf("Outcome = %q", res.Outcome())
	}
}

func TestProcess_SynthesizedFileRemovedAfterPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var path string
	f.tts.SynthesizeFunc = func(_ context.Context, text string, _ int) (string, error) {
		path = filepath.Join(t.TempDir(), "out.wav")
		return path, os.WriteFile(path, []byte(text), 0o600)
	}
	f.c.Process(context.Background(), voiceInput(f.player))
	f.c.Wait()

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("synthesized file still present: %v", err)
	}
}

func TestProcess_EmptyTranscriptAbortsBeforeGenerate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.stt.Result = stt.Transcription{Text: "  "}

	res := f.c.Process(context.Background(), voiceInput(f.player))

	if res.Final != turn.StateAborted || res.Step != turn.StepTranscribe || !errors.Is(res.Err, turn.ErrEmptyTranscript) {
		t.Fatalf("result = %+v", res)
	}
	if f.llm.CallCount() != 0 {
		t.Errorf("llm called %d times", f.llm.CallCount())
	}
	if f.log.Snapshot().Len() != 0 {
		t.Errorf("history len = %d, want 0", f.log.Snapshot().Len())
	}
	failed := f.notes.kinds(turn.EventFailed)
	if len(failed) != 1 || failed[0].Step != turn.StepTranscribe {
		t.Errorf("failed events = %+v, want exactly one transcribe failure", failed)
	}
	if res.Outcome() != "empty" {
		t.Errorf("Outcome = %q, want empty", res.Outcome())
	}
}

func TestProcess_TranscribeError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.stt.Err = errors.New("503")

	res := f.c.Process(context.Background(), voiceInput(f.player))
	if res.Step != turn.StepTranscribe || res.Outcome() != "failed" {
		t.Fatalf("result = %+v", res)
	}
	if f.log.Snapshot().Len() != 0 || f.llm.CallCount() != 0 {
		t.Error("history or llm touched after transcription failure")
	}
}

// ─── voice length ─────────────────────────────────────────────────────────────

func TestProcess_VoiceLengthBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		length    int
		wantSpeak bool
	}{
		{"at limit", 300, true},
		{"over limit", 301, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.llm.Result = llm.Generation{Text: strings.Repeat("あ", tt.length)}

			res := f.c.Process(context.Background(), voiceInput(f.player))
			f.c.Wait()

			if res.Final != turn.StateIdle {
				t.Fatalf("result = %+v", res)
			}
			if res.Spoken != tt.wantSpeak {
				t.Errorf("Spoken = %v, want %v", res.Spoken, tt.wantSpeak)
			}
			wantCalls := 0
			if tt.wantSpeak {
				wantCalls = 1
			}
			if f.tts.SynthesizeCount() != wantCalls {
				t.Errorf("tts calls = %d, want %d", f.tts.SynthesizeCount(), wantCalls)
			}
			if got := len(f.notes.kinds(turn.EventVoiceSkipped)); got != 1-wantCalls {
				t.Errorf("voice skipped events = %d", got)
			}
			if f.log.Snapshot().Len() != 2 {
				t.Errorf("history len = %d, want 2 (too-long replies are still recorded)", f.log.Snapshot().Len())
			}
		})
	}
}

func TestProcess_NoPlayerDeliversTextOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.c.Process(context.Background(), turn.Input{Source: turn.SourceText, Speaker: "bob", Text: "hello"})

	if res.Final != turn.StateIdle || res.Spoken {
		t.Fatalf("result = %+v", res)
	}
	if f.stt.CallCount() != 0 || f.tts.SynthesizeCount() != 0 {
		t.Error("stt or tts called for a text-only turn")
	}
	if got := f.log.Snapshot().Messages()[0].Content; got != "bob: hello" {
		t.Errorf("user line = %q", got)
	}
}

func TestProcess_UnspeakableReplyIsNotAFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tts.SynthesizeFunc = nil
	f.tts.SynthesizeErr = tts.ErrEmptyText

	res := f.c.Process(context.Background(), voiceInput(f.player))
	if res.Final != turn.StateIdle || res.Spoken {
		t.Fatalf("result = %+v", res)
	}
	if len(f.notes.kinds(turn.EventFailed)) != 0 {
		t.Error("unexpected failure notification")
	}
}

func TestProcess_SynthesizeError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tts.SynthesizeFunc = nil
	f.tts.SynthesizeErr = errors.New("engine down")

	res := f.c.Process(context.Background(), voiceInput(f.player))
	if res.Final != turn.StateAborted || res.Step != turn.StepSynthesize {
		t.Fatalf("result = %+v", res)
	}
	if f.log.Snapshot().Len() != 2 {
		t.Errorf("history len = %d, want 2", f.log.Snapshot().Len())
	}
}

// ─── history consistency ──────────────────────────────────────────────────────

func TestProcess_GenerateFailureLeavesUserLineOutOfNextContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.llm.Err = errors.New("quota")

	res := f.c.Process(context.Background(), turn.Input{Source: turn.SourceText, Speaker: "A", Text: "first"})
	if res.Step != turn.StepGenerate {
		t.Fatalf("result = %+v", res)
	}
	msgs := f.log.Snapshot().Messages()
	if len(msgs) != 1 || msgs[0].Role != types.RoleUser {
		t.Fatalf("history = %v, want only the user line", msgs)
	}

	f.llm.Err = nil
	f.c.Process(context.Background(), turn.Input{Source: turn.SourceText, Speaker: "A", Text: "second"})

	req, _ := f.llm.LastRequest()
	if len(req.History) != 0 {
		t.Errorf("context = %v, want dangling line dropped", req.History)
	}
	if req.Message != "A: second" || req.SystemPrompt != "be nice" || req.MaxTokens != 150 {
		t.Errorf("request = %+v", req)
	}
}

func TestProcess_EmptyReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.llm.Result = llm.Generation{Text: "\n"}

	res := f.c.Process(context.Background(), voiceInput(f.player))
	if !errors.Is(res.Err, turn.ErrEmptyReply) || res.Outcome() != "empty" {
		t.Fatalf("result = %+v", res)
	}
	if f.tts.SynthesizeCount() != 0 {
		t.Error("tts called for empty reply")
	}
}

func TestProcess_PersistFailureReportsTurnFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.FailWith(errors.New("read-only fs"))

	res := f.c.Process(context.Background(), voiceInput(f.player))
	if res.Step != turn.StepPersist || !errors.Is(res.Err, history.ErrPersist) {
		t.Fatalf("result = %+v", res)
	}
	if f.llm.CallCount() != 0 {
		t.Error("llm called although the user line could not be stored")
	}
	if f.log.Snapshot().Len() != 0 {
		t.Error("in-memory history diverged from storage")
	}
	if len(f.notes.kinds(turn.EventReplied)) != 0 {
		t.Error("reply presented although it was not recorded")
	}
}

func TestProcess_NoContextSendsEmptyHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.c.Process(context.Background(), turn.Input{Source: turn.SourceText, Speaker: "A", Text: "one"})

	f.settings.NoContext = true
	res := f.c.Process(context.Background(), turn.Input{Source: turn.SourceText, Speaker: "A", Text: "two"})

	req, _ := f.llm.LastRequest()
	if len(req.History) != 0 {
		t.Errorf("context = %v, want none", req.History)
	}
	if !res.NoContext || !f.notes.kinds(turn.EventReplied)[1].NoContext {
		t.Error("no-context flag not reported")
	}
	if f.log.Snapshot().Len() != 4 {
		t.Errorf("history len = %d, want 4", f.log.Snapshot().Len())
	}
}

func TestProcess_ConcurrentTurnsAreSerializedAtHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var inFlight, maxInFlight atomic.Int32
	f.llm.GenerateFunc = func(_ context.Context, req llm.Request) (llm.Generation, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return llm.Generation{Text: "re " + req.Message}, nil
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.c.Process(context.Background(), turn.Input{Source: turn.SourceText, Speaker: fmt.Sprint(i), Text: "hi"})
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent generations = %d, want 1", maxInFlight.Load())
	}
	msgs := f.log.Snapshot().Messages()
	if len(msgs) != 16 {
		t.Fatalf("history len = %d, want 16", len(msgs))
	}
	for i := 0; i < len(msgs); i += 2 {
		if msgs[i].Role != types.RoleUser || msgs[i+1].Role != types.RoleModel || msgs[i+1].Content != "re "+msgs[i].Content {
			t.Errorf("pair %d out of order: %v %v", i/2, msgs[i], msgs[i+1])
		}
	}
}

func TestClearHistory_WaitsForTurnWritingHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	generating := make(chan struct{})
	release := make(chan struct{})
	f.llm.GenerateFunc = func(context.Context, llm.Request) (llm.Generation, error) {
		close(generating)
		<-release
		return llm.Generation{Text: "reply"}, nil
	}

	turnDone := make(chan turn.Result, 1)
	go func() {
		turnDone <- f.c.Process(context.Background(), turn.Input{Source: turn.SourceText, Speaker: "A", Text: "hi"})
	}()
	<-generating

	cleared := make(chan error, 1)
	go func() { cleared <- f.c.ClearHistory(context.Background()) }()

	select {
	case err := <-cleared:
		t.Fatalf("ClearHistory returned (%v) while the turn was generating", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if res := <-turnDone; res.Final != turn.StateIdle {
		t.Fatalf("turn final = %v, err = %v", res.Final, res.Err)
	}
	if err := <-cleared; err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if msgs := f.log.Snapshot().Messages(); len(msgs) != 0 {
		t.Fatalf("history after clear = %v, want empty", msgs)
	}

	f.llm.GenerateFunc = nil
	f.c.Process(context.Background(), turn.Input{Source: turn.SourceText, Speaker: "A", Text: "again"})
	msgs := f.log.Snapshot().Messages()
	if len(msgs) != 2 || msgs[0].Role != types.RoleUser || msgs[1].Role != types.RoleModel {
		t.Errorf("history after next turn = %v, want one user/model pair", msgs)
	}
}

// ─── playback ─────────────────────────────────────────────────────────────────

func TestProcess_PlaybackIsQueuedInTurnOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.player.delay = 20 * time.Millisecond
	var n atomic.Int32
	f.llm.GenerateFunc = func(context.Context, llm.Request) (llm.Generation, error) {
		return llm.Generation{Text: fmt.Sprintf("reply %d", n.Add(1))}, nil
	}

	for range 3 {
		f.c.Process(context.Background(), voiceInput(f.player))
	}
	f.c.Wait()

	played, overlap := f.player.snapshot()
	if overlap {
		t.Error("two replies were played at the same time")
	}
	want := []string{"reply 1", "reply 2", "reply 3"}
	if fmt.Sprint(played) != fmt.Sprint(want) {
		t.Errorf("played = %v, want %v", played, want)
	}
}

type blockingPlayer struct{ release chan struct{} }

func (b blockingPlayer) Play(context.Context, string) error {
	<-b.release
	return nil
}

func TestProcess_DoesNotWaitForPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := blockingPlayer{release: make(chan struct{})}

	done := make(chan turn.Result, 1)
	go func() { done <- f.c.Process(context.Background(), voiceInput(p)) }()
	select {
	case res := <-done:
		if !res.Spoken {
			t.Errorf("result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process blocked on playback")
	}
	close(p.release)
	f.c.Wait()
}

func TestProcess_PlaybackErrorNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.player.err = errors.New("voice disconnected")
	f.c.Process(context.Background(), voiceInput(f.player))
	f.c.Wait()

	failed := f.notes.kinds(turn.EventFailed)
	if len(failed) != 1 || failed[0].Step != turn.StepPlay {
		t.Errorf("failed events = %+v", failed)
	}
}

// ─── submit / lifecycle ───────────────────────────────────────────────────────

func TestSubmit_RunsInBackgroundAndCallsHook(t *testing.T) {
	t.Parallel()

	results := make(chan turn.Result, 1)
	f := newFixture(t, turn.WithTurnHook(func(r turn.Result) { results <- r }), turn.WithIDGenerator(func() string { return "t-1" }))

	ctx, cancel := context.WithCancel(context.Background())
	if err := f.c.Submit(ctx, voiceInput(nil)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	cancel()

	select {
	case r := <-results:
		if r.ID != "t-1" || r.Final != turn.StateIdle {
			t.Errorf("result = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not finish")
	}
	f.c.Wait()
	if f.c.Pending() != 0 {
		t.Errorf("Pending = %d", f.c.Pending())
	}
}

func TestSubmit_RejectsWhenBusyOrClosed(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := newFixture(t, turn.WithMaxPending(1))
	f.stt.TranscribeFunc = func(context.Context, stt.Audio) (stt.Transcription, error) {
		<-release
		return stt.Transcription{Text: "x"}, nil
	}

	if err := f.c.Submit(context.Background(), voiceInput(nil)); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := f.c.Submit(context.Background(), voiceInput(nil)); !errors.Is(err, turn.ErrBusy) {
		t.Errorf("second Submit = %v, want ErrBusy", err)
	}
	close(release)

	f.c.Close()
	f.c.Wait()
	if err := f.c.Submit(context.Background(), voiceInput(nil)); !errors.Is(err, turn.ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
	if res := f.c.Process(context.Background(), voiceInput(nil)); !errors.Is(res.Err, turn.ErrClosed) {
		t.Errorf("Process after Close = %+v", res)
	}
}

func TestProcess_PanicBecomesAbortedTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.llm.GenerateFunc = func(context.Context, llm.Request) (llm.Generation, error) {
		panic("boom")
	}

	res := f.c.Process(context.Background(), voiceInput(nil))
	if res.Final != turn.StateAborted || res.Step != turn.StepGenerate {
		t.Fatalf("result = %+v", res)
	}

	// The conversation lock must have been released.
	f.llm.GenerateFunc = nil
	done := make(chan turn.Result, 1)
	go func() { done <- f.c.Process(context.Background(), voiceInput(nil)) }()
	select {
	case r := <-done:
		if r.Final != turn.StateIdle {
			t.Errorf("follow-up result = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("conversation lock still held after panic")
	}
}

func TestProcess_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, turn.WithMetrics(m))
	f.c.Process(context.Background(), voiceInput(nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
		}
	}
	for _, name := range []string{"voxrelay.turns", "voxrelay.turn.duration", "voxrelay.stt.duration", "voxrelay.llm.duration"} {
		if !found[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

// Not parallel: installs a global tracer provider.
func TestProcess_StageSpansNestUnderTurnSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	f := newFixture(t)
	res := f.c.Process(context.Background(), voiceInput(f.player))
	f.c.Wait()
	if res.Final != turn.StateIdle {
		t.Fatalf("result = %+v", res)
	}

	byName := map[string]tracetest.SpanStub{}
	for _, s := range exp.GetSpans() {
		byName[s.Name] = s
	}
	root, ok := byName["turn"]
	if !ok {
		t.Fatalf("no turn span in %v", exp.GetSpans())
	}
	for _, stage := range []string{"stt", "llm", "tts"} {
		s, ok := byName[stage]
		if !ok {
			t.Errorf("no %s span", stage)
			continue
		}
		if s.Parent.SpanID() != root.SpanContext.SpanID() {
			t.Errorf("%s span is not a child of the turn span", stage)
		}
	}
}

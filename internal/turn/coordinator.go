package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxrelay/internal/history"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/types"
)

const defaultMaxPending = 8

// Option is a functional option for [New].
type Option func(*Coordinator)

// WithNotifier sets the receiver of user-visible turn events. Defaults to
// [LogNotifier].
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithMetrics records stage latencies and turn outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithHistoryLimit caps the number of history messages sent to the model.
// Zero (the default) sends the whole history.
func WithHistoryLimit(n int) Option {
	return func(c *Coordinator) { c.historyLimit = n }
}

// WithMaxPending sets how many submitted turns may be in flight before
// Submit starts rejecting. Zero disables the limit.
func WithMaxPending(n int) Option {
	return func(c *Coordinator) { c.maxPending = n }
}

// WithTurnHook registers fn to be called after every turn with its result.
func WithTurnHook(fn func(Result)) Option {
	return func(c *Coordinator) { c.hooks = append(c.hooks, fn) }
}

// WithIDGenerator replaces the turn id source. Intended for tests.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) { c.newID = fn }
}

// Coordinator runs turns against one conversation.
//
// Coordinator is safe for concurrent use.
type Coordinator struct {
	stt      stt.Provider
	llm      llm.Provider
	tts      tts.Provider
	history  *history.Log
	settings func() Settings

	notifier     Notifier
	metrics      *observe.Metrics
	historyLimit int
	maxPending   int
	hooks        []func(Result)
	newID        func() string

	// convMu serializes the history-writing part of every turn.
	convMu sync.Mutex
	// lastPlay is closed when the most recently queued playback finishes.
	// Guarded by convMu.
	lastPlay chan struct{}

	mu      sync.Mutex
	closed  bool
	pending int
	wg      sync.WaitGroup
}

// New creates a Coordinator. settings is called once at the start of every
// turn.
func New(sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, log *history.Log, settings func() Settings, opts ...Option) *Coordinator {
	c := &Coordinator{
		stt:        sttP,
		llm:        llmP,
		tts:        ttsP,
		history:    log,
		settings:   settings,
		notifier:   LogNotifier{},
		maxPending: defaultMaxPending,
		newID:      uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit accepts in for background processing and returns immediately. It
// returns [ErrClosed] after Close and [ErrBusy] when the pending limit is
// reached. The turn is not cancelled when ctx is.
func (c *Coordinator) Submit(ctx context.Context, in Input) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.maxPending > 0 && c.pending >= c.maxPending {
		c.mu.Unlock()
		return ErrBusy
	}
	c.pending++
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			c.pending--
			c.mu.Unlock()
		}()
		c.process(context.WithoutCancel(ctx), in)
	}()
	return nil
}

// Process runs one turn to completion and returns its result. Playback of
// the reply is queued and may still be running when Process returns.
func (c *Coordinator) Process(ctx context.Context, in Input) Result {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{Source: in.Source, Final: StateAborted, Path: []State{StateIdle, StateAborted}, Err: ErrClosed}
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	return c.process(ctx, in)
}

// Pending returns the number of submitted turns not yet finished.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Close stops accepting new turns. Turns already running are unaffected.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// ClearHistory resets the conversation to empty. It waits for the turn
// currently writing history so a reply never lands in a cleared log.
func (c *Coordinator) ClearHistory(ctx context.Context) error {
	c.convMu.Lock()
	defer c.convMu.Unlock()
	return c.history.Clear(ctx)
}

// Wait blocks until every running turn and queued playback has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// ─── turn execution ───────────────────────────────────────────────────────────

// run carries the mutable state of one turn.
type run struct {
	in  Input
	set Settings
	res Result
	log *slog.Logger
}

func (c *Coordinator) process(ctx context.Context, in Input) (res Result) {
	start := time.Now()
	id := c.newID()

	ctx, span := observe.StartTurnSpan(ctx, id, string(in.Source))
	defer span.End()

	r := &run{
		in:  in,
		set: c.settings(),
		res: Result{ID: id, Source: in.Source, Path: []State{StateIdle}},
	}
	r.res.NoContext = r.set.NoContext
	r.log = observe.Logger(ctx).With("turn_id", id, "source", string(in.Source), "speaker", in.Speaker)

	defer func() {
		if rec := recover(); rec != nil {
			c.abort(ctx, r, r.failedStep(), fmt.Errorf("turn: panic: %v", rec))
		}
		r.res.Duration = time.Since(start)
		if r.res.Final == StateAborted {
			span.SetStatus(codes.Error, string(r.res.Step))
		}
		if c.metrics != nil {
			c.metrics.RecordTurn(ctx, string(in.Source), r.res.Outcome(), r.res.Duration.Seconds())
		}
		for _, h := range c.hooks {
			h(r.res)
		}
		res = r.res
	}()

	text, ok := c.transcribe(ctx, r)
	if !ok {
		return
	}
	r.res.Transcript = text
	c.converse(ctx, r, text)
	return
}

func (c *Coordinator) transcribe(ctx context.Context, r *run) (string, bool) {
	if r.in.Source != SourceVoice {
		text := strings.TrimSpace(r.in.Text)
		if text == "" {
			c.abort(ctx, r, StepTranscribe, ErrEmptyTranscript)
			return "", false
		}
		return text, true
	}

	r.enter(StateTranscribing)
	sctx, span := observe.StartSpan(ctx, "stt")
	tr, err := c.stt.Transcribe(sctx, r.in.Audio)
	endSpan(span, err)
	if c.metrics != nil {
		c.metrics.STTDuration.Record(ctx, tr.ProcessingTime.Seconds())
	}
	if err != nil {
		c.abort(ctx, r, StepTranscribe, fmt.Errorf("turn: transcribe: %w", err))
		return "", false
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		c.abort(ctx, r, StepTranscribe, ErrEmptyTranscript)
		return "", false
	}
	r.log.Info("turn: transcribed", "text", text, "confidence", tr.Confidence, "elapsed", tr.ProcessingTime)
	c.notify(ctx, r, Event{Kind: EventTranscribed, Text: text, Elapsed: tr.ProcessingTime})
	return text, true
}

// converse holds the conversation lock from the user-line write until the
// reply has been handed to playback.
func (c *Coordinator) converse(ctx context.Context, r *run, text string) {
	c.convMu.Lock()
	defer c.convMu.Unlock()

	r.enter(StateGenerating)

	var prior []types.Message
	if !r.set.NoContext {
		prior = ContextMessages(c.history.Snapshot().Messages(), c.historyLimit)
	}

	user := types.UserMessage(r.in.Speaker, text)
	if _, err := c.history.AppendAndPersist(ctx, user); err != nil {
		c.abort(ctx, r, StepPersist, err)
		return
	}

	gctx, span := observe.StartSpan(ctx, "llm")
	gen, err := c.llm.Generate(gctx, llm.Request{
		Message:      user.Content,
		History:      prior,
		SystemPrompt: r.set.SystemPrompt,
		MaxTokens:    r.set.MaxTokens,
	})
	endSpan(span, err)
	if c.metrics != nil {
		c.metrics.LLMDuration.Record(ctx, gen.ProcessingTime.Seconds())
	}
	if err != nil {
		c.abort(ctx, r, StepGenerate, fmt.Errorf("turn: generate: %w", err))
		return
	}
	reply := strings.TrimSpace(gen.Text)
	if reply == "" {
		c.abort(ctx, r, StepGenerate, ErrEmptyReply)
		return
	}

	if _, err := c.history.AppendAndPersist(ctx, types.ModelMessage(reply)); err != nil {
		c.abort(ctx, r, StepPersist, err)
		return
	}
	r.res.Reply = reply
	r.log.Info("turn: replied", "chars", utf8.RuneCountInString(reply), "no_context", r.set.NoContext, "elapsed", gen.ProcessingTime)
	c.notify(ctx, r, Event{Kind: EventReplied, Text: reply, NoContext: r.set.NoContext, Elapsed: gen.ProcessingTime})

	if r.in.Player == nil {
		r.finish()
		return
	}
	if limit := r.set.MaxVoiceLength; limit > 0 && utf8.RuneCountInString(reply) > limit {
		r.log.Info("turn: reply too long to speak", "chars", utf8.RuneCountInString(reply), "max", limit)
		c.notify(ctx, r, Event{Kind: EventVoiceSkipped, Text: reply})
		r.finish()
		return
	}

	r.enter(StateSynthesizing)
	tctx, span := observe.StartSpan(ctx, "tts")
	tstart := time.Now()
	path, err := c.tts.Synthesize(tctx, reply, r.set.VoiceID)
	endSpan(span, err)
	if c.metrics != nil {
		c.metrics.TTSDuration.Record(ctx, time.Since(tstart).Seconds())
	}
	switch {
	case errors.Is(err, tts.ErrEmptyText):
		r.log.Debug("turn: nothing speakable in reply")
		r.finish()
		return
	case err != nil:
		c.abort(ctx, r, StepSynthesize, fmt.Errorf("turn: synthesize: %w", err))
		return
	}

	r.enter(StatePlaying)
	c.queuePlayback(ctx, r, path)
	r.res.Spoken = true
	r.finish()
}

// queuePlayback starts playback of path once the previously queued playback
// has finished. The file is removed afterwards. Must be called with convMu
// held.
func (c *Coordinator) queuePlayback(ctx context.Context, r *run, path string) {
	prev := c.lastPlay
	done := make(chan struct{})
	c.lastPlay = done

	player := r.in.Player
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer func() {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				r.log.Warn("turn: remove synthesized audio", "path", path, "err", err)
			}
		}()
		if prev != nil {
			<-prev
		}
		if err := player.Play(context.WithoutCancel(ctx), path); err != nil {
			r.log.Error("turn: playback failed", "err", err)
			c.notify(ctx, r, Event{Kind: EventFailed, Step: StepPlay, Err: err})
		}
	}()
}

func (c *Coordinator) abort(ctx context.Context, r *run, step Step, err error) {
	r.res.Step = step
	r.res.Err = err
	r.enter(StateAborted)
	r.res.Final = StateAborted

	if errors.Is(err, ErrEmptyTranscript) || errors.Is(err, ErrEmptyReply) {
		r.log.Info("turn: nothing to do", "step", string(step), "err", err)
	} else {
		r.log.Error("turn: aborted", "step", string(step), "err", err)
	}
	c.notify(ctx, r, Event{Kind: EventFailed, Step: step, Err: err})
}

func (c *Coordinator) notify(ctx context.Context, r *run, ev Event) {
	ev.TurnID = r.res.ID
	ev.Source = r.in.Source
	ev.ChannelID = r.in.ChannelID
	ev.Speaker = r.in.Speaker
	c.notifier.Notify(ctx, ev)
}

func (r *run) enter(s State) {
	r.log.Debug("turn: state", "state", s.String())
	r.res.Path = append(r.res.Path, s)
}

func (r *run) finish() {
	r.enter(StateIdle)
	r.res.Final = StateIdle
}

// failedStep maps the current state to the step that was running.
func (r *run) failedStep() Step {
	switch r.res.Path[len(r.res.Path)-1] {
	case StateTranscribing:
		return StepTranscribe
	case StateSynthesizing:
		return StepSynthesize
	case StatePlaying:
		return StepPlay
	default:
		return StepGenerate
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

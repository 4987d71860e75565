package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Utterance is one captured unit of speech ready for transcription.
type Utterance struct {
	SpeakerID string
	Start     time.Time
	End       time.Time

	// PCM is 16-bit little-endian mono audio at SampleRate.
	PCM        []byte
	SampleRate int
}

// DurationSeconds returns the audio length derived from the buffer size.
func (u Utterance) DurationSeconds() float64 {
	return audio.DurationSeconds(len(u.PCM), u.SampleRate)
}

// Outcome is the resolution of one speech-start event.
type Outcome int

const (
	// OutcomeIgnored means a capture for the speaker was already active.
	OutcomeIgnored Outcome = iota

	// OutcomeNoData means the stream ended without decodable audio.
	OutcomeNoData

	// OutcomeTooShort means the utterance was below the minimum duration and
	// was discarded.
	OutcomeTooShort

	// OutcomeAccepted means the handler took the utterance.
	OutcomeAccepted

	// OutcomeRejected means the handler refused the utterance.
	OutcomeRejected

	// OutcomeFailed means capture failed or the handler panicked.
	OutcomeFailed
)

// String implements [fmt.Stringer].
func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeNoData:
		return "no_data"
	case OutcomeTooShort:
		return "too_short"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// CaptureFunc records one utterance of speakerID.
type CaptureFunc func(ctx context.Context, speakerID string) (Capture, error)

// Handler receives an utterance that passed the duration check. It must
// decide synchronously: a nil error accepts the utterance, a non-nil error
// rejects it. Long-running work belongs in a goroutine started by the
// handler.
type Handler func(ctx context.Context, u Utterance) error

// Gate allows at most one capture per speaker at a time and filters out
// utterances shorter than the configured minimum. Different speakers are
// captured in parallel.
//
// Gate is safe for concurrent use.
type Gate struct {
	minDuration time.Duration
	capture     CaptureFunc
	handle      Handler
	metrics     *observe.Metrics

	mu     sync.Mutex
	active map[string]time.Time // speaker → capture start
}

// GateOption is a functional option for [NewGate].
type GateOption func(*Gate)

// WithMetrics records every gate decision and dropped frame on m.
func WithMetrics(m *observe.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate returns a Gate that captures with capture and hands utterances of
// at least minDuration to handle.
func NewGate(minDuration time.Duration, capture CaptureFunc, handle Handler, opts ...GateOption) *Gate {
	g := &Gate{
		minDuration: minDuration,
		capture:     capture,
		handle:      handle,
		active:      make(map[string]time.Time),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// OnSpeechStart captures one utterance of speakerID and hands it to the
// handler. It blocks until the utterance is resolved. A speech start for a
// speaker whose capture is still running returns [OutcomeIgnored]
// immediately.
//
// The per-speaker slot is released on every return path, including a panic
// in the capture or handler.
func (g *Gate) OnSpeechStart(ctx context.Context, speakerID string) (out Outcome) {
	if !g.acquire(speakerID) {
		slog.Debug("voice: capture already active, ignoring speech start", "speaker", speakerID)
		g.record(ctx, OutcomeIgnored)
		return OutcomeIgnored
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("voice: utterance handling panicked", "speaker", speakerID, "panic", r)
			out = OutcomeFailed
		}
		g.release(speakerID)
		g.record(ctx, out)
	}()

	c, err := g.capture(ctx, speakerID)
	if g.metrics != nil {
		g.metrics.RecordDroppedFrames(ctx, c.Dropped)
	}
	switch {
	case errors.Is(err, ErrNoData):
		slog.Debug("voice: no audio captured", "speaker", speakerID, "dropped", c.Dropped)
		return OutcomeNoData
	case err != nil:
		slog.Warn("voice: capture failed", "speaker", speakerID, "err", err)
		return OutcomeFailed
	}

	u := Utterance{
		SpeakerID:  speakerID,
		Start:      c.Start,
		End:        c.End,
		PCM:        c.PCM,
		SampleRate: c.SampleRate,
	}
	if d := u.DurationSeconds(); d < g.minDuration.Seconds() {
		slog.Debug("voice: utterance too short, discarding",
			"speaker", speakerID, "seconds", d, "min_seconds", g.minDuration.Seconds())
		return OutcomeTooShort
	}

	if err := g.handle(ctx, u); err != nil {
		slog.Warn("voice: utterance rejected", "speaker", speakerID, "err", err)
		return OutcomeRejected
	}
	return OutcomeAccepted
}

// Active reports whether a capture for speakerID is in progress.
func (g *Gate) Active(speakerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[speakerID]
	return ok
}

// ActiveCount returns the number of speakers currently being captured.
func (g *Gate) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

func (g *Gate) acquire(speakerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[speakerID]; busy {
		return false
	}
	g.active[speakerID] = time.Now()
	return true
}

func (g *Gate) release(speakerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, speakerID)
}

func (g *Gate) record(ctx context.Context, o Outcome) {
	if g.metrics != nil {
		g.metrics.RecordUtterance(ctx, o.String())
	}
}

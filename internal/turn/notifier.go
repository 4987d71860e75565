package turn

import (
	"context"
	"log/slog"
	"time"
)

// EventKind classifies a notification.
type EventKind int

const (
	// EventTranscribed carries the recognized text of a voice turn.
	EventTranscribed EventKind = iota

	// EventReplied carries the model reply once it is durably recorded.
	EventReplied

	// EventVoiceSkipped means the reply is too long to be spoken.
	EventVoiceSkipped

	// EventFailed means the turn was aborted at Step.
	EventFailed
)

// Event is a user-visible notification about a turn.
type Event struct {
	Kind      EventKind
	TurnID    string
	Source    Source
	ChannelID string
	Speaker   string

	Text      string
	NoContext bool
	Elapsed   time.Duration

	// Step and Err are set for EventFailed.
	Step Step
	Err  error
}

// Notifier receives turn events. Notify must not block for long; it is called
// from the turn's goroutine.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, ev Event)

// Notify implements [Notifier].
func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// LogNotifier writes events to slog. It is the default when no notifier is
// configured.
type LogNotifier struct{}

// Notify implements [Notifier].
func (LogNotifier) Notify(_ context.Context, ev Event) {
	attrs := []any{"turn_id", ev.TurnID, "source", string(ev.Source), "speaker", ev.Speaker}
	switch ev.Kind {
	case EventTranscribed:
		slog.Info("turn: transcribed", append(attrs, "text", ev.Text, "elapsed", ev.Elapsed)...)
	case EventReplied:
		slog.Info("turn: replied", append(attrs, "text", ev.Text, "no_context", ev.NoContext, "elapsed", ev.Elapsed)...)
	case EventVoiceSkipped:
		slog.Info("turn: reply too long to speak", attrs...)
	case EventFailed:
		slog.Warn("turn: failed", append(attrs, "step", string(ev.Step), "err", ev.Err)...)
	}
}

// Notifiers fans an event out to every notifier in order.
type Notifiers []Notifier

// Notify implements [Notifier].
func (ns Notifiers) Notify(ctx context.Context, ev Event) {
	for _, n := range ns {
		n.Notify(ctx, ev)
	}
}

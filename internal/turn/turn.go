// Package turn implements the turn coordinator: the state machine that takes
// one utterance (or one line of text) through transcription, generation,
// synthesis and playback while keeping the shared conversation history
// consistent.
//
// # Serialization
//
// Transcription runs concurrently for independent turns. Everything from the
// first history write to the hand-off of synthesized audio runs under a single
// conversation lock, so turn N+1 never appends to history before turn N has
// resolved. Playback is queued in turn order and runs outside the lock: a new
// turn may start while the previous reply is still being played, but two
// replies are never played at the same time.
package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

var (
	// ErrEmptyTranscript is reported when STT returns no text.
	ErrEmptyTranscript = errors.New("turn: empty transcript")

	// ErrEmptyReply is reported when the model returns no text.
	ErrEmptyReply = errors.New("turn: empty reply")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("turn: coordinator closed")

	// ErrBusy is returned by Submit when too many turns are pending.
	ErrBusy = errors.New("turn: too many pending turns")
)

// SystemSpeaker labels turns that were not spoken by a human.
const SystemSpeaker = "SYSTEM"

// Source identifies what triggered a turn.
type Source string

const (
	SourceVoice Source = "voice"
	SourceText  Source = "text"
	SourceIdle  Source = "idle"
)

// State is a position in the per-turn state machine.
type State int

const (
	StateIdle State = iota
	StateTranscribing
	StateGenerating
	StateSynthesizing
	StatePlaying
	StateAborted
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StatePlaying:
		return "playing"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Step names the pipeline stage a failure happened in.
type Step string

const (
	StepTranscribe Step = "transcribe"
	StepGenerate   Step = "generate"
	StepPersist    Step = "persist"
	StepSynthesize Step = "synthesize"
	StepPlay       Step = "play"
)

// Player plays a WAV file on the voice connection. Play blocks until
// playback has finished.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Input is one request for a turn.
type Input struct {
	Source Source

	// Speaker is the display label stored with the user line.
	Speaker string

	// Audio is transcribed for voice turns.
	Audio stt.Audio

	// Text is used verbatim for text and idle turns.
	Text string

	// ChannelID is where notifications for this turn are posted.
	ChannelID string

	// Player receives the synthesized reply. Nil delivers text only.
	Player Player
}

// Settings is the per-turn snapshot of runtime-mutable behaviour. It is read
// once at the start of a turn.
type Settings struct {
	VoiceID        int
	NoContext      bool
	SystemPrompt   string
	MaxVoiceLength int
	MaxTokens      int
}

// Result describes how a turn ended.
type Result struct {
	ID     string
	Source Source

	// Final is StateIdle on success and StateAborted on failure.
	Final State

	// Path lists every state the turn passed through, in order.
	Path []State

	// Step and Err are set when Final is StateAborted.
	Step Step
	Err  error

	Transcript string
	Reply      string
	NoContext  bool

	// Spoken reports whether the reply was queued for playback.
	Spoken bool

	Duration time.Duration
}

// Outcome returns a short label for metrics and logs.
func (r Result) Outcome() string {
	switch {
	case r.Final != StateAborted:
		if r.Spoken {
			return "spoken"
		}
		return "text_only"
	case errors.Is(r.Err, ErrEmptyTranscript), errors.Is(r.Err, ErrEmptyReply):
		return "empty"
	default:
		return "failed"
	}
}

package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// STT implements [stt.Provider] over a [Group] of STT backends.
type STT struct{ *Group[stt.Provider] }

var _ stt.Provider = STT{}

// NewSTT wraps primary. Add fallbacks with [Group.Add].
func NewSTT(name string, primary stt.Provider, cfg Config) STT {
	cfg.Kind = "stt"
	return STT{NewGroup(name, primary, cfg)}
}

// Transcribe implements [stt.Provider].
func (s STT) Transcribe(ctx context.Context, audio stt.Audio) (stt.Transcription, error) {
	return Do(ctx, s.Group, func(p stt.Provider) (stt.Transcription, error) {
		return p.Transcribe(ctx, audio)
	})
}

// LLM implements [llm.Provider] over a [Group] of LLM backends.
type LLM struct{ *Group[llm.Provider] }

var _ llm.Provider = LLM{}

// NewLLM wraps primary. Add fallbacks with [Group.Add].
func NewLLM(name string, primary llm.Provider, cfg Config) LLM {
	cfg.Kind = "llm"
	return LLM{NewGroup(name, primary, cfg)}
}

// Generate implements [llm.Provider].
func (l LLM) Generate(ctx context.Context, req llm.Request) (llm.Generation, error) {
	return Do(ctx, l.Group, func(p llm.Provider) (llm.Generation, error) {
		return p.Generate(ctx, req)
	})
}

// TTS implements [tts.Provider] over a [Group] of TTS backends. Text with
// nothing to speak ([tts.ErrEmptyText]) is not retried on fallbacks.
type TTS struct{ *Group[tts.Provider] }

var _ tts.Provider = TTS{}

// NewTTS wraps primary. Add fallbacks with [Group.Add].
func NewTTS(name string, primary tts.Provider, cfg Config) TTS {
	cfg.Kind = "tts"
	if cfg.Permanent == nil {
		cfg.Permanent = func(err error) bool { return errors.Is(err, tts.ErrEmptyText) }
	}
	return TTS{NewGroup(name, primary, cfg)}
}

// Synthesize implements [tts.Provider].
func (t TTS) Synthesize(ctx context.Context, text string, voiceID int) (string, error) {
	return Do(ctx, t.Group, func(p tts.Provider) (string, error) {
		return p.Synthesize(ctx, text, voiceID)
	})
}

// ListVoices implements [tts.Provider].
func (t TTS) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return Do(ctx, t.Group, func(p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}

// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one reply into an audio file on disk. The caller owns
// the returned file and removes it once playback has finished.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyText is returned by Synthesize when nothing speakable remains after
// the text has been cleaned.
var ErrEmptyText = errors.New("tts: empty text")

// Voice is one selectable synthesis voice. Engines with several styles per
// speaker expose one Voice per style.
type Voice struct {
	ID        int
	Name      string
	StyleName string
}

// String renders the voice as a fixed-width listing line.
func (v Voice) String() string {
	return fmt.Sprintf("ID: %3d | %s (%s)", v.ID, v.Name, v.StyleName)
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the path of a
	// WAV file. Returns ErrEmptyText when the text has nothing to speak.
	Synthesize(ctx context.Context, text string, voiceID int) (string, error)

	// ListVoices returns the engine's current catalogue.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// FormatVoices renders voices one per line and splits the listing into
// chunks no longer than limit characters. Lines are never split.
func FormatVoices(voices []Voice, limit int) []string {
	var (
		chunks []string
		b      strings.Builder
	)
	for _, v := range voices {
		line := v.String()
		if b.Len() > 0 && b.Len()+1+len(line) > limit {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

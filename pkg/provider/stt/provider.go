// Package stt defines the speech-to-text contract used by the turn
// coordinator.
//
// A Provider receives one complete utterance and returns its transcription.
// Utterances are short (seconds), so every provider is a plain
// request/response boundary; streaming recognition is not needed.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Audio is one utterance of 16-bit little-endian mono PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Transcription is the result of a single recognition request.
type Transcription struct {
	// Text is the recognised speech. An empty Text is a valid result meaning
	// nothing intelligible was said.
	Text string

	// Confidence is the provider's confidence in [0, 1], or zero when the
	// provider does not report one.
	Confidence float64

	// ProcessingTime is the wall time spent in the provider call.
	ProcessingTime time.Duration
}

// Provider transcribes one utterance.
type Provider interface {
	// Transcribe returns the transcription of audio. Transport and service
	// errors are returned as errors; silence is an empty Transcription.
	Transcribe(ctx context.Context, audio Audio) (Transcription, error)
}

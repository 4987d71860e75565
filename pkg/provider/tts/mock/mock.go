// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Path: "/tmp/reply.wav"}
//	path, _ := p.Synthesize(ctx, "こんにちは", 1)
//	// p.SynthesizeCalls[0].Text == "こんにちは"
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text    string
	VoiceID int
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Path is returned by Synthesize when SynthesizeErr is nil.
	Path string

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// SynthesizeFunc, when set, replaces Path/SynthesizeErr.
	SynthesizeFunc func(ctx context.Context, text string, voiceID int) (string, error)

	// Voices is returned by ListVoices when ListVoicesErr is nil.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns Path, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voiceID int) (string, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, VoiceID: voiceID})
	fn, path, err := p.SynthesizeFunc, p.Path, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voiceID)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// ListVoices records the call and returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return append([]tts.Voice(nil), p.Voices...), nil
}

// SynthesizeCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) SynthesizeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}

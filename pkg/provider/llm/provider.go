// Package llm defines the language model contract used by the turn
// coordinator.
//
// Two backend shapes implement it: a hosted API (package anyllm) and a
// locally-spawned model server reached over HTTP (package local). The backend
// is chosen once at startup; callers never branch on provider identity.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"time"

	"github.com/MrWong99/voxrelay/pkg/types"
)

// Request carries everything needed for one reply.
type Request struct {
	// Message is the new user line, already labelled with the speaker.
	Message string

	// History is the prior conversation in order. It is empty in no-context
	// mode.
	History []types.Message

	// SystemPrompt is an optional instruction placed before the history.
	SystemPrompt string

	// MaxTokens caps the reply length. Zero means the backend default.
	MaxTokens int
}

// Generation is the model's reply.
type Generation struct {
	// Text is the reply. A blank Text is a valid result; callers decide how
	// to treat it.
	Text string

	// ProcessingTime is the wall time spent in the backend call.
	ProcessingTime time.Duration
}

// Provider generates one reply per request.
type Provider interface {
	Generate(ctx context.Context, req Request) (Generation, error)
}

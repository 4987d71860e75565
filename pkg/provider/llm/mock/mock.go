// Package mock provides a test double for [llm.Provider].
//
// Example:
//
//	p := &mock.Provider{Result: llm.Generation{Text: "Hello!"}}
//	gen, err := p.Generate(ctx, req)
//	// p.Calls[0].Req holds the submitted request.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/llm"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Generate when Err is nil.
	Result llm.Generation

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// GenerateFunc, when set, replaces Result/Err.
	GenerateFunc func(ctx context.Context, req llm.Request) (llm.Generation, error)

	// Calls records every call to Generate.
	Calls []GenerateCall
}

var _ llm.Provider = (*Provider)(nil)

// Generate records the call and returns Result, Err.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (llm.Generation, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, GenerateCall{Req: req})
	fn, res, err := p.GenerateFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return llm.Generation{}, err
	}
	return res, nil
}

// CallCount returns the number of Generate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the most recent request, or false if none was made.
func (p *Provider) LastRequest() (llm.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.Request{}, false
	}
	return p.Calls[len(p.Calls)-1].Req, true
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Package local provides an LLM provider backed by the self-hosted
// generation server (see internal/localllm). The server accepts a single
// flattened prompt on POST /generate and answers {"response": "..."}.
//
// Usage:
//
//	p, err := local.New("http://127.0.0.1:8000")
//	gen, err := p.Generate(ctx, llm.Request{Message: "alice: hi"})
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/types"
)

const (
	defaultTemperature = 0.7
	defaultTopP        = 0.9
	defaultMaxTokens   = 512
	defaultTimeout     = 60 * time.Second
)

var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTemperature sets the sampling temperature. Defaults to 0.7.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithTopP sets nucleus sampling. Defaults to 0.9.
func WithTopP(v float64) Option {
	return func(p *Provider) { p.topP = v }
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements llm.Provider against a local generation server.
type Provider struct {
	baseURL     string
	temperature float64
	topP        float64
	timeout     time.Duration
	httpClient  *http.Client
}

// New creates a Provider for the server at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("local: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:     strings.TrimRight(baseURL, "/"),
		temperature: defaultTemperature,
		topP:        defaultTopP,
		timeout:     defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: p.timeout}
	}
	return p, nil
}

type generateRequest struct {
	Prompt       string  `json:"prompt"`
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate implements [llm.Provider].
func (p *Provider) Generate(ctx context.Context, req llm.Request) (llm.Generation, error) {
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(generateRequest{
		Prompt:       BuildPrompt(req),
		MaxNewTokens: maxTokens,
		Temperature:  p.temperature,
		TopP:         p.topP,
	})
	if err != nil {
		return llm.Generation{}, fmt.Errorf("local: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return llm.Generation{}, fmt.Errorf("local: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return llm.Generation{}, fmt.Errorf("local: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return llm.Generation{}, fmt.Errorf("local: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return llm.Generation{}, fmt.Errorf("local: parse response: %w", err)
	}
	return llm.Generation{
		Text:           strings.TrimSpace(gr.Response),
		ProcessingTime: time.Since(start),
	}, nil
}

// BuildPrompt flattens a request into the plain-text transcript the local
// model was tuned on:
//
//	<system prompt>
//
//	User: <line>
//	Model: <line>
//	User: <message>
//	Model:
func BuildPrompt(req llm.Request) string {
	var b strings.Builder
	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, m := range req.History {
		if m.Role == types.RoleModel {
			b.WriteString("Model: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	b.WriteString("User: ")
	b.WriteString(req.Message)
	b.WriteString("\nModel:")
	return b.String()
}

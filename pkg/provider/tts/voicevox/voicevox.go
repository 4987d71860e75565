// Package voicevox provides a TTS provider backed by a VOICEVOX engine
// (https://voicevox.hiroshiba.jp/). Synthesis is a two-step exchange: the
// engine first builds an audio query for the text, then renders that query
// into a WAV file.
//
// Usage:
//
//	p, err := voicevox.New("http://127.0.0.1:50021")
//	path, err := p.Synthesize(ctx, "こんにちは", 1)
//	defer os.Remove(path)
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

const (
	queryTimeout     = 10 * time.Second
	synthesisTimeout = 30 * time.Second
	speakersTimeout  = 5 * time.Second

	tempPattern = "voxrelay-tts-*.wav"
)

// bracketed matches stage directions such as "[笑]" that should not be read
// aloud.
var bracketed = regexp.MustCompile(`\[.*?\]`)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient sets the HTTP client used for requests. Per-call timeouts
// are applied through the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithTempDir sets the directory synthesized WAV files are written to.
// Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(p *Provider) { p.tempDir = dir }
}

// Provider implements tts.Provider against the VOICEVOX HTTP API.
type Provider struct {
	baseURL    string
	tempDir    string
	httpClient *http.Client
}

// New creates a Provider for the engine at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("voicevox: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// CleanText removes bracketed stage directions and surrounding whitespace.
func CleanText(text string) string {
	return strings.TrimSpace(bracketed.ReplaceAllString(text, ""))
}

// Synthesize implements [tts.Provider]. The returned file belongs to the
// caller.
func (p *Provider) Synthesize(ctx context.Context, text string, voiceID int) (string, error) {
	clean := CleanText(text)
	if clean == "" {
		return "", tts.ErrEmptyText
	}
	speaker := strconv.Itoa(voiceID)

	query, err := p.post(ctx, queryTimeout, "/audio_query", url.Values{"text": {clean}, "speaker": {speaker}}, nil)
	if err != nil {
		return "", fmt.Errorf("voicevox: audio query: %w", err)
	}
	wav, err := p.post(ctx, synthesisTimeout, "/synthesis", url.Values{"speaker": {speaker}}, query)
	if err != nil {
		return "", fmt.Errorf("voicevox: synthesis: %w", err)
	}

	f, err := os.CreateTemp(p.tempDir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("voicevox: create temp file: %w", err)
	}
	if _, err := f.Write(wav); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("voicevox: write wav: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("voicevox: close wav: %w", err)
	}
	return f.Name(), nil
}

type speaker struct {
	Name   string `json:"name"`
	Styles []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"styles"`
}

// ListVoices implements [tts.Provider]. Each speaker style becomes one Voice.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	data, err := p.get(ctx, speakersTimeout, "/speakers")
	if err != nil {
		return nil, fmt.Errorf("voicevox: list speakers: %w", err)
	}
	var speakers []speaker
	if err := json.Unmarshal(data, &speakers); err != nil {
		return nil, fmt.Errorf("voicevox: parse speakers: %w", err)
	}
	var voices []tts.Voice
	for _, s := range speakers {
		for _, st := range s.Styles {
			voices = append(voices, tts.Voice{ID: st.ID, Name: s.Name, StyleName: st.Name})
		}
	}
	return voices, nil
}

// Check reports whether the engine answers GET /version. It satisfies the
// health checker signature.
func (p *Provider) Check(ctx context.Context) error {
	if _, err := p.get(ctx, speakersTimeout, "/version"); err != nil {
		return fmt.Errorf("voicevox: %w", err)
	}
	return nil
}

func (p *Provider) get(ctx context.Context, timeout time.Duration, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return p.do(req)
}

func (p *Provider) post(ctx context.Context, timeout time.Duration, path string, params url.Values, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path+"?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return p.do(req)
}

func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

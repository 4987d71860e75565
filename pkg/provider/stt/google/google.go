// Package google provides an STT provider backed by the Google Cloud
// Speech-to-Text v1 REST API (speech:recognize).
//
// Authentication uses either an API key or OAuth2 credentials. When no API
// key is given, credentials are loaded from a service-account file
// ([WithCredentialsFile]) or from Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, gcloud, metadata server).
//
// Usage:
//
//	p, err := google.New(ctx, google.WithAPIKey(key), google.WithLanguage("ja-JP"))
//	tr, err := p.Transcribe(ctx, stt.Audio{PCM: pcm, SampleRate: 48000})
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleauth "golang.org/x/oauth2/google"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

const (
	defaultEndpoint = "https://speech.googleapis.com/v1/speech:recognize"
	defaultLanguage = "ja-JP"
	defaultTimeout  = 30 * time.Second

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIKey authenticates with an API key instead of OAuth2 credentials.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithCredentialsFile loads OAuth2 credentials from a service-account JSON
// file instead of Application Default Credentials.
func WithCredentialsFile(path string) Option {
	return func(p *Provider) { p.credentialsFile = path }
}

// WithLanguage sets the BCP-47 recognition language. Defaults to "ja-JP".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithModel selects a recognition model (e.g., "latest_short"). Empty uses
// the service default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithEndpoint overrides the recognize URL. Intended for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithHTTPClient sets the HTTP client used for requests. When set, the
// client is used as-is and no OAuth2 transport is added.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider using speech:recognize.
type Provider struct {
	apiKey          string
	credentialsFile string
	language        string
	model           string
	endpoint        string
	httpClient      *http.Client
}

// New creates a Provider. Unless an API key or an explicit HTTP client is
// supplied, OAuth2 credentials are resolved now so missing credentials fail
// at startup rather than on the first utterance.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	p := &Provider{
		language: defaultLanguage,
		endpoint: defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	if p.httpClient != nil || p.apiKey != "" {
		if p.httpClient == nil {
			p.httpClient = &http.Client{Timeout: defaultTimeout}
		}
		return p, nil
	}

	creds, err := p.credentials(ctx)
	if err != nil {
		return nil, err
	}
	client := oauth2.NewClient(ctx, creds.TokenSource)
	client.Timeout = defaultTimeout
	p.httpClient = client
	return p, nil
}

func (p *Provider) credentials(ctx context.Context) (*googleauth.Credentials, error) {
	if p.credentialsFile != "" {
		data, err := os.ReadFile(p.credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("google: read credentials file: %w", err)
		}
		creds, err := googleauth.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("google: parse credentials file: %w", err)
		}
		return creds, nil
	}
	creds, err := googleauth.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("google: find default credentials: %w", err)
	}
	return creds, nil
}

// ── wire types ────────────────────────────────────────────────────────────────

type recognizeRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  recognitionAudio  `json:"audio"`
}

type recognitionConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	LanguageCode               string `json:"languageCode"`
	Model                      string `json:"model,omitempty"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
}

type recognitionAudio struct {
	Content string `json:"content"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Transcribe implements [stt.Provider]. Transcripts of all result segments
// are joined with a space; Confidence is that of the first segment's top
// alternative. No results yields an empty Transcription.
func (p *Provider) Transcribe(ctx context.Context, in stt.Audio) (stt.Transcription, error) {
	start := time.Now()

	body, err := json.Marshal(recognizeRequest{
		Config: recognitionConfig{
			Encoding:                   "LINEAR16",
			SampleRateHertz:            in.SampleRate,
			LanguageCode:               p.language,
			Model:                      p.model,
			EnableAutomaticPunctuation: true,
		},
		Audio: recognitionAudio{Content: base64.StdEncoding.EncodeToString(in.PCM)},
	})
	if err != nil {
		return stt.Transcription{}, fmt.Errorf("google: encode request: %w", err)
	}

	endpoint := p.endpoint
	if p.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(p.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return stt.Transcription{}, fmt.Errorf("google: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcription{}, fmt.Errorf("google: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcription{}, fmt.Errorf("google: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error.Message != "" {
			return stt.Transcription{}, fmt.Errorf("google: HTTP %d %s: %s", resp.StatusCode, e.Error.Status, e.Error.Message)
		}
		return stt.Transcription{}, fmt.Errorf("google: HTTP %d", resp.StatusCode)
	}

	var rr recognizeResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return stt.Transcription{}, fmt.Errorf("google: parse response: %w", err)
	}

	var parts []string
	var confidence float64
	for i, r := range rr.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if i == 0 {
			confidence = r.Alternatives[0].Confidence
		}
		parts = append(parts, r.Alternatives[0].Transcript)
	}
	return stt.Transcription{
		Text:           strings.TrimSpace(strings.Join(parts, " ")),
		Confidence:     confidence,
		ProcessingTime: time.Since(start),
	}, nil
}

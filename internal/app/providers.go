package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/resilience"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/llm/anyllm"
	"github.com/MrWong99/voxrelay/pkg/provider/llm/local"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/google"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/voicevox"
)

// Providers holds the pipeline backends. Each one is a resilience group: the
// configured primary followed by its fallbacks, every entry behind its own
// circuit breaker.
type Providers struct {
	STT resilience.STT
	LLM resilience.LLM
	TTS resilience.TTS

	// Checks probe the backends that can report their own health.
	Checks []health.Checker
}

// ─── option blocks ───────────────────────────────────────────────────────────

type googleOptions struct {
	Language        string `mapstructure:"language"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type whisperOptions struct {
	Language string `mapstructure:"language"`
}

type localOptions struct {
	Temperature float64       `mapstructure:"temperature"`
	TopP        float64       `mapstructure:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type voicevoxOptions struct {
	TempDir string `mapstructure:"temp_dir"`
}

// ─── registration ────────────────────────────────────────────────────────────

// RegisterProviders wires every built-in provider factory into reg.
// localURL is the address of the local model server used when a "local"
// entry has no base_url.
func RegisterProviders(reg *config.Registry, localURL string) {
	for _, name := range []string{"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("local", func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
		var o localOptions
		if err := config.DecodeOptions(entry.Options, &o); err != nil {
			return nil, err
		}
		var opts []local.Option
		if o.Temperature > 0 {
			opts = append(opts, local.WithTemperature(o.Temperature))
		}
		if o.TopP > 0 {
			opts = append(opts, local.WithTopP(o.TopP))
		}
		if o.Timeout > 0 {
			opts = append(opts, local.WithTimeout(o.Timeout))
		}
		url := entry.BaseURL
		if url == "" {
			url = localURL
		}
		return local.New(url, opts...)
	})

	reg.RegisterSTT("google", func(ctx context.Context, entry config.ProviderEntry) (stt.Provider, error) {
		var o googleOptions
		if err := config.DecodeOptions(entry.Options, &o); err != nil {
			return nil, err
		}
		opts := []google.Option{google.WithModel(entry.Model)}
		if entry.APIKey != "" {
			opts = append(opts, google.WithAPIKey(entry.APIKey))
		}
		if o.CredentialsFile != "" {
			opts = append(opts, google.WithCredentialsFile(o.CredentialsFile))
		}
		if o.Language != "" {
			opts = append(opts, google.WithLanguage(o.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, google.WithEndpoint(entry.BaseURL))
		}
		return google.New(ctx, opts...)
	})

	reg.RegisterSTT("whisper", func(_ context.Context, entry config.ProviderEntry) (stt.Provider, error) {
		var o whisperOptions
		if err := config.DecodeOptions(entry.Options, &o); err != nil {
			return nil, err
		}
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if o.Language != "" {
			opts = append(opts, whisper.WithLanguage(o.Language))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("voicevox", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var o voicevoxOptions
		if err := config.DecodeOptions(entry.Options, &o); err != nil {
			return nil, err
		}
		var opts []voicevox.Option
		if o.TempDir != "" {
			opts = append(opts, voicevox.WithTempDir(o.TempDir))
		}
		return voicevox.New(entry.BaseURL, opts...)
	})
}

// ─── construction ────────────────────────────────────────────────────────────

// BuildProviders creates the configured primaries and fallbacks from reg. A
// fallback that cannot be created is logged and skipped; a primary that
// cannot be created is an error.
func BuildProviders(ctx context.Context, cfg config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}

	sttPrimary, err := reg.CreateSTT(ctx, cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", cfg.STT.Name, err)
	}
	ps.STT = resilience.NewSTT(cfg.STT.Name, sttPrimary, groupConfig("stt", m))
	ps.addCheck("stt", cfg.STT.Name, sttPrimary)
	for _, fb := range cfg.STT.Fallbacks {
		p, err := reg.CreateSTT(ctx, fb)
		if !fallbackOK("stt", fb.Name, err) {
			continue
		}
		ps.STT.Add(fb.Name, p)
	}

	llmPrimary, err := reg.CreateLLM(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider %q: %w", cfg.LLM.Name, err)
	}
	ps.LLM = resilience.NewLLM(cfg.LLM.Name, llmPrimary, groupConfig("llm", m))
	for _, fb := range cfg.LLM.Fallbacks {
		p, err := reg.CreateLLM(ctx, fb)
		if !fallbackOK("llm", fb.Name, err) {
			continue
		}
		ps.LLM.Add(fb.Name, p)
	}

	ttsPrimary, err := reg.CreateTTS(ctx, cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: create tts provider %q: %w", cfg.TTS.Name, err)
	}
	ps.TTS = resilience.NewTTS(cfg.TTS.Name, ttsPrimary, groupConfig("tts", m))
	ps.addCheck("tts", cfg.TTS.Name, ttsPrimary)
	for _, fb := range cfg.TTS.Fallbacks {
		p, err := reg.CreateTTS(ctx, fb)
		if !fallbackOK("tts", fb.Name, err) {
			continue
		}
		ps.TTS.Add(fb.Name, p)
	}

	slog.Info("providers created",
		"stt", ps.STT.Names(),
		"llm", ps.LLM.Names(),
		"tts", ps.TTS.Names(),
	)
	return ps, nil
}

type checkable interface {
	Check(ctx context.Context) error
}

func (ps *Providers) addCheck(kind, name string, p any) {
	if c, ok := p.(checkable); ok {
		ps.Checks = append(ps.Checks, health.Checker{Name: kind + ":" + name, Check: c.Check})
	}
}

func groupConfig(kind string, m *observe.Metrics) resilience.Config {
	return resilience.Config{Kind: kind, Metrics: m}
}

func fallbackOK(kind, name string, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("fallback provider not registered, skipping", "kind", kind, "name", name)
		return false
	}
	slog.Warn("fallback provider could not be created, skipping", "kind", kind, "name", name, "err", err)
	return false
}

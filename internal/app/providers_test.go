package app

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxrelay/pkg/provider/llm/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxrelay/pkg/provider/stt/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
)

// checkedTTS is a TTS mock that reports its own health.
type checkedTTS struct {
	*ttsmock.Provider
	err error
}

func (c checkedTTS) Check(context.Context) error { return c.err }

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSTT("mock", func(context.Context, config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	reg.RegisterLLM("mock", func(context.Context, config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	reg.RegisterLLM("broken", func(context.Context, config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("bad credentials")
	})
	reg.RegisterTTS("mock", func(context.Context, config.ProviderEntry) (tts.Provider, error) {
		return checkedTTS{Provider: &ttsmock.Provider{}}, nil
	})
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := config.ProvidersConfig{
		STT: config.ProviderEntry{Name: "mock"},
		LLM: config.ProviderEntry{Name: "mock", Fallbacks: []config.ProviderEntry{
			{Name: "missing"},
			{Name: "broken"},
			{Name: "mock"},
		}},
		TTS: config.ProviderEntry{Name: "mock"},
	}
	ps, err := BuildProviders(context.Background(), cfg, mockRegistry(), nil)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if got := ps.LLM.Names(); !slices.Equal(got, []string{"mock", "mock"}) {
		t.Errorf("llm names = %v, want unusable fallbacks skipped", got)
	}
	if got := ps.STT.Names(); !slices.Equal(got, []string{"mock"}) {
		t.Errorf("stt names = %v", got)
	}
	if len(ps.Checks) != 1 || ps.Checks[0].Name != "tts:mock" {
		t.Errorf("checks = %+v, want the checkable tts only", ps.Checks)
	}
}

func TestBuildProviders_PrimaryErrors(t *testing.T) {
	t.Parallel()

	base := config.ProvidersConfig{
		STT: config.ProviderEntry{Name: "mock"},
		LLM: config.ProviderEntry{Name: "mock"},
		TTS: config.ProviderEntry{Name: "mock"},
	}
	tests := []struct {
		name   string
		mutate func(*config.ProvidersConfig)
		is     error
	}{
		{"unregistered stt", func(c *config.ProvidersConfig) { c.STT.Name = "nope" }, config.ErrProviderNotRegistered},
		{"unregistered tts", func(c *config.ProvidersConfig) { c.TTS.Name = "nope" }, config.ErrProviderNotRegistered},
		{"failing llm", func(c *config.ProvidersConfig) { c.LLM.Name = "broken" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			_, err := BuildProviders(context.Background(), cfg, mockRegistry(), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("err = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestRegisterProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	RegisterProviders(reg, "http://127.0.0.1:8000")
	ctx := context.Background()

	t.Run("local uses fallback url", func(t *testing.T) {
		t.Parallel()
		p, err := reg.CreateLLM(ctx, config.ProviderEntry{Name: "local", Options: map[string]any{"temperature": "0.3", "timeout": "30s"}})
		if err != nil || p == nil {
			t.Fatalf("CreateLLM(local) = %v, %v", p, err)
		}
	})

	t.Run("gemini with key", func(t *testing.T) {
		t.Parallel()
		p, err := reg.CreateLLM(ctx, config.ProviderEntry{Name: "gemini", Model: "gemini-2.0-flash", APIKey: "k"})
		if err != nil || p == nil {
			t.Fatalf("CreateLLM(gemini) = %v, %v", p, err)
		}
	})

	t.Run("google with key", func(t *testing.T) {
		t.Parallel()
		p, err := reg.CreateSTT(ctx, config.ProviderEntry{Name: "google", APIKey: "k", Options: map[string]any{"language": "en-US"}})
		if err != nil || p == nil {
			t.Fatalf("CreateSTT(google) = %v, %v", p, err)
		}
	})

	t.Run("whisper requires url", func(t *testing.T) {
		t.Parallel()
		if _, err := reg.CreateSTT(ctx, config.ProviderEntry{Name: "whisper"}); err == nil {
			t.Fatal("expected error without base_url")
		}
		if _, err := reg.CreateSTT(ctx, config.ProviderEntry{Name: "whisper", BaseURL: "http://127.0.0.1:9000"}); err != nil {
			t.Fatalf("CreateSTT(whisper): %v", err)
		}
	})

	t.Run("voicevox", func(t *testing.T) {
		t.Parallel()
		p, err := reg.CreateTTS(ctx, config.ProviderEntry{Name: "voicevox", BaseURL: "http://127.0.0.1:50021"})
		if err != nil {
			t.Fatalf("CreateTTS(voicevox): %v", err)
		}
		if _, ok := p.(checkable); !ok {
			t.Error("voicevox provider does not expose Check")
		}
	})

	t.Run("unknown option", func(t *testing.T) {
		t.Parallel()
		_, err := reg.CreateTTS(ctx, config.ProviderEntry{Name: "voicevox", BaseURL: "http://x", Options: map[string]any{"pitch": 1}})
		if err == nil {
			t.Fatal("expected error for unknown option")
		}
	})
}

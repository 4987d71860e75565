// Package config provides the configuration schema, loader, provider
// registry, and runtime settings store for voxrelay.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is assembled by [Load] from
// built-in defaults, an optional YAML file, and environment variables.
type Config struct {
	Discord      DiscordConfig      `yaml:"discord" mapstructure:"discord"`
	Audio        AudioConfig        `yaml:"audio" mapstructure:"audio"`
	Providers    ProvidersConfig    `yaml:"providers" mapstructure:"providers"`
	LocalLLM     LocalLLMConfig     `yaml:"local_llm" mapstructure:"local_llm"`
	Conversation ConversationConfig `yaml:"conversation" mapstructure:"conversation"`
	Idle         IdleConfig         `yaml:"idle" mapstructure:"idle"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
}

// DiscordConfig holds the bot credentials and command surface settings.
type DiscordConfig struct {
	// Token is the bot token. Required.
	Token string `yaml:"token" mapstructure:"token"`

	// CommandPrefix starts every command, e.g. "!" in "!join".
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix"`

	// TextTurnPrefix starts a plain-text turn, e.g. "." in ".hello".
	TextTurnPrefix string `yaml:"text_turn_prefix" mapstructure:"text_turn_prefix"`

	// AdminRoleID, when set, restricts destructive commands to members with
	// this role.
	AdminRoleID string `yaml:"admin_role_id" mapstructure:"admin_role_id"`
}

// AudioConfig controls utterance capture.
type AudioConfig struct {
	// SampleRate is the PCM rate handed to speech-to-text.
	SampleRate int `yaml:"sample_rate" mapstructure:"sample_rate"`

	// SilenceDurationMS is how long a speaker must be silent before the
	// utterance ends.
	SilenceDurationMS int `yaml:"silence_duration_ms" mapstructure:"silence_duration_ms"`

	// MinRecordingSeconds is the shortest utterance that is transcribed.
	MinRecordingSeconds float64 `yaml:"min_recording_seconds" mapstructure:"min_recording_seconds"`
}

// SilenceDuration returns SilenceDurationMS as a duration.
func (a AudioConfig) SilenceDuration() time.Duration {
	return time.Duration(a.SilenceDurationMS) * time.Millisecond
}

// MinRecording returns MinRecordingSeconds as a duration.
func (a AudioConfig) MinRecording() time.Duration {
	return time.Duration(a.MinRecordingSeconds * float64(time.Second))
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt" mapstructure:"stt"`
	LLM ProviderEntry `yaml:"llm" mapstructure:"llm"`
	TTS ProviderEntry `yaml:"tts" mapstructure:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "google", "gemini").
	Name string `yaml:"name" mapstructure:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model" mapstructure:"model"`

	// Options holds provider-specific values decoded with [DecodeOptions].
	Options map[string]any `yaml:"options" mapstructure:"options"`

	// Fallbacks are tried in order when the primary provider fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks" mapstructure:"fallbacks"`
}

// LocalLLMConfig controls the self-managed model server used when the LLM
// provider is "local".
type LocalLLMConfig struct {
	// URL is where the server listens. Used when providers.llm.base_url is
	// empty.
	URL string `yaml:"url" mapstructure:"url"`

	// AutoStart spawns the server at startup and stops it on exit.
	AutoStart bool `yaml:"auto_start" mapstructure:"auto_start"`

	// ScriptPath is the server script. Required with AutoStart.
	ScriptPath string `yaml:"script_path" mapstructure:"script_path"`

	// Python is the interpreter. Empty picks .venv/bin/python or python3.
	Python string `yaml:"python" mapstructure:"python"`

	// StartupTimeout bounds the start sequence.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout"`
}

// ConversationConfig holds the initial runtime settings and the history file.
type ConversationConfig struct {
	// Speaker is the initial synthesis voice id.
	Speaker int `yaml:"speaker" mapstructure:"speaker"`

	// MaxTokens caps the model reply length.
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens"`

	// MaxVoiceLength is the longest reply, in characters, that is spoken.
	// Longer replies are delivered as text only.
	MaxVoiceLength int `yaml:"max_voice_length" mapstructure:"max_voice_length"`

	// SystemPrompt is the initial system instruction.
	SystemPrompt string `yaml:"system_prompt" mapstructure:"system_prompt"`

	// HistoryPath is the JSON file the conversation is persisted to.
	HistoryPath string `yaml:"history_path" mapstructure:"history_path"`

	// HistoryLimit caps the number of messages sent to the model. Zero sends
	// the whole history.
	HistoryLimit int `yaml:"history_limit" mapstructure:"history_limit"`
}

// IdleConfig controls the idle prompt scheduler.
type IdleConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	MinDelay time.Duration `yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" mapstructure:"max_delay"`

	// Prompt is the instruction sent as the SYSTEM turn.
	Prompt string `yaml:"prompt" mapstructure:"prompt"`
}

// ServerConfig holds the optional observability endpoint and log level.
type ServerConfig struct {
	// ListenAddr serves /healthz, /readyz and /metrics. Empty disables it.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" mapstructure:"log_level"`
}

const (
	defaultSystemPrompt = "ユーザーに対して適切に応答してください。"
	defaultIdlePrompt   = "しばらく誰も話していません。場を和ませるような短い話題を一つ振ってください。"
)

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Discord: DiscordConfig{
			CommandPrefix:  "!",
			TextTurnPrefix: ".",
		},
		Audio: AudioConfig{
			SampleRate:          48000,
			SilenceDurationMS:   1000,
			MinRecordingSeconds: 1.5,
		},
		Providers: ProvidersConfig{
			STT: ProviderEntry{Name: "google"},
			LLM: ProviderEntry{Name: "gemini", Model: "gemini-2.0-flash"},
			TTS: ProviderEntry{Name: "voicevox", BaseURL: "http://127.0.0.1:50021"},
		},
		LocalLLM: LocalLLMConfig{
			URL:            DefaultLocalLLMURL,
			AutoStart:      true,
			StartupTimeout: 120 * time.Second,
		},
		Conversation: ConversationConfig{
			Speaker:        1,
			MaxTokens:      150,
			MaxVoiceLength: 300,
			SystemPrompt:   defaultSystemPrompt,
			HistoryPath:    filepath.Join(os.TempDir(), "voxrelay", "history.json"),
		},
		Idle: IdleConfig{
			Enabled:  true,
			MinDelay: 60 * time.Second,
			MaxDelay: 180 * time.Second,
			Prompt:   defaultIdlePrompt,
		},
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
	}
}

// DefaultLocalLLMURL is the base URL of the local model server when none is
// configured.
const DefaultLocalLLMURL = "http://localhost:8000"

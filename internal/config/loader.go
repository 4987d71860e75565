package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"google", "whisper"},
	"llm": {"local", "gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"voicevox"},
}

// keylessLLMs are LLM providers that run without an API key.
var keylessLLMs = []string{"local", "ollama", "llamacpp", "llamafile"}

// envBindings maps configuration keys to the environment variables that
// override them. When several variables are listed, the first one set wins.
var envBindings = map[string][]string{
	"discord.token":                  {"DISCORD_TOKEN"},
	"discord.command_prefix":         {"COMMAND_PREFIX"},
	"discord.text_turn_prefix":       {"TEXT_TURN_PREFIX"},
	"discord.admin_role_id":          {"ADMIN_ROLE_ID"},
	"audio.sample_rate":              {"SAMPLE_RATE"},
	"audio.silence_duration_ms":      {"SILENCE_DURATION"},
	"audio.min_recording_seconds":    {"MIN_RECORDING_DURATION"},
	"providers.stt.name":             {"STT_PROVIDER"},
	"providers.stt.api_key":          {"GOOGLE_API_KEY"},
	"providers.stt.base_url":         {"STT_URL"},
	"providers.stt.options.language": {"STT_LANGUAGE"},
	"providers.llm.name":             {"LLM_PROVIDER"},
	"providers.llm.api_key":          {"LLM_API_KEY", "GEMINI_API_KEY"},
	"providers.llm.model":            {"MODEL_NAME"},
	"providers.tts.base_url":         {"VOICEVOX_URL"},
	"local_llm.url":                  {"LOCAL_LLM_URL"},
	"local_llm.auto_start":           {"LOCAL_LLM_AUTO_START"},
	"local_llm.script_path":          {"LOCAL_LLM_SCRIPT_PATH"},
	"local_llm.python":               {"LOCAL_LLM_PYTHON"},
	"conversation.speaker":           {"SPEAKER"},
	"conversation.max_tokens":        {"MAX_TOKENS"},
	"conversation.max_voice_length":  {"MAX_VOICE_RESPONSE_LENGTH"},
	"conversation.system_prompt":     {"SYSTEM_PROMPT"},
	"conversation.history_path":      {"HISTORY_PATH"},
	"idle.enabled":                   {"IDLE_PROMPT_ENABLED"},
	"idle.min_delay":                 {"IDLE_MIN_DELAY"},
	"idle.max_delay":                 {"IDLE_MAX_DELAY"},
	"idle.prompt":                    {"IDLE_PROMPT"},
	"server.listen_addr":             {"LISTEN_ADDR"},
	"server.log_level":               {"LOG_LEVEL"},
}

// LoadDotEnv loads environment variables from the given .env files without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (a
// missing file is fine), and environment variables, then validates it.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("config: no config file, using defaults and environment", "path", path)
		case err != nil:
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		default:
			data = b
		}
	}
	cfg, err := LoadBytes(data)
	if err != nil && path != "" {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, err
}

// LoadFromReader reads YAML from r and behaves like [LoadBytes].
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes layers defaults, the YAML document in data, and environment
// variables, in that order, and validates the result. Unknown YAML keys are
// rejected.
func LoadBytes(data []byte) (*Config, error) {
	if err := checkYAML(data); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}
	if len(bytes.TrimSpace(data)) > 0 {
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("config: read yaml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkYAML decodes data strictly so misspelled keys fail loudly instead of
// being ignored.
func checkYAML(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var probe Config
	if err := dec.Decode(&probe); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("discord.command_prefix", d.Discord.CommandPrefix)
	v.SetDefault("discord.text_turn_prefix", d.Discord.TextTurnPrefix)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.silence_duration_ms", d.Audio.SilenceDurationMS)
	v.SetDefault("audio.min_recording_seconds", d.Audio.MinRecordingSeconds)
	v.SetDefault("providers.stt.name", d.Providers.STT.Name)
	v.SetDefault("providers.llm.name", d.Providers.LLM.Name)
	v.SetDefault("providers.llm.model", d.Providers.LLM.Model)
	v.SetDefault("providers.tts.name", d.Providers.TTS.Name)
	v.SetDefault("providers.tts.base_url", d.Providers.TTS.BaseURL)
	v.SetDefault("local_llm.url", d.LocalLLM.URL)
	v.SetDefault("local_llm.auto_start", d.LocalLLM.AutoStart)
	v.SetDefault("local_llm.startup_timeout", d.LocalLLM.StartupTimeout)
	v.SetDefault("conversation.speaker", d.Conversation.Speaker)
	v.SetDefault("conversation.max_tokens", d.Conversation.MaxTokens)
	v.SetDefault("conversation.max_voice_length", d.Conversation.MaxVoiceLength)
	v.SetDefault("conversation.system_prompt", d.Conversation.SystemPrompt)
	v.SetDefault("conversation.history_path", d.Conversation.HistoryPath)
	v.SetDefault("idle.enabled", d.Idle.Enabled)
	v.SetDefault("idle.min_delay", d.Idle.MinDelay)
	v.SetDefault("idle.max_delay", d.Idle.MaxDelay)
	v.SetDefault("idle.prompt", d.Idle.Prompt)
	v.SetDefault("server.log_level", string(d.Server.LogLevel))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token (DISCORD_TOKEN) is required"))
	}
	if cfg.Discord.CommandPrefix == "" {
		errs = append(errs, errors.New("discord.command_prefix must not be empty"))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate (SAMPLE_RATE) must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.SilenceDurationMS < 0 {
		errs = append(errs, fmt.Errorf("audio.silence_duration_ms (SILENCE_DURATION) must not be negative, got %d", cfg.Audio.SilenceDurationMS))
	}
	if cfg.Audio.MinRecordingSeconds <= 0 {
		errs = append(errs, fmt.Errorf("audio.min_recording_seconds (MIN_RECORDING_DURATION) must be positive, got %g", cfg.Audio.MinRecordingSeconds))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for kind, e := range map[string]ProviderEntry{"stt": cfg.Providers.STT, "llm": cfg.Providers.LLM, "tts": cfg.Providers.TTS} {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", kind))
		}
	}

	llmName := cfg.Providers.LLM.Name
	if llmName != "" && !slices.Contains(keylessLLMs, llmName) && cfg.Providers.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.llm.api_key (GEMINI_API_KEY) is required for provider %q", llmName))
	}
	if llmName == "local" && cfg.LocalLLM.AutoStart && cfg.LocalLLM.ScriptPath == "" {
		errs = append(errs, errors.New("local_llm.script_path (LOCAL_LLM_SCRIPT_PATH) is required when the local model is auto-started"))
	}
	if cfg.Providers.STT.Name == "google" && cfg.Providers.STT.APIKey == "" &&
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" && cfg.Providers.STT.Options["credentials_file"] == nil {
		slog.Warn("no Google API key or GOOGLE_APPLICATION_CREDENTIALS; falling back to application default credentials")
	}

	// Conversation
	if cfg.Conversation.Speaker < 0 {
		errs = append(errs, fmt.Errorf("conversation.speaker (SPEAKER) must not be negative, got %d", cfg.Conversation.Speaker))
	}
	if cfg.Conversation.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("conversation.max_tokens (MAX_TOKENS) must be positive, got %d", cfg.Conversation.MaxTokens))
	}
	if cfg.Conversation.MaxVoiceLength <= 0 {
		errs = append(errs, fmt.Errorf("conversation.max_voice_length (MAX_VOICE_RESPONSE_LENGTH) must be positive, got %d", cfg.Conversation.MaxVoiceLength))
	}
	if cfg.Conversation.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("conversation.history_limit must not be negative, got %d", cfg.Conversation.HistoryLimit))
	}

	// Idle
	if cfg.Idle.Enabled {
		if cfg.Idle.MinDelay <= 0 {
			errs = append(errs, fmt.Errorf("idle.min_delay (IDLE_MIN_DELAY) must be positive, got %s", cfg.Idle.MinDelay))
		}
		if cfg.Idle.MaxDelay < cfg.Idle.MinDelay {
			errs = append(errs, fmt.Errorf("idle.max_delay %s must not be less than idle.min_delay %s", cfg.Idle.MaxDelay, cfg.Idle.MinDelay))
		}
		if cfg.Idle.Prompt == "" {
			errs = append(errs, errors.New("idle.prompt (IDLE_PROMPT) must not be empty when idle prompts are enabled"))
		}
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, possibly a typo",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// DecodeOptions decodes a provider's free-form options map into out, which
// must be a pointer to a struct with mapstructure tags. Values are weakly
// typed ("0.5" decodes into a float64) and durations may be given as
// strings. Unknown keys are an error.
func DecodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("config: options decoder: %w", err)
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("config: decode options: %w", err)
	}
	return nil
}

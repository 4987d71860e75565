package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else is
// summarised in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SpeakerChanged        bool
	SystemPromptChanged   bool
	MaxVoiceLengthChanged bool
	MaxTokensChanged      bool

	IdleChanged bool

	// RestartRequired lists changed keys that only take effect after a
	// restart.
	RestartRequired []string
}

// HasChanges reports whether any field differs.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.SettingsChanged() || d.IdleChanged || len(d.RestartRequired) > 0
}

// SettingsChanged reports whether any runtime [Settings] field changed.
func (d ConfigDiff) SettingsChanged() bool {
	return d.SpeakerChanged || d.SystemPromptChanged || d.MaxVoiceLengthChanged || d.MaxTokensChanged
}

// Apply copies the changed runtime fields of cfg into s.
func (d ConfigDiff) Apply(cfg *Config, s *Settings) {
	if d.SpeakerChanged {
		s.VoiceID = cfg.Conversation.Speaker
	}
	if d.SystemPromptChanged {
		s.SystemPrompt = cfg.Conversation.SystemPrompt
	}
	if d.MaxVoiceLengthChanged {
		s.MaxVoiceLength = cfg.Conversation.MaxVoiceLength
	}
	if d.MaxTokensChanged {
		s.MaxTokens = cfg.Conversation.MaxTokens
	}
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Conversation settings
	oc, nc := old.Conversation, new.Conversation
	d.SpeakerChanged = oc.Speaker != nc.Speaker
	d.SystemPromptChanged = oc.SystemPrompt != nc.SystemPrompt
	d.MaxVoiceLengthChanged = oc.MaxVoiceLength != nc.MaxVoiceLength
	d.MaxTokensChanged = oc.MaxTokens != nc.MaxTokens

	d.IdleChanged = old.Idle != new.Idle

	// Restart-only keys.
	if old.Discord != new.Discord {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !sameEntry(old.Providers.STT, new.Providers.STT) ||
		!sameEntry(old.Providers.LLM, new.Providers.LLM) ||
		!sameEntry(old.Providers.TTS, new.Providers.TTS) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.LocalLLM != new.LocalLLM {
		d.RestartRequired = append(d.RestartRequired, "local_llm")
	}
	if oc.HistoryPath != nc.HistoryPath || oc.HistoryLimit != nc.HistoryLimit {
		d.RestartRequired = append(d.RestartRequired, "conversation.history")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}

	return d
}

// sameEntry compares the scalar fields of two provider entries and the
// number of fallbacks. Option maps are not compared.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !sameEntry(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

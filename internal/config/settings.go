package config

import (
	"sync"
	"sync/atomic"
)

// Settings is the runtime-mutable part of the configuration. Values are
// copied; a Settings obtained from [SettingsStore.Snapshot] never changes.
type Settings struct {
	VoiceID        int
	NoContext      bool
	SystemPrompt   string
	MaxVoiceLength int
	MaxTokens      int
}

// SettingsFromConfig returns the initial settings described by cfg.
func SettingsFromConfig(cfg *Config) Settings {
	return Settings{
		VoiceID:        cfg.Conversation.Speaker,
		SystemPrompt:   cfg.Conversation.SystemPrompt,
		MaxVoiceLength: cfg.Conversation.MaxVoiceLength,
		MaxTokens:      cfg.Conversation.MaxTokens,
	}
}

// SettingsStore holds the current [Settings]. Readers load an immutable
// snapshot without locking; writers replace it wholesale under a mutex so
// concurrent updates never lose each other's changes.
type SettingsStore struct {
	mu  sync.Mutex
	cur atomic.Pointer[Settings]
}

// NewSettingsStore returns a store holding initial.
func NewSettingsStore(initial Settings) *SettingsStore {
	s := &SettingsStore{}
	s.cur.Store(&initial)
	return s
}

// Snapshot returns the current settings.
func (s *SettingsStore) Snapshot() Settings {
	return *s.cur.Load()
}

// Update applies fn to a copy of the current settings and publishes the
// result. It returns the new settings.
func (s *SettingsStore) Update(fn func(*Settings)) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.cur.Load()
	fn(&next)
	s.cur.Store(&next)
	return next
}

// SetVoice selects the synthesis voice.
func (s *SettingsStore) SetVoice(id int) {
	s.Update(func(st *Settings) { st.VoiceID = id })
}

// ToggleNoContext flips no-context mode and reports the new value.
func (s *SettingsStore) ToggleNoContext() bool {
	return s.Update(func(st *Settings) { st.NoContext = !st.NoContext }).NoContext
}

// SetSystemPrompt replaces the system instruction.
func (s *SettingsStore) SetSystemPrompt(prompt string) {
	s.Update(func(st *Settings) { st.SystemPrompt = prompt })
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/discord/commands"
	"github.com/MrWong99/voxrelay/internal/idle"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/turn"
	"github.com/MrWong99/voxrelay/internal/voice"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// ErrNoSession is returned when a turn is submitted while the bot is not in
// a voice channel.
var ErrNoSession = errors.New("app: no active voice session")

// Turns runs conversation turns. *turn.Coordinator satisfies it.
type Turns interface {
	Submit(ctx context.Context, in turn.Input) error
	Process(ctx context.Context, in turn.Input) turn.Result
}

// MemberLookup resolves a voice participant. *discord.Bot satisfies it.
type MemberLookup interface {
	Member(guildID, userID string) (name string, isBot bool)
}

// SessionInfo describes the active voice session.
type SessionInfo struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	StartedAt      time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Platform audio.Platform
	Turns    Turns
	Members  MemberLookup
	Audio    config.AudioConfig
	Idle     config.IdleConfig
	Metrics  *observe.Metrics

	// IdleOptions are passed to every idle scheduler. Intended for tests.
	IdleOptions []idle.Option
}

// session is one joined voice channel.
type session struct {
	info   SessionInfo
	conn   audio.Connection
	player wavPlayer
	gate   *voice.Gate
	idle   *idle.Scheduler
	cancel context.CancelFunc
}

// SessionManager owns the bot's voice connection. Only one session exists
// at a time; joining another channel replaces it.
//
// All exported methods are safe for concurrent use.
type SessionManager struct {
	platform  audio.Platform
	turns     Turns
	members   MemberLookup
	audio     config.AudioConfig
	metrics   *observe.Metrics
	idleOpts  []idle.Option
	assembler *voice.Assembler

	// lifeMu serializes Join, Leave and Close. It is held while a session
	// is torn down; mu only guards the fields below.
	lifeMu sync.Mutex

	mu      sync.Mutex
	idleCfg config.IdleConfig
	active  *session
}

var _ commands.VoiceSessions = (*SessionManager)(nil)

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		platform:  cfg.Platform,
		turns:     cfg.Turns,
		members:   cfg.Members,
		audio:     cfg.Audio,
		metrics:   m,
		idleOpts:  cfg.IdleOptions,
		assembler: voice.NewAssembler(cfg.Audio.SilenceDuration(), cfg.Audio.SampleRate),
		idleCfg:   cfg.Idle,
	}
}

// Join connects to voiceChannelID and starts listening. An existing session
// is closed first.
func (sm *SessionManager) Join(ctx context.Context, guildID, voiceChannelID, textChannelID string) error {
	sm.lifeMu.Lock()
	defer sm.lifeMu.Unlock()

	if old := sm.detach(""); old != nil {
		if err := sm.stop(old); err != nil {
			slog.Warn("closing previous voice session", "err", err)
		}
	}

	sm.mu.Lock()
	idleCfg := sm.idleCfg
	sm.mu.Unlock()

	conn, err := sm.platform.Join(ctx, guildID, voiceChannelID)
	if err != nil {
		return fmt.Errorf("app: join voice channel: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		info: SessionInfo{
			GuildID:        guildID,
			VoiceChannelID: voiceChannelID,
			TextChannelID:  textChannelID,
			StartedAt:      time.Now(),
		},
		conn:   conn,
		player: wavPlayer{conn: conn},
		cancel: cancel,
	}
	s.gate = voice.NewGate(sm.audio.MinRecording(), sm.capture(conn), sm.handleUtterance(s), voice.WithMetrics(sm.metrics))

	if idleCfg.Enabled {
		prompt := idleCfg.Prompt
		opts := append([]idle.Option{idle.WithMetrics(sm.metrics)}, sm.idleOpts...)
		s.idle = idle.New(idleCfg.MinDelay, idleCfg.MaxDelay, func(ctx context.Context) {
			sm.turns.Process(ctx, turn.Input{
				Source:    turn.SourceIdle,
				Speaker:   turn.SystemSpeaker,
				Text:      prompt,
				ChannelID: textChannelID,
				Player:    s.player,
			})
		}, opts...)
		s.idle.Start(sessCtx)
	}

	conn.OnSpeechStart(func(speakerID string) {
		if _, isBot := sm.members.Member(guildID, speakerID); isBot {
			return
		}
		s.gate.OnSpeechStart(sessCtx, speakerID)
	})

	sm.mu.Lock()
	sm.active = s
	sm.mu.Unlock()
	slog.Info("voice session started",
		"guild", guildID,
		"voice_channel", voiceChannelID,
		"text_channel", textChannelID,
		"idle", idleCfg.Enabled,
	)
	return nil
}

// Leave disconnects the session in guildID and reports whether one existed.
func (sm *SessionManager) Leave(_ context.Context, guildID string) (bool, error) {
	sm.lifeMu.Lock()
	defer sm.lifeMu.Unlock()

	s := sm.detach(guildID)
	if s == nil {
		return false, nil
	}
	return true, sm.stop(s)
}

// Close disconnects any active session.
func (sm *SessionManager) Close() error {
	sm.lifeMu.Lock()
	defer sm.lifeMu.Unlock()

	s := sm.detach("")
	if s == nil {
		return nil
	}
	return sm.stop(s)
}

// detach removes the active session so new text turns and lookups no longer
// see it. An empty guildID matches any session.
func (sm *SessionManager) detach(guildID string) *session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s := sm.active
	if s == nil || (guildID != "" && s.info.GuildID != guildID) {
		return nil
	}
	sm.active = nil
	s.cancel()
	return s
}

// stop waits for a running idle prompt and disconnects. Must not be called
// with mu held.
func (sm *SessionManager) stop(s *session) error {
	if s.idle != nil {
		s.idle.Stop()
	}
	err := s.conn.Disconnect()
	if err != nil {
		err = fmt.Errorf("app: disconnect: %w", err)
	}
	slog.Info("voice session stopped",
		"guild", s.info.GuildID,
		"voice_channel", s.info.VoiceChannelID,
		"duration", time.Since(s.info.StartedAt).Round(time.Second),
	)
	return err
}

// Active reports whether a session exists in guildID.
func (sm *SessionManager) Active(guildID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil && sm.active.info.GuildID == guildID
}

// Info returns the active session, if any.
func (sm *SessionManager) Info() (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return SessionInfo{}, false
	}
	return sm.active.info, true
}

// SubmitText queues a typed turn. The reply is also spoken in the voice
// channel.
func (sm *SessionManager) SubmitText(ctx context.Context, guildID, speaker, text, channelID string) error {
	sm.mu.Lock()
	s := sm.active
	sm.mu.Unlock()
	if s == nil || s.info.GuildID != guildID {
		return ErrNoSession
	}
	return sm.turns.Submit(ctx, turn.Input{
		Source:    turn.SourceText,
		Speaker:   speaker,
		Text:      text,
		ChannelID: channelID,
		Player:    s.player,
	})
}

// SetIdle replaces the idle settings. They apply from the next Join.
func (sm *SessionManager) SetIdle(cfg config.IdleConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.idleCfg = cfg
}

// ObserveTurn re-arms the idle timer after every turn that was not itself
// an idle prompt. Register it with [turn.WithTurnHook].
func (sm *SessionManager) ObserveTurn(res turn.Result) {
	if res.Source == turn.SourceIdle {
		return
	}
	sm.mu.Lock()
	s := sm.active
	sm.mu.Unlock()
	if s != nil && s.idle != nil {
		s.idle.Reset()
	}
}

// capture records one utterance of a speaker from conn.
func (sm *SessionManager) capture(conn audio.Connection) voice.CaptureFunc {
	return func(ctx context.Context, speakerID string) (voice.Capture, error) {
		packets, cancel := conn.Subscribe(speakerID)
		defer cancel()
		dec, err := conn.NewDecoder()
		if err != nil {
			return voice.Capture{}, fmt.Errorf("app: new decoder: %w", err)
		}
		return sm.assembler.Assemble(ctx, packets, dec)
	}
}

// handleUtterance hands an accepted utterance to the turn pipeline.
func (sm *SessionManager) handleUtterance(s *session) voice.Handler {
	return func(ctx context.Context, u voice.Utterance) error {
		name, _ := sm.members.Member(s.info.GuildID, u.SpeakerID)
		slog.Debug("utterance captured",
			"speaker", name,
			"seconds", u.DurationSeconds(),
		)
		return sm.turns.Submit(ctx, turn.Input{
			Source:    turn.SourceVoice,
			Speaker:   name,
			Audio:     stt.Audio{PCM: u.PCM, SampleRate: u.SampleRate},
			ChannelID: s.info.TextChannelID,
			Player:    s.player,
		})
	}
}

// Package discord provides the Discord bot layer for voxrelay. It owns the
// discordgo.Session lifecycle, routes prefixed text commands to registered
// handlers, checks the admin role, and posts turn notifications.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxrelay/pkg/audio"
	discordaudio "github.com/MrWong99/voxrelay/pkg/audio/discord"
)

// ErrNotInVoice is returned by [Bot.UserVoiceChannel] when the user is not
// connected to a voice channel.
var ErrNotInVoice = errors.New("discord: user is not in a voice channel")

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// CommandPrefix starts every command (e.g. "!").
	CommandPrefix string

	// TextTurnPrefix starts a text turn (e.g. ".").
	TextTurnPrefix string

	// AdminRoleID restricts admin commands. Empty allows everyone.
	AdminRoleID string
}

// Bot owns the Discord gateway connection and routes messages to registered
// command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *Router
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the message handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds |
		discordgo.IntentsMessageContent

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session),
		router:   NewRouter(cfg.CommandPrefix, cfg.TextTurnPrefix, NewPermissionChecker(cfg.AdminRoleID)),
	}

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord: logged in", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if s.State != nil && s.State.User != nil && m.Author != nil && m.Author.ID == s.State.User.ID {
			return
		}
		b.router.Handle(context.Background(), s, m)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *Router {
	return b.router
}

// UserVoiceChannel returns the voice channel userID is connected to in
// guildID, or [ErrNotInVoice].
func (b *Bot) UserVoiceChannel(guildID, userID string) (string, error) {
	vs, err := b.Session().State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", ErrNotInVoice
	}
	return vs.ChannelID, nil
}

// Member returns the display name of a guild member and whether the member
// is a bot. Unknown members are reported by id.
func (b *Bot) Member(guildID, userID string) (name string, isBot bool) {
	m, err := b.Session().State.Member(guildID, userID)
	if err != nil || m == nil || m.User == nil {
		return userID, false
	}
	return DisplayName(m, m.User), m.User.Bot
}

// Check reports whether the gateway session is open and ready.
func (b *Bot) Check(context.Context) error {
	s := b.Session()
	s.RLock()
	defer s.RUnlock()
	if !s.DataReady {
		return errors.New("discord: gateway not ready")
	}
	return nil
}

// Run blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

// DisplayName picks the guild nickname, then the global name, then the
// username.
func DisplayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus transport with the PCM [audio.AudioFrame] pipeline.
//
// The platform requires an active *discordgo.Session owned by the bot layer.
// Each call to [Platform.Join] joins a voice channel and returns a
// [Connection] that announces speech starts, hands out per-speaker packet
// streams, and plays synthesized audio.
package discord

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using a discordgo voice connection.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
}

// New creates a new Discord Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// Join joins channelID in guildID and returns an active [audio.Connection].
// The bot is neither muted nor deafened so it can both listen and speak.
func (p *Platform) Join(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc), nil
}

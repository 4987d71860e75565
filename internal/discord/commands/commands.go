// Package commands implements the prefixed chat commands of voxrelay:
// voice channel control, synthesis voice selection, conversation settings,
// history inspection, and text turns.
package commands

import (
	"context"
	"strings"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/discord"
	"github.com/MrWong99/voxrelay/internal/history"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// VoiceSessions controls the bot's voice connections.
type VoiceSessions interface {
	// Join connects to voiceChannelID. Turn notifications go to
	// textChannelID. Joining while connected moves the connection.
	Join(ctx context.Context, guildID, voiceChannelID, textChannelID string) error

	// Leave disconnects from guildID and reports whether a connection
	// existed.
	Leave(ctx context.Context, guildID string) (bool, error)

	// Active reports whether a voice connection exists for guildID.
	Active(guildID string) bool

	// SubmitText queues a text turn on the guild's voice session.
	SubmitText(ctx context.Context, guildID, speaker, text, channelID string) error
}

// VoiceLookup finds the voice channel a user is connected to.
type VoiceLookup interface {
	UserVoiceChannel(guildID, userID string) (string, error)
}

// HistoryClearer resets the conversation history in step with running turns.
type HistoryClearer interface {
	ClearHistory(ctx context.Context) error
}

// Deps are the collaborators the commands need.
type Deps struct {
	Sessions VoiceSessions
	Voice    VoiceLookup
	Settings *config.SettingsStore
	History  *history.Log
	Clearer  HistoryClearer
	TTS      tts.Provider

	// Stats backs the stats command. Nil omits the command.
	Stats *discord.TurnStats
}

// Register adds every command to r.
func Register(r *discord.Router, d Deps) {
	vc := &VoiceCommands{sessions: d.Sessions, voice: d.Voice}
	vc.Register(r)

	sc := &SettingsCommands{settings: d.Settings, tts: d.TTS}
	sc.Register(r)

	hc := &HistoryCommands{log: d.History, clearer: d.Clearer}
	hc.Register(r)

	r.Register(discord.Command{
		Name: "help",
		Help: "コマンド一覧を表示",
		Handler: func(_ context.Context, c *discord.Context) {
			c.Reply(discord.CodeBlock(strings.Join(r.Help(), "\n")))
		},
	})
	if d.Stats != nil {
		r.Register(discord.Command{
			Name: "stats",
			Help: "処理時間の統計を表示",
			Handler: func(_ context.Context, c *discord.Context) {
				c.Reply("📊 処理統計:\n" + discord.CodeBlock(d.Stats.Snapshot().Format()))
			},
		})
	}
}

package commands

import (
	"context"
	"log/slog"

	"github.com/MrWong99/voxrelay/internal/discord"
)

// VoiceCommands handles join, leave and text turns.
type VoiceCommands struct {
	sessions VoiceSessions
	voice    VoiceLookup
}

// Register adds the voice commands to r.
func (vc *VoiceCommands) Register(r *discord.Router) {
	r.Register(discord.Command{Name: "join", Help: "あなたのボイスチャンネルに参加", Handler: vc.handleJoin})
	r.Register(discord.Command{Name: "leave", Help: "ボイスチャンネルから退出", Handler: vc.handleLeave})
	r.RegisterText(vc.handleText)
}

func (vc *VoiceCommands) handleJoin(ctx context.Context, c *discord.Context) {
	channelID, err := vc.voice.UserVoiceChannel(c.GuildID(), c.AuthorID())
	if err != nil {
		c.Reply("ボイスチャンネルに参加してください")
		return
	}
	if err := vc.sessions.Join(ctx, c.GuildID(), channelID, c.ChannelID()); err != nil {
		slog.Error("join voice channel failed", "guild", c.GuildID(), "channel", channelID, "err", err)
		c.Reply("❌ 接続に失敗しました")
		return
	}
	c.Reply("✅ ボイスチャンネルに接続しました")
}

func (vc *VoiceCommands) handleLeave(ctx context.Context, c *discord.Context) {
	left, err := vc.sessions.Leave(ctx, c.GuildID())
	switch {
	case err != nil:
		slog.Warn("leave voice channel failed", "guild", c.GuildID(), "err", err)
		c.Reply("⚠️ 切断中にエラーが発生しました: " + err.Error())
	case !left:
		c.Reply("接続していません")
	default:
		c.Reply("👋 ボイスチャンネルから退出しました")
	}
}

func (vc *VoiceCommands) handleText(ctx context.Context, c *discord.Context) {
	if !vc.sessions.Active(c.GuildID()) {
		c.Reply("先にボイスチャンネルに接続してください（!join）")
		return
	}
	if err := vc.sessions.SubmitText(ctx, c.GuildID(), c.AuthorName(), c.Args, c.ChannelID()); err != nil {
		slog.Warn("text turn rejected", "guild", c.GuildID(), "err", err)
		c.Reply("❌ 処理中の会話が多すぎます。少し待ってから再度お試しください")
	}
}

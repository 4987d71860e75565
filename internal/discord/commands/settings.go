package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/discord"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// codeBlockOverhead is the length added by [discord.CodeBlock].
const codeBlockOverhead = len("```\n\n```")

// SettingsCommands handles speakers, setSpeaker, nc and system.
type SettingsCommands struct {
	settings *config.SettingsStore
	tts      tts.Provider
}

// Register adds the settings commands to r.
func (sc *SettingsCommands) Register(r *discord.Router) {
	r.Register(discord.Command{Name: "speakers", Help: "利用可能な音声の一覧", Handler: sc.handleSpeakers})
	r.Register(discord.Command{Name: "setSpeaker", Usage: "<id>", Help: "音声を変更", Handler: sc.handleSetSpeaker})
	r.Register(discord.Command{Name: "nc", Help: "履歴なしモードの切り替え", Handler: sc.handleNoContext})
	r.Register(discord.Command{Name: "system", Usage: "<prompt>", Help: "システムプロンプトを変更", Admin: true, Handler: sc.handleSystem})
}

func (sc *SettingsCommands) handleSpeakers(ctx context.Context, c *discord.Context) {
	voices, err := sc.tts.ListVoices(ctx)
	if err != nil {
		slog.Warn("list voices failed", "err", err)
		c.Reply(fmt.Sprintf("❌ エラー: %v", err))
		return
	}
	if len(voices) == 0 {
		c.Reply("音声が見つかりません")
		return
	}
	for _, chunk := range tts.FormatVoices(voices, discord.MessageLimit-codeBlockOverhead) {
		c.Reply(discord.CodeBlock(chunk))
	}
}

func (sc *SettingsCommands) handleSetSpeaker(_ context.Context, c *discord.Context) {
	id, err := strconv.Atoi(c.Args)
	if err != nil || id < 0 {
		c.Reply("❌ 無効なスピーカーID")
		return
	}
	sc.settings.SetVoice(id)
	c.Reply(fmt.Sprintf("✅ スピーカーをID %d に変更しました", id))
}

func (sc *SettingsCommands) handleNoContext(_ context.Context, c *discord.Context) {
	on := sc.settings.ToggleNoContext()
	status, detail := "OFF", "履歴を使用して応答します"
	if on {
		status, detail = "ON", "履歴なしで応答します"
	}
	c.Reply(fmt.Sprintf("🔄 No-Context Mode: **%s**\n%s", status, detail))
}

func (sc *SettingsCommands) handleSystem(_ context.Context, c *discord.Context) {
	if c.Args == "" {
		c.Reply("❌ プロンプトを入力してください (例: !system あなたはhelpfulなアシスタントです)")
		return
	}
	sc.settings.SetSystemPrompt(c.Args)
	c.Reply("✅ システムプロンプトを更新しました:\n" + discord.CodeBlock(c.Args))
}

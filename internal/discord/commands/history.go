package commands

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxrelay/internal/discord"
	"github.com/MrWong99/voxrelay/internal/history"
	"github.com/MrWong99/voxrelay/pkg/types"
)

const (
	historyPreviewCount = 10
	historyPreviewRunes = 100
)

// HistoryCommands handles history and clear.
type HistoryCommands struct {
	log     *history.Log
	clearer HistoryClearer
}

// Register adds the history commands to r.
func (hc *HistoryCommands) Register(r *discord.Router) {
	r.Register(discord.Command{Name: "history", Help: "最新10件の会話履歴を表示", Handler: hc.handleHistory})
	r.Register(discord.Command{Name: "clear", Help: "会話履歴をリセット", Admin: true, Handler: hc.handleClear})
}

func (hc *HistoryCommands) handleHistory(_ context.Context, c *discord.Context) {
	msgs := hc.log.Snapshot().Tail(historyPreviewCount)
	if len(msgs) == 0 {
		c.Reply("📝 会話履歴は空です")
		return
	}
	c.Reply("📝 会話履歴 (最新10件):\n" + discord.CodeBlock(FormatHistory(msgs)))
}

func (hc *HistoryCommands) handleClear(ctx context.Context, c *discord.Context) {
	if err := hc.clearer.ClearHistory(ctx); err != nil {
		slog.Error("clear history failed", "err", err)
		c.Reply("❌ 履歴のリセットに失敗しました")
		return
	}
	c.Reply("🗑️ 会話履歴をリセットしました")
}

// FormatHistory renders one line per message, truncating long entries.
func FormatHistory(msgs []types.Message) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		role := "🤖 Model"
		if m.Role == types.RoleUser {
			role = "👤 User"
		}
		lines[i] = role + ": " + truncate(m.Content, historyPreviewRunes)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

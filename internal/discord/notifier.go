package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxrelay/internal/turn"
)

// Notifier posts turn events to the text channel the turn belongs to.
type Notifier struct {
	sender  Sender
	botName string
}

var _ turn.Notifier = (*Notifier)(nil)

// NewNotifier returns a Notifier that labels replies with botName, e.g.
// "Gemini".
func NewNotifier(s Sender, botName string) *Notifier {
	return &Notifier{sender: s, botName: botName}
}

// Notify implements [turn.Notifier]. Events without a channel are dropped.
func (n *Notifier) Notify(_ context.Context, ev turn.Event) {
	if ev.ChannelID == "" {
		return
	}
	if msg := n.Format(ev); msg != "" {
		Send(n.sender, ev.ChannelID, msg)
	}
}

// Format renders ev as a chat message.
func (n *Notifier) Format(ev turn.Event) string {
	switch ev.Kind {
	case turn.EventTranscribed:
		return fmt.Sprintf("🎤 **%s**: %s\n⏱️ STT処理時間: %dms", ev.Speaker, ev.Text, ev.Elapsed.Milliseconds())
	case turn.EventReplied:
		marker := ""
		if ev.NoContext {
			marker = " [NC]"
		}
		return fmt.Sprintf("💬 **%s%s**: %s\n⏱️ LLM処理時間: %dms", n.botName, marker, ev.Text, ev.Elapsed.Milliseconds())
	case turn.EventVoiceSkipped:
		return "⚠️ 応答が長すぎるため音声合成をスキップしました"
	case turn.EventFailed:
		return formatFailure(ev)
	}
	return ""
}

func formatFailure(ev turn.Event) string {
	switch {
	case errors.Is(ev.Err, turn.ErrEmptyTranscript):
		return "🔇 音声を認識できませんでした"
	case errors.Is(ev.Err, turn.ErrEmptyReply):
		return "💭 応答はありませんでした"
	}
	switch ev.Step {
	case turn.StepTranscribe:
		return fmt.Sprintf("❌ STTエラー: %v", ev.Err)
	case turn.StepGenerate:
		return fmt.Sprintf("❌ LLMエラー: %v", ev.Err)
	case turn.StepPersist:
		return fmt.Sprintf("❌ 履歴の保存に失敗しました: %v", ev.Err)
	case turn.StepSynthesize:
		return fmt.Sprintf("❌ TTSエラー: %v", ev.Err)
	case turn.StepPlay:
		return fmt.Sprintf("❌ 再生エラー: %v", ev.Err)
	}
	return fmt.Sprintf("❌ エラーが発生しました: %v", ev.Err)
}

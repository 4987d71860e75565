package discord

import (
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// MessageLimit is the maximum length of a Discord message.
const MessageLimit = 2000

// Reply answers msg in its channel. Content longer than [MessageLimit] is
// split at line boundaries; only the first part references msg.
func Reply(s Sender, msg *discordgo.Message, content string) {
	for i, part := range Split(content, MessageLimit) {
		var err error
		if i == 0 && msg.ID != "" {
			_, err = s.ChannelMessageSendReply(msg.ChannelID, part, msg.Reference())
		} else {
			_, err = s.ChannelMessageSend(msg.ChannelID, part)
		}
		if err != nil {
			slog.Warn("discord: failed to send reply", "channel", msg.ChannelID, "err", err)
			return
		}
	}
}

// Send posts content to channelID, splitting it like [Reply].
func Send(s Sender, channelID, content string) {
	for _, part := range Split(content, MessageLimit) {
		if _, err := s.ChannelMessageSend(channelID, part); err != nil {
			slog.Warn("discord: failed to send message", "channel", channelID, "err", err)
			return
		}
	}
}

// CodeBlock wraps text in a fenced code block.
func CodeBlock(text string) string {
	return "```\n" + text + "\n```"
}

// Split breaks content into parts of at most limit bytes, preferring line
// boundaries. Lines longer than limit are cut on rune boundaries.
func Split(content string, limit int) []string {
	if len(content) <= limit {
		return []string{content}
	}
	var (
		parts []string
		b     strings.Builder
	)
	flush := func() {
		if b.Len() > 0 {
			parts = append(parts, b.String())
			b.Reset()
		}
	}
	for _, line := range strings.SplitAfter(content, "\n") {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !isRuneStart(line[cut]) {
				cut--
			}
			parts = append(parts, line[:cut])
			line = line[cut:]
		}
		if b.Len()+len(line) > limit {
			flush()
		}
		b.WriteString(line)
	}
	flush()
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimRight(p, "\n"); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

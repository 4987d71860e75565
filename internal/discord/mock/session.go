// Package mock provides test doubles for the Discord bot layer.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// SentMessage records one posted message.
type SentMessage struct {
	ChannelID string
	Content   string

	// ReplyTo is the referenced message id for replies.
	ReplyTo string
}

// Sender records messages for test assertions. It implements the
// discord.Sender interface.
type Sender struct {
	mu sync.Mutex

	// Messages records every sent message in order.
	Messages []SentMessage

	// Err is returned by every send when non-nil.
	Err error
}

// ChannelMessageSend records the message and returns a stub.
func (m *Sender) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return m.record(SentMessage{ChannelID: channelID, Content: content})
}

// ChannelMessageSendReply records the reply and returns a stub.
func (m *Sender) ChannelMessageSendReply(channelID string, content string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	sm := SentMessage{ChannelID: channelID, Content: content}
	if ref != nil {
		sm.ReplyTo = ref.MessageID
	}
	return m.record(sm)
}

func (m *Sender) record(sm SentMessage) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.Messages = append(m.Messages, sm)
	return &discordgo.Message{ID: "mock-message", ChannelID: sm.ChannelID, Content: sm.Content}, nil
}

// Contents returns the content of every recorded message.
func (m *Sender) Contents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Messages))
	for i, sm := range m.Messages {
		out[i] = sm.Content
	}
	return out
}

// Last returns the most recent message, or the zero value.
func (m *Sender) Last() SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return SentMessage{}
	}
	return m.Messages[len(m.Messages)-1]
}

// Reset clears recorded messages and the injected error.
func (m *Sender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
	m.Err = nil
}

// Message builds a guild MessageCreate event for tests.
func Message(id, guildID, channelID, authorID, content string, roles ...string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        id,
		GuildID:   guildID,
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Username: "user-" + authorID},
		Member:    &discordgo.Member{Roles: roles},
	}}
}

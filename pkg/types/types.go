// Package types defines the small set of values shared between the provider
// adapters and the conversation core. Each package keeps its own domain types;
// only data that crosses package boundaries lives here to avoid import cycles.
package types

import "strings"

// Role identifies the author of a [Message] in the conversation log.
type Role string

const (
	// RoleUser marks a line spoken or typed by a participant (or the idle
	// prompt, which is authored as a user line labelled "SYSTEM").
	RoleUser Role = "user"

	// RoleModel marks a reply produced by the language model.
	RoleModel Role = "model"
)

// IsValid reports whether r is one of the recognised roles.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleModel
}

// Message is one entry of the conversation history.
type Message struct {
	// Role is either [RoleUser] or [RoleModel].
	Role Role

	// Content is the message text. User lines are stored as "<speaker>: <text>".
	Content string
}

// UserMessage builds the history line for a participant utterance. The speaker
// label is kept inside the content so the model can tell participants apart.
func UserMessage(speaker, text string) Message {
	speaker = strings.TrimSpace(speaker)
	text = strings.TrimSpace(text)
	if speaker == "" {
		return Message{Role: RoleUser, Content: text}
	}
	return Message{Role: RoleUser, Content: speaker + ": " + text}
}

// ModelMessage builds the history line for a model reply.
func ModelMessage(text string) Message {
	return Message{Role: RoleModel, Content: strings.TrimSpace(text)}
}

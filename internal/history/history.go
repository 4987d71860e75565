// Package history owns the conversation log: an immutable [History] value,
// a JSON [FileStore] that persists it, and a [Log] that serializes
// append-and-persist so memory and disk never diverge.
package history

import "github.com/MrWong99/voxrelay/pkg/types"

// History is an ordered, append-only sequence of messages. The zero value is
// an empty history. History is a value: [History.Append] returns a new
// History and never mutates the receiver, so a snapshot handed to a reader
// stays valid while writers continue.
type History struct {
	msgs []types.Message
}

// New returns a History holding a copy of msgs.
func New(msgs ...types.Message) History {
	if len(msgs) == 0 {
		return History{}
	}
	return History{msgs: append([]types.Message(nil), msgs...)}
}

// Append returns a new History with msg added at the end.
func (h History) Append(msg types.Message) History {
	out := make([]types.Message, len(h.msgs), len(h.msgs)+1)
	copy(out, h.msgs)
	return History{msgs: append(out, msg)}
}

// Messages returns a copy of the messages in order.
func (h History) Messages() []types.Message {
	return append([]types.Message(nil), h.msgs...)
}

// Len returns the number of messages.
func (h History) Len() int { return len(h.msgs) }

// Tail returns a copy of the last n messages (all of them when n exceeds
// Len).
func (h History) Tail(n int) []types.Message {
	if n <= 0 {
		return nil
	}
	if n > len(h.msgs) {
		n = len(h.msgs)
	}
	return append([]types.Message(nil), h.msgs[len(h.msgs)-n:]...)
}

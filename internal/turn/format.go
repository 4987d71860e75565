package turn

import (
	"github.com/MrWong99/voxrelay/pkg/types"
)

// ContextMessages returns the history to send to the model. A user line that
// never received a reply (its generation failed) is left out so the model
// does not see a dangling question. With limit > 0 only the newest limit
// messages of the cleaned history are returned. The result never starts with
// a model line.
func ContextMessages(history []types.Message, limit int) []types.Message {
	out := make([]types.Message, 0, len(history))
	for i, m := range history {
		if m.Role == types.RoleUser {
			if i+1 >= len(history) || history[i+1].Role != types.RoleModel {
				continue
			}
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	for len(out) > 0 && out[0].Role == types.RoleModel {
		out = out[1:]
	}
	return out
}

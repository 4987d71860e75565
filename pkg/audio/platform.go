// Package audio defines the voice transport abstractions and PCM helpers used
// by voxrelay.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice channel and returns a [Connection].
//   - [Connection] is an active session on that channel. It announces when a
//     participant starts speaking, hands out per-speaker compressed packet
//     streams, and plays decoded audio back into the channel.
//
// Implementations live in adapter packages (audio/discord). The interfaces are
// narrow so the capture and turn logic never depend on a specific SDK.
package audio

import "context"

// Decoder turns compressed packets of one speaker into PCM. A decoder keeps
// codec state across packets, so callers use one decoder per capture.
type Decoder interface {
	// Decode decodes a single compressed packet. An error means the packet is
	// unusable; callers treat it as a dropped frame.
	Decode(payload []byte) (AudioFrame, error)
}

// Connection represents an active session on a voice channel.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// OnSpeechStart registers cb as the callback invoked when a participant
	// starts speaking. Only one callback is kept; later calls replace it.
	// The callback runs on its own goroutine and may block.
	OnSpeechStart(cb func(speakerID string))

	// Subscribe returns the packet stream for speakerID. Packets arriving
	// while the subscription is open are delivered in order; the stream is
	// closed when the returned cancel func is called or the connection ends.
	// A second Subscribe for the same speaker replaces the first.
	Subscribe(speakerID string) (<-chan Packet, func())

	// NewDecoder returns a fresh decoder matching the transport's codec.
	NewDecoder() (Decoder, error)

	// Play sends frame to the channel and returns once the last encoded frame
	// has been handed to the transport. Concurrent calls are serialized so
	// only one playback is active at a time.
	Play(ctx context.Context, frame AudioFrame) error

	// Disconnect tears down the connection and closes every open
	// subscription. It is safe to call more than once.
	Disconnect() error
}

// Platform is the entry point for a voice provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Join connects to the voice channel channelID in guild guildID. ctx
	// governs only the connection attempt.
	Join(ctx context.Context, guildID, channelID string) (Connection, error)
}

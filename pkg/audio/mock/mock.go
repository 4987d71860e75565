// Package mock provides in-memory implementations of [audio.Platform],
// [audio.Connection], and [audio.Decoder] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	conn := mock.NewConnection()
//	platform := &mock.Platform{JoinResult: conn}
//	c, _ := platform.Join(ctx, "guild", "voice-1")
//	conn.Emit("user-1")                       // fire speech start
//	conn.Feed("user-1", audio.Packet{...})    // deliver to the subscription
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock [audio.Connection]. Packets are delivered only to open
// subscriptions, mirroring a real transport.
type Connection struct {
	mu sync.Mutex

	speechCb func(string)
	subs     map[string]chan audio.Packet

	// DecoderFactory is used by NewDecoder. When nil, a [Decoder] that
	// returns Payload as 48 kHz mono PCM is created.
	DecoderFactory func() (audio.Decoder, error)

	// PlayErr is returned by Play.
	PlayErr error

	// PlayHook, when set, is invoked inside Play (while the play lock is held).
	PlayHook func(audio.AudioFrame)

	// DisconnectErr is returned by Disconnect.
	DisconnectErr error

	// Played records every frame passed to Play.
	Played []audio.AudioFrame

	// SubscribeCalls records the speaker IDs passed to Subscribe.
	SubscribeCalls []string

	// DisconnectCalls counts Disconnect invocations.
	DisconnectCalls int

	playMu sync.Mutex
}

var _ audio.Connection = (*Connection)(nil)

// NewConnection returns a ready-to-use Connection.
func NewConnection() *Connection {
	return &Connection{subs: make(map[string]chan audio.Packet)}
}

// OnSpeechStart implements [audio.Connection].
func (c *Connection) OnSpeechStart(cb func(speakerID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speechCb = cb
}

// Emit invokes the registered speech-start callback synchronously.
func (c *Connection) Emit(speakerID string) {
	c.mu.Lock()
	cb := c.speechCb
	c.mu.Unlock()
	if cb != nil {
		cb(speakerID)
	}
}

// Subscribe implements [audio.Connection].
func (c *Connection) Subscribe(speakerID string) (<-chan audio.Packet, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		c.subs = make(map[string]chan audio.Packet)
	}
	c.SubscribeCalls = append(c.SubscribeCalls, speakerID)
	if old, ok := c.subs[speakerID]; ok {
		close(old)
	}
	ch := make(chan audio.Packet, 256)
	c.subs[speakerID] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if cur, ok := c.subs[speakerID]; ok && cur == ch {
				delete(c.subs, speakerID)
				close(ch)
			}
		})
	}
}

// Subscribed reports whether speakerID has an open subscription.
func (c *Connection) Subscribed(speakerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[speakerID]
	return ok
}

// Feed delivers packets to the open subscription of speakerID. It reports
// false when no subscription is open.
func (c *Connection) Feed(speakerID string, pkts ...audio.Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.subs[speakerID]
	if !ok {
		return false
	}
	for _, p := range pkts {
		ch <- p
	}
	return true
}

// End closes the open subscription of speakerID as if the stream ended.
func (c *Connection) End(speakerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[speakerID]; ok {
		delete(c.subs, speakerID)
		close(ch)
	}
}

// NewDecoder implements [audio.Connection].
func (c *Connection) NewDecoder() (audio.Decoder, error) {
	c.mu.Lock()
	f := c.DecoderFactory
	c.mu.Unlock()
	if f != nil {
		return f()
	}
	return &Decoder{SampleRate: 48000, Channels: 1}, nil
}

// Play implements [audio.Connection].
func (c *Connection) Play(_ context.Context, frame audio.AudioFrame) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	c.mu.Lock()
	c.Played = append(c.Played, frame)
	hook, err := c.PlayHook, c.PlayErr
	c.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return err
}

// PlayCount returns the number of Play calls so far.
func (c *Connection) PlayCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Played)
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DisconnectCalls++
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	return c.DisconnectErr
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder is a mock [audio.Decoder]. It returns the payload as PCM of the
// configured format, or Err for payloads listed in Fail.
type Decoder struct {
	SampleRate int
	Channels   int

	// Fail lists payload strings that make Decode return Err.
	Fail map[string]bool

	// Err is returned for failing payloads. Defaults to a generic error.
	Err error
}

var _ audio.Decoder = (*Decoder)(nil)

// Decode implements [audio.Decoder].
func (d *Decoder) Decode(payload []byte) (audio.AudioFrame, error) {
	if d.Fail[string(payload)] {
		if d.Err != nil {
			return audio.AudioFrame{}, d.Err
		}
		return audio.AudioFrame{}, errDecode
	}
	return audio.AudioFrame{Data: payload, SampleRate: d.SampleRate, Channels: d.Channels}, nil
}

type decodeError struct{}

func (decodeError) Error() string { return "mock: decode failed" }

var errDecode error = decodeError{}

// ─── Platform ─────────────────────────────────────────────────────────────────

// JoinCall records a single Join invocation.
type JoinCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// JoinResult is returned by Join.
	JoinResult audio.Connection

	// JoinErr is returned by Join when non-nil.
	JoinErr error

	// JoinCalls records every Join invocation.
	JoinCalls []JoinCall
}

var _ audio.Platform = (*Platform)(nil)

// Join implements [audio.Platform].
func (p *Platform) Join(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.JoinCalls = append(p.JoinCalls, JoinCall{GuildID: guildID, ChannelID: channelID})
	if p.JoinErr != nil {
		return nil, p.JoinErr
	}
	return p.JoinResult, nil
}

package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

var _ audio.Connection = (*Connection)(nil)

const (
	// speechGap is the receive gap after which the next packet of an SSRC
	// counts as the start of a new utterance.
	speechGap = 250 * time.Millisecond

	// prerollPackets bounds the packets kept per SSRC while nobody is
	// subscribed, so the first syllable survives the subscribe round trip.
	prerollPackets = 25

	subscriptionBuffer = 256
)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are demuxed by SSRC,
// mapped to Discord user IDs via speaking updates, and handed to
// per-speaker subscriptions. Outgoing PCM is encoded to Opus on Play.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc *discordgo.VoiceConnection

	mu       sync.Mutex
	ssrcUser map[uint32]string
	lastSeen map[uint32]time.Time
	preroll  map[uint32][]audio.Packet
	subs     map[string]chan audio.Packet
	speechCb func(string)

	playMu sync.Mutex
	enc    *opusEncoder

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error

	now func() time.Time
}

// newConnection initialises a Connection for an already-joined voice
// channel and starts the receive loop.
func newConnection(vc *discordgo.VoiceConnection) *Connection {
	c := &Connection{
		vc:           vc,
		ssrcUser:     make(map[uint32]string),
		lastSeen:     make(map[uint32]time.Time),
		preroll:      make(map[uint32][]audio.Packet),
		subs:         make(map[string]chan audio.Packet),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		now:          time.Now,
	}
	vc.AddHandler(c.handleSpeakingUpdate)
	go c.recvLoop()
	return c
}

// OnSpeechStart implements [audio.Connection].
func (c *Connection) OnSpeechStart(cb func(speakerID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speechCb = cb
}

// Subscribe implements [audio.Connection]. Packets buffered since the
// speaker's last speech start are delivered first.
func (c *Connection) Subscribe(speakerID string) (<-chan audio.Packet, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan audio.Packet, subscriptionBuffer)
	select {
	case <-c.done:
		close(ch)
		return ch, func() {}
	default:
	}

	if old, ok := c.subs[speakerID]; ok {
		close(old)
	}
	c.subs[speakerID] = ch

	for ssrc, pkts := range c.preroll {
		if c.speakerLocked(ssrc) != speakerID {
			continue
		}
		for _, p := range pkts {
			ch <- p
		}
		delete(c.preroll, ssrc)
	}

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

// NewDecoder implements [audio.Connection].
func (c *Connection) NewDecoder() (audio.Decoder, error) {
	return newOpusDecoder()
}

// Play implements [audio.Connection]. The frame is converted to 48 kHz
// stereo, encoded in 20 ms chunks, and sent while the speaking flag is set.
func (c *Connection) Play(ctx context.Context, frame audio.AudioFrame) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	if c.enc == nil {
		enc, err := newOpusEncoder()
		if err != nil {
			return err
		}
		c.enc = enc
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}
	frames := splitFrames(conv.Convert(frame).Data)
	if len(frames) == 0 {
		return nil
	}

	c.setSpeaking(true)
	defer c.setSpeaking(false)

	for _, pcm := range frames {
		opus, err := c.enc.encode(pcm)
		if err != nil {
			slog.Warn("discord: opus encode error", "error", err)
			continue
		}
		select {
		case c.vc.OpusSend <- opus:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("discord: play: connection closed")
		}
	}
	return nil
}

// Disconnect implements [audio.Connection]. It is safe to call more than
// once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		c.mu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.mu.Unlock()
	})
	return err
}

// recvLoop reads Opus packets from the voice connection until it closes.
func (c *Connection) recvLoop() {
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			c.handlePacket(pkt)
		}
	}
}

// handlePacket routes one received packet. Silence frames are dropped; the
// first packet after a gap of speechGap or more fires the speech-start
// callback.
func (c *Connection) handlePacket(pkt *discordgo.Packet) {
	if isSilenceFrame(pkt.Opus) {
		return
	}

	p := audio.Packet{
		Payload:   pkt.Opus,
		Sequence:  pkt.Sequence,
		Timestamp: pkt.Timestamp,
	}
	now := c.now()

	c.mu.Lock()
	last, seen := c.lastSeen[pkt.SSRC]
	c.lastSeen[pkt.SSRC] = now
	started := !seen || now.Sub(last) >= speechGap
	speaker := c.speakerLocked(pkt.SSRC)

	if ch, ok := c.subs[speaker]; ok {
		select {
		case ch <- p:
		default:
			// Subscriber is not keeping up; drop rather than stall receive.
		}
	} else {
		buf := c.preroll[pkt.SSRC]
		if started {
			buf = buf[:0]
		}
		if len(buf) >= prerollPackets {
			buf = buf[1:]
		}
		c.preroll[pkt.SSRC] = append(buf, p)
	}
	cb := c.speechCb
	c.mu.Unlock()

	if started && cb != nil {
		go cb(speaker)
	}
}

// handleSpeakingUpdate records the SSRC → user mapping Discord announces.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
}

// speakerLocked returns the user ID for ssrc, or the SSRC as a decimal
// string while the mapping is unknown. c.mu must be held.
func (c *Connection) speakerLocked(ssrc uint32) string {
	if id, ok := c.ssrcUser[ssrc]; ok {
		return id
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Debug("discord: speaking notification error", "speaking", b, "error", err)
	}
}

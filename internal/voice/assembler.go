// Package voice turns a speaker's packet stream into utterances. The
// [Assembler] collects and decodes packets until the speaker falls silent;
// the [Gate] guards each speaker against overlapping captures and discards
// utterances that are too short to be speech.
package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// ErrNoData is returned by [Assembler.Assemble] when the capture ended
// without a single decodable packet.
var ErrNoData = errors.New("voice: no audio data")

// Capture is the PCM assembled for one utterance.
type Capture struct {
	// PCM is 16-bit little-endian mono audio at SampleRate.
	PCM []byte

	SampleRate int

	// Frames is the number of packets decoded into PCM.
	Frames int

	// Dropped counts packets that failed to decode.
	Dropped int

	// Start and End bound the capture in wall-clock time.
	Start time.Time
	End   time.Time
}

// Duration returns the audio length of the capture.
func (c Capture) Duration() time.Duration {
	return time.Duration(audio.DurationSeconds(len(c.PCM), c.SampleRate) * float64(time.Second))
}

// Assembler collects one speaker's packets into a single mono PCM buffer.
// The zero value is not usable; create instances with [NewAssembler].
//
// An Assembler holds no per-capture state and is safe for concurrent use.
type Assembler struct {
	silence    time.Duration
	sampleRate int
	now        func() time.Time
}

// AssemblerOption is a functional option for [NewAssembler].
type AssemblerOption func(*Assembler)

// WithClock overrides the wall clock used for Capture.Start and Capture.End.
func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

// NewAssembler returns an Assembler that ends a capture after silence
// without packets and emits mono PCM at sampleRate.
func NewAssembler(silence time.Duration, sampleRate int, opts ...AssemblerOption) *Assembler {
	a := &Assembler{silence: silence, sampleRate: sampleRate, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble reads packets until no packet arrived for the silence duration,
// the stream closes, or ctx is cancelled. The silence timer restarts with
// every packet, including ones that fail to decode.
//
// Packets that fail to decode are counted in Capture.Dropped and otherwise
// skipped. When no packet decoded, Assemble returns [ErrNoData] together
// with the (empty) capture so callers can still inspect Dropped.
func (a *Assembler) Assemble(ctx context.Context, packets <-chan audio.Packet, dec audio.Decoder) (Capture, error) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: a.sampleRate, Channels: 1}}
	c := Capture{SampleRate: a.sampleRate, Start: a.now()}

	timer := time.NewTimer(a.silence)
	defer timer.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			c.End = a.now()
			return c, fmt.Errorf("voice: assemble: %w", ctx.Err())
		case <-timer.C:
			break loop
		case pkt, ok := <-packets:
			if !ok {
				break loop
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(a.silence)

			frame, err := dec.Decode(pkt.Payload)
			if err != nil {
				c.Dropped++
				continue
			}
			c.PCM = append(c.PCM, conv.Convert(frame).Data...)
			c.Frames++
		}
	}

	c.End = a.now()
	if c.Frames == 0 {
		return c, ErrNoData
	}
	return c, nil
}

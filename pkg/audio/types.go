package audio

import "time"

// bytesPerSample is fixed: every PCM buffer in the pipeline is 16-bit signed
// little-endian.
const bytesPerSample = 2

// AudioFrame is a block of decoded PCM audio.
type AudioFrame struct {
	// Data is interleaved 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (48000 for Discord Opus).
	SampleRate int

	// Channels: 1 for mono (capture output), 2 for stereo (Discord transport).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame derived from its byte
// length and format.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (bytesPerSample * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Packet is one compressed audio frame received from a voice transport.
type Packet struct {
	// Payload is the compressed frame (Opus for Discord).
	Payload []byte

	// Sequence is the RTP sequence number, when the transport exposes one.
	Sequence uint16

	// Timestamp is the RTP timestamp in sample units.
	Timestamp uint32
}

// DurationSeconds returns the length in seconds of a mono 16-bit PCM buffer of
// pcmLen bytes at sampleRate. It is computed from the buffer alone so it can
// be re-derived after the fact.
func DurationSeconds(pcmLen, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(pcmLen) / float64(sampleRate*bytesPerSample)
}

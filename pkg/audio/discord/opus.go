package discord

import (
	"fmt"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960

	// opusFrameBytes is the PCM input size of one Opus frame:
	// 960 samples/channel × 2 channels × 2 bytes/sample.
	opusFrameBytes = opusFrameSize * opusChannels * 2
)

// silenceFrame is the Opus packet Discord clients send after a speaker stops.
var silenceFrame = [3]byte{0xF8, 0xFF, 0xFE}

func isSilenceFrame(payload []byte) bool {
	return len(payload) == len(silenceFrame) &&
		payload[0] == silenceFrame[0] &&
		payload[1] == silenceFrame[1] &&
		payload[2] == silenceFrame[2]
}

var _ audio.Decoder = (*opusDecoder)(nil)

// opusDecoder decodes one speaker's Opus stream. Opus is stateful, so a
// decoder must not be shared between speakers.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// Decode implements [audio.Decoder]. The frame is 48 kHz stereo PCM.
func (d *opusDecoder) Decode(payload []byte) (audio.AudioFrame, error) {
	pcm, err := d.dec.Decode(payload, opusFrameSize, false)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("discord: opus decode: %w", err)
	}
	return audio.AudioFrame{
		Data:       int16sToBytes(pcm),
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
	}, nil
}

type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one frame of interleaved little-endian PCM.
func (e *opusEncoder) encode(pcmBytes []byte) ([]byte, error) {
	out, err := e.enc.Encode(bytesToInt16s(pcmBytes), opusFrameSize, len(pcmBytes))
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return out, nil
}

// splitFrames cuts 48 kHz stereo PCM into Opus-sized chunks. The last chunk
// is zero-padded so every chunk has opusFrameBytes bytes.
func splitFrames(pcm []byte) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	n := (len(pcm) + opusFrameBytes - 1) / opusFrameBytes
	frames := make([][]byte, 0, n)
	for off := 0; off < len(pcm); off += opusFrameBytes {
		end := off + opusFrameBytes
		if end <= len(pcm) {
			frames = append(frames, pcm[off:end])
			continue
		}
		last := make([]byte, opusFrameBytes)
		copy(last, pcm[off:])
		frames = append(frames, last)
	}
	return frames
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

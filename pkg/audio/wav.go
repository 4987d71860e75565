package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// ErrInvalidWAV is returned by [DecodeWAV] for data that is not a 16-bit PCM
// RIFF/WAVE container.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	buf := make([]byte, 44+len(pcm))
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1) // PCM
	le.PutUint16(buf[22:24], uint16(channels))
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(byteRate))
	le.PutUint16(buf[32:34], uint16(blockAlign))
	le.PutUint16(buf[34:36], bytesPerSample*8)

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV walks the RIFF chunks of wav and returns the PCM payload as an
// [AudioFrame]. Only uncompressed 16-bit PCM is accepted. The fmt chunk size
// is honoured instead of assuming a fixed 44-byte header.
func DecodeWAV(wav []byte) (AudioFrame, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return AudioFrame{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		frame   AudioFrame
		haveFmt bool
	)
	le := binary.LittleEndian
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(le.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return AudioFrame{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			if tag := le.Uint16(wav[body:]); tag != 1 {
				return AudioFrame{}, fmt.Errorf("%w: unsupported format tag %d", ErrInvalidWAV, tag)
			}
			if bits := le.Uint16(wav[body+14:]); bits != 16 {
				return AudioFrame{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, bits)
			}
			frame.Channels = int(le.Uint16(wav[body+2:]))
			frame.SampleRate = int(le.Uint32(wav[body+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return AudioFrame{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := min(body+size, len(wav))
			frame.Data = wav[body:end]
			return frame, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return AudioFrame{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

// ReadWAVFile reads and decodes the WAV file at path.
func ReadWAVFile(path string) (AudioFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AudioFrame{}, fmt.Errorf("audio: read %q: %w", path, err)
	}
	frame, err := DecodeWAV(data)
	if err != nil {
		return AudioFrame{}, fmt.Errorf("audio: decode %q: %w", path, err)
	}
	return frame, nil
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/audio"
	audiomock "github.com/MrWong99/voxrelay/pkg/audio/mock"
)

func TestWAVPlayer_Play(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reply.wav")
	pcm := make([]byte, 2400)
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, 24000, 1), 0o600); err != nil {
		t.Fatal(err)
	}
	conn := audiomock.NewConnection()

	if err := (wavPlayer{conn: conn}).Play(context.Background(), path); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if conn.PlayCount() != 1 {
		t.Fatalf("PlayCount = %d, want 1", conn.PlayCount())
	}
	got := conn.Played[0]
	if got.SampleRate != 24000 || got.Channels != 1 || len(got.Data) != len(pcm) {
		t.Errorf("frame = %d Hz %d ch %d bytes", got.SampleRate, got.Channels, len(got.Data))
	}
}

func TestWAVPlayer_MissingFile(t *testing.T) {
	t.Parallel()

	conn := audiomock.NewConnection()
	err := (wavPlayer{conn: conn}).Play(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	if err == nil {
		t.Fatal("expected error")
	}
	if conn.PlayCount() != 0 {
		t.Error("played despite read error")
	}
}

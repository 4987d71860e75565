package app

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxrelay/internal/turn"
	"github.com/MrWong99/voxrelay/pkg/audio"
)

// wavPlayer plays synthesized WAV files on a voice connection.
type wavPlayer struct {
	conn audio.Connection
}

var _ turn.Player = wavPlayer{}

// Play implements [turn.Player].
func (p wavPlayer) Play(ctx context.Context, path string) error {
	frame, err := audio.ReadWAVFile(path)
	if err != nil {
		return fmt.Errorf("app: play: %w", err)
	}
	if err := p.conn.Play(ctx, frame); err != nil {
		return fmt.Errorf("app: play: %w", err)
	}
	return nil
}

package video

import (
	"context"
	"fmt"
	"os"
)

// Options configures Open.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	// SequenceFPS is the frame rate assumed for image directories.
	SequenceFPS float64
}

// Open picks a source for path: a directory is an image sequence, anything
// else is decoded with ffmpeg.
func Open(ctx context.Context, path string, opts Options) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if info.IsDir() {
		return NewImageSequenceSource(path, opts.SequenceFPS)
	}
	return NewFFmpegSource(ctx, path, opts)
}

// NewOpener binds Options into an Opener.
func NewOpener(opts Options) Opener {
	return func(ctx context.Context, path string) (Source, error) {
		return Open(ctx, path, opts)
	}
}

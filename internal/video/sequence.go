package video

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/MeKo-Tech/framescan/internal/utils"
)

// ImageSequenceSource reads a directory of images as frames, in lexical
// file name order.
type ImageSequenceSource struct {
	mu     sync.Mutex
	paths  []string
	fps    float64
	pos    int
	closed bool
}

// NewImageSequenceSource lists supported images in dir.
func NewImageSequenceSource(dir string, fps float64) (*ImageSequenceSource, error) {
	paths, err := utils.ListImages(dir)
	if err != nil {
		return nil, fmt.Errorf("list frames in %s: %w", dir, err)
	}
	return &ImageSequenceSource{paths: paths, fps: fps}, nil
}

// Paths returns the frame files in read order.
func (s *ImageSequenceSource) Paths() []string {
	return append([]string(nil), s.paths...)
}

func (s *ImageSequenceSource) ReadNextFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.pos >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.pos]
	s.pos++

	img, err := utils.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptFrame, path, err)
	}
	nrgba := utils.ToNRGBA(img)
	if err := checkFrameImage(nrgba); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Frame{Index: s.pos, Image: nrgba, Timestamp: frameTimestamp(s.pos, s.fps)}, nil
}

func (s *ImageSequenceSource) TotalFrameCount() int { return len(s.paths) }

func (s *ImageSequenceSource) CurrentPosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *ImageSequenceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

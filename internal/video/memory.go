package video

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/MeKo-Tech/framescan/internal/utils"
)

// MemorySource serves frames held in memory.
type MemorySource struct {
	mu       sync.Mutex
	frames   []*image.NRGBA
	total    int
	fps      float64
	pos      int
	failures map[int]error
	closed   bool
}

// MemoryOption configures a MemorySource.
type MemoryOption func(*MemorySource)

// WithReportedTotal makes TotalFrameCount report n instead of len(frames).
func WithReportedTotal(n int) MemoryOption {
	return func(s *MemorySource) { s.total = n }
}

// WithFPS sets the rate used for frame timestamps.
func WithFPS(fps float64) MemoryOption {
	return func(s *MemorySource) { s.fps = fps }
}

// WithFailureAt makes the read of 1-based frame index return err.
func WithFailureAt(index int, err error) MemoryOption {
	return func(s *MemorySource) { s.failures[index] = err }
}

// NewMemorySource copies images into a source. A nil image yields
// ErrEmptyFrame when it is read.
func NewMemorySource(images []image.Image, opts ...MemoryOption) *MemorySource {
	s := &MemorySource{
		frames:   make([]*image.NRGBA, len(images)),
		total:    len(images),
		failures: map[int]error{},
	}
	for i, img := range images {
		if img != nil {
			s.frames[i] = utils.ToNRGBA(img)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadNextFrame returns the next frame or io.EOF.
func (s *MemorySource) ReadNextFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	s.pos++
	if err := s.failures[s.pos]; err != nil {
		return nil, err
	}
	img := s.frames[s.pos-1]
	if err := checkFrameImage(img); err != nil {
		return nil, fmt.Errorf("frame %d: %w", s.pos, err)
	}
	frame := &Frame{Index: s.pos, Image: img, Timestamp: frameTimestamp(s.pos, s.fps)}
	return frame.Clone(), nil
}

func (s *MemorySource) TotalFrameCount() int { return s.total }

func (s *MemorySource) CurrentPosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

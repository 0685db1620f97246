// Package video reads frames from video files, image sequences and memory,
// and compares consecutive frames.
package video

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrEmptyFrame is returned for a frame with no pixels.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrCorruptFrame is returned when a frame cannot be decoded in full.
	ErrCorruptFrame = errors.New("corrupt frame")
	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("video source closed")
)

// Frame is one decoded video frame.
type Frame struct {
	// Index is the 1-based position reported by the source.
	Index     int
	Image     *image.NRGBA
	Timestamp time.Duration
}

// Clone deep copies the frame including its pixel buffer.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := &Frame{Index: f.Index, Timestamp: f.Timestamp}
	if f.Image != nil {
		img := *f.Image
		img.Pix = append([]uint8(nil), f.Image.Pix...)
		out.Image = &img
	}
	return out
}

// Source yields frames sequentially. ReadNextFrame returns io.EOF after the
// last frame.
type Source interface {
	ReadNextFrame(ctx context.Context) (*Frame, error)
	// TotalFrameCount is the frame count reported up front; it may be
	// inaccurate for some containers, and is -1 when unknown.
	TotalFrameCount() int
	// CurrentPosition is the index of the last frame returned, 0 before the first.
	CurrentPosition() int
	Close() error
}

// Opener opens a Source for a path.
type Opener func(ctx context.Context, path string) (Source, error)

func checkFrameImage(img *image.NRGBA) error {
	if img == nil {
		return ErrEmptyFrame
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return ErrEmptyFrame
	}
	return nil
}

func frameTimestamp(index int, fps float64) time.Duration {
	if fps <= 0 || index <= 0 {
		return 0
	}
	return time.Duration(float64(index-1) / fps * float64(time.Second))
}

package onnx

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/framescan/internal/mempool"
)

// ErrEmptyBlob is returned when a blob would contain no elements.
var ErrEmptyBlob = errors.New("blob tensor is empty")

// Tensor is a dense float32 tensor in row-major order (NCHW for images).
type Tensor struct {
	Data  []float32
	Shape []int64
}

// NewTensor wraps data with shape after checking the element count.
func NewTensor(data []float32, shape ...int64) (Tensor, error) {
	n := int64(1)
	for i, d := range shape {
		if d < 0 {
			return Tensor{}, fmt.Errorf("dimension %d must be >= 0, got %d", i, d)
		}
		n *= d
	}
	if int64(len(data)) != n {
		return Tensor{}, fmt.Errorf("tensor data length %d != expected %d for shape %v", len(data), n, shape)
	}
	return Tensor{Data: data, Shape: append([]int64(nil), shape...)}, nil
}

// Empty reports whether the tensor holds no elements.
func (t Tensor) Empty() bool { return len(t.Data) == 0 }

// Dim returns dimension i, or 0 when the rank is too small.
func (t Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return int(t.Shape[i])
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// VerifyImageTensor checks data length matches the provided NCHW shape.
func VerifyImageTensor(t Tensor) error {
	if t.Empty() {
		return ErrEmptyBlob
	}
	if err := ValidateNCHW(t.Shape); err != nil {
		return err
	}
	expected := int(t.Shape[0] * t.Shape[1] * t.Shape[2] * t.Shape[3])
	if len(t.Data) != expected {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), expected, t.Shape)
	}
	return nil
}

// BlobOptions controls how an image becomes an NCHW blob:
// value = (pixel - Mean[c]) * Scale, channels in BGR order unless SwapRB.
type BlobOptions struct {
	Scale  float32
	Mean   [3]float32
	SwapRB bool
}

// DefaultBlobOptions leaves pixel values in 0..255, BGR order.
func DefaultBlobOptions() BlobOptions {
	return BlobOptions{Scale: 1}
}

// NewBlobTensor converts img into a [1,3,H,W] tensor. The data buffer comes
// from mempool; hand it back with Release once inference is done.
func NewBlobTensor(img *image.NRGBA, opts BlobOptions) (Tensor, error) {
	if img == nil {
		return Tensor{}, ErrEmptyBlob
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return Tensor{}, fmt.Errorf("%w: image is %dx%d", ErrEmptyBlob, w, h)
	}
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}

	plane := w * h
	data := mempool.GetFloat32(3 * plane)

	// Plane order follows OpenCV: channel 0 is blue unless SwapRB.
	c0, c2 := 2, 0
	if opts.SwapRB {
		c0, c2 = 0, 2
	}
	for y := range h {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		row := img.Pix[off : off+w*4]
		for x := range w {
			px := row[x*4 : x*4+4]
			i := y*w + x
			data[i] = (float32(px[c0]) - opts.Mean[0]) * scale
			data[plane+i] = (float32(px[1]) - opts.Mean[1]) * scale
			data[2*plane+i] = (float32(px[c2]) - opts.Mean[2]) * scale
		}
	}

	return Tensor{Data: data, Shape: []int64{1, 3, int64(h), int64(w)}}, nil
}

// Release returns a pooled blob buffer. The tensor must not be used afterwards.
func (t *Tensor) Release() {
	mempool.PutFloat32(t.Data)
	t.Data = nil
}

package utils

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ErrNilImage is returned when an operation receives a nil image.
var ErrNilImage = errors.New("input image is nil")

// MultipleOf returns the largest multiple of m not exceeding v, but never less than m.
func MultipleOf(v, m int) int {
	if m <= 0 {
		return v
	}
	r := v - v%m
	if r < m {
		return m
	}
	return r
}

// ResizeToMultiple shrinks img so both dimensions are the largest multiple of
// m that fits. Images already aligned are returned as an NRGBA copy.
func ResizeToMultiple(img image.Image, m int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: ErrNilImage}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &ImageProcessingError{
			Operation: "resize",
			Err:       fmt.Errorf("invalid image dimensions %dx%d", b.Dx(), b.Dy()),
		}
	}

	w := MultipleOf(b.Dx(), m)
	h := MultipleOf(b.Dy(), m)
	if w == b.Dx() && h == b.Dy() {
		return ToNRGBA(img), nil
	}
	return imaging.Resize(img, w, h, imaging.Linear), nil
}

// ResizeExact scales img to exactly width x height.
func ResizeExact(img image.Image, width, height int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: ErrNilImage}
	}
	if width <= 0 || height <= 0 {
		return nil, &ImageProcessingError{
			Operation: "resize",
			Err:       fmt.Errorf("invalid target dimensions %dx%d", width, height),
		}
	}
	return imaging.Resize(img, width, height, imaging.Linear), nil
}

// ToNRGBA returns img as an *image.NRGBA anchored at the origin. The result
// never aliases the input's pixel buffer.
func ToNRGBA(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

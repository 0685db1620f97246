package video

import (
	"image"

	"github.com/MeKo-Tech/framescan/internal/utils"
)

// MeanAbsDiff returns the mean absolute difference of the R, G and B
// channels on a 0..255 scale, averaged over channels. ok is false when
// either image is nil or empty, or the sizes differ.
func MeanAbsDiff(a, b image.Image) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	ab, bb := a.Bounds(), b.Bounds()
	w, h := ab.Dx(), ab.Dy()
	if w <= 0 || h <= 0 || w != bb.Dx() || h != bb.Dy() {
		return 0, false
	}

	a, b = sameLayout(a, b)
	pa, sa, oa := pixels(a)
	pb, sb, ob := pixels(b)

	var sum uint64
	for y := range h {
		ra := pa[oa+y*sa : oa+y*sa+w*4]
		rb := pb[ob+y*sb : ob+y*sb+w*4]
		for i := 0; i < len(ra); i += 4 {
			sum += absDiff(ra[i], rb[i]) + absDiff(ra[i+1], rb[i+1]) + absDiff(ra[i+2], rb[i+2])
		}
	}
	return float64(sum) / float64(3*w*h), true
}

// AreSimilar reports whether two frames are close enough to skip detection:
// the mean difference is below threshold, or the frames are identical.
func AreSimilar(a, b image.Image, threshold float64) bool {
	d, ok := MeanAbsDiff(a, b)
	if !ok {
		return false
	}
	return d == 0 || d < threshold
}

// sameLayout returns a and b unchanged when they share a raw pixel layout,
// otherwise both as NRGBA. RGBA stores premultiplied colour, so its bytes
// only compare directly with another RGBA.
func sameLayout(a, b image.Image) (image.Image, image.Image) {
	switch a.(type) {
	case *image.NRGBA:
		if _, ok := b.(*image.NRGBA); ok {
			return a, b
		}
	case *image.RGBA:
		if _, ok := b.(*image.RGBA); ok {
			return a, b
		}
	}
	return utils.ToNRGBA(a), utils.ToNRGBA(b)
}

// pixels exposes a 4-byte-per-pixel buffer, its stride and the offset of
// the first pixel. Formats other than NRGBA and RGBA are converted.
func pixels(img image.Image) ([]uint8, int, int) {
	switch m := img.(type) {
	case *image.NRGBA:
		return m.Pix, m.Stride, m.PixOffset(m.Rect.Min.X, m.Rect.Min.Y)
	case *image.RGBA:
		return m.Pix, m.Stride, m.PixOffset(m.Rect.Min.X, m.Rect.Min.Y)
	default:
		n := utils.ToNRGBA(img)
		return n.Pix, n.Stride, 0
	}
}

func absDiff(a, b uint8) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}

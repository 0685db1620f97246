package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/framescan/internal/utils"
)

// FrameSize represents common frame dimensions.
type FrameSize struct {
	Width  int
	Height int
}

var (
	// Common synthetic frame sizes. Both are multiples of 32.
	SmallFrame  = FrameSize{320, 224}
	MediumFrame = FrameSize{640, 480}
)

// SceneConfig describes one synthetic frame: a flat background with
// optional centred text.
type SceneConfig struct {
	Text       string
	Size       FrameSize
	Background color.Color
	Foreground color.Color
	Rotation   float64 // degrees, counter-clockwise
}

// DefaultSceneConfig returns black text on white at SmallFrame size.
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		Text:       "Sample Text",
		Size:       SmallFrame,
		Background: color.White,
		Foreground: color.Black,
	}
}

// TextFrame renders cfg with the basic 7x13 bitmap font.
func TextFrame(cfg SceneConfig) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, cfg.Size.Width, cfg.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	if cfg.Text != "" {
		face := basicfont.Face7x13
		d := &font.Drawer{Dst: img, Src: &image.Uniform{cfg.Foreground}, Face: face}
		w := font.MeasureString(face, cfg.Text).Ceil()
		h := face.Metrics().Height.Ceil()
		d.Dot = fixed.P((cfg.Size.Width-w)/2, (cfg.Size.Height+h)/2)
		d.DrawString(cfg.Text)
	}

	if cfg.Rotation != 0 {
		// The frame grows to fit the rotated content; corners take the background.
		return utils.ToNRGBA(imaging.Rotate(img, cfg.Rotation, cfg.Background))
	}
	return img
}

// SolidFrame returns a w x h frame filled with c.
func SolidFrame(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// Gray returns a small solid grey frame of level v.
func Gray(v uint8) *image.NRGBA {
	return SolidFrame(16, 16, color.NRGBA{R: v, G: v, B: v, A: 255})
}

// Repeat returns n references to img, a run of identical frames.
func Repeat(img image.Image, n int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = img
	}
	return out
}

// WithNoise returns a copy of img with every colour channel shifted by a
// random amount in [-level, level]. The same seed gives the same frame.
func WithNoise(img *image.NRGBA, level int, seed uint64) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	if level <= 0 {
		return out
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range out.Pix {
		if i%4 == 3 {
			continue
		}
		v := int(out.Pix[i]) + rng.IntN(2*level+1) - level
		out.Pix[i] = uint8(min(max(v, 0), 255))
	}
	return out
}

// WriteSequence stores frames as frame_000001.png, frame_000002.png, ...
// in dir, the layout read by image sequence sources.
func WriteSequence(t *testing.T, dir string, frames []image.Image) []string {
	t.Helper()
	require.NoError(t, EnsureDir(dir))
	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i+1))
		require.NoError(t, utils.SavePNG(paths[i], f))
	}
	return paths
}

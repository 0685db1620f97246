package testutil

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/framescan/internal/utils"
	"github.com/MeKo-Tech/framescan/internal/video"
)

func TestTextFrame(t *testing.T) {
	cfg := DefaultSceneConfig()
	img := TextFrame(cfg)
	assert.Equal(t, image.Rect(0, 0, 320, 224), img.Bounds())

	blank := TextFrame(SceneConfig{Size: cfg.Size, Background: color.White})
	d, ok := video.MeanAbsDiff(img, blank)
	require.True(t, ok)
	assert.Greater(t, d, 0.0, "text must change pixels")
}

func TestTextFrame_Rotated(t *testing.T) {
	cfg := DefaultSceneConfig()
	cfg.Rotation = 90
	img := TextFrame(cfg)
	// imaging.Rotate swaps the sides for quarter turns.
	assert.Equal(t, 224, img.Bounds().Dx())
	assert.Equal(t, 320, img.Bounds().Dy())
}

func TestWithNoise(t *testing.T) {
	base := Gray(128)
	a := WithNoise(base, 3, 7)
	b := WithNoise(base, 3, 7)
	assert.Equal(t, a.Pix, b.Pix, "same seed, same frame")

	d, ok := video.MeanAbsDiff(base, a)
	require.True(t, ok)
	assert.LessOrEqual(t, d, 3.0)
	assert.Equal(t, uint8(128), base.Pix[0], "input untouched")
	assert.Equal(t, uint8(255), a.Pix[3], "alpha untouched")

	assert.Equal(t, base.Pix, WithNoise(base, 0, 1).Pix)
}

func TestRepeat(t *testing.T) {
	frames := Repeat(Gray(1), 3)
	require.Len(t, frames, 3)
	assert.Same(t, frames[0], frames[2])
}

func TestWriteSequence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seq")
	paths := WriteSequence(t, dir, []image.Image{Gray(10), Gray(20)})
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "frame_000001.png"), paths[0])

	listed, err := utils.ListImages(dir)
	require.NoError(t, err)
	assert.Equal(t, paths, listed)
}

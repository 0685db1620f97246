package batch

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/framescan/internal/pipeline"
	"github.com/MeKo-Tech/framescan/internal/testutil"
	"github.com/MeKo-Tech/framescan/internal/utils"
)

// stubProcessor reports one box whose X is the image's gray level and
// fails on images darker than failBelow.
type stubProcessor struct {
	failBelow uint8
	calls     atomic.Int32
}

var errTooDark = errors.New("too dark")

func (p *stubProcessor) ProcessSingleFrame(ctx context.Context, img image.Image, _ pipeline.SingleFrameOptions) (pipeline.Detection, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return pipeline.Detection{}, err
	}
	r, _, _, _ := img.At(0, 0).RGBA()
	level := uint8(r >> 8)
	if level < p.failBelow {
		return pipeline.Detection{}, errTooDark
	}
	box := utils.BoundingBox{X: int(level), Y: 0, Width: 2, Height: 2}
	return pipeline.NewDetection(0, utils.ToNRGBA(img), []utils.BoundingBox{box}), nil
}

func writeGrays(t *testing.T, dir string, levels ...uint8) []string {
	t.Helper()
	frames := make([]image.Image, len(levels))
	for i, v := range levels {
		frames[i] = testutil.Gray(v)
	}
	return testutil.WriteSequence(t, dir, frames)
}

func TestProcess_KeepsDiscoveryOrder(t *testing.T) {
	dir := t.TempDir()
	paths := writeGrays(t, dir, 10, 20, 30, 40, 50)

	proc := &stubProcessor{}
	res, err := Process(context.Background(), proc, []string{dir}, Config{Workers: 3})
	require.NoError(t, err)
	require.Len(t, res.Items, 5)
	assert.Equal(t, 3, res.WorkerCount)
	assert.EqualValues(t, 5, proc.calls.Load())

	for i, it := range res.Items {
		require.NoError(t, it.Err)
		assert.Equal(t, paths[i], it.Path)
		assert.Equal(t, i+1, it.Detection.FrameIndex)
		assert.Equal(t, (i+1)*10, it.Detection.Boxes[0].X)
	}
	assert.NoError(t, res.Err())
}

func TestProcess_FailuresDoNotStopTheBatch(t *testing.T) {
	dir := t.TempDir()
	writeGrays(t, dir, 5, 100, 6)

	res, err := Process(context.Background(), &stubProcessor{failBelow: 50}, []string{dir}, Config{Workers: 2})
	require.NoError(t, err)

	ok := res.Succeeded()
	require.Len(t, ok, 1)
	assert.Equal(t, 100, ok[0].Detection.Boxes[0].X)

	joined := res.Err()
	require.Error(t, joined)
	assert.ErrorIs(t, joined, errTooDark)
	assert.Contains(t, joined.Error(), "frame_000001.png")
	assert.Contains(t, joined.Error(), "frame_000003.png")
}

func TestProcess_UnreadableImage(t *testing.T) {
	dir := t.TempDir()
	bad := touch(t, filepath.Join(dir, "broken.png"))

	res, err := Process(context.Background(), &stubProcessor{}, []string{bad}, Config{Workers: 1})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Error(t, res.Items[0].Err)
	assert.Empty(t, res.Succeeded())
}

func TestProcess_NoImages(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "readme.txt"))

	_, err := Process(context.Background(), &stubProcessor{}, []string{dir}, Config{})
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestProcess_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeGrays(t, dir, 10, 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Process(ctx, &stubProcessor{}, []string{dir}, Config{Workers: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig_DefaultWorkers(t *testing.T) {
	assert.Positive(t, Config{}.workers())
	assert.Equal(t, 4, Config{Workers: 4}.workers())
}

package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/framescan/internal/detector"
	"github.com/MeKo-Tech/framescan/internal/utils"
	"github.com/MeKo-Tech/framescan/internal/video"
)

// boxDetector returns one box whose x position encodes the red level of
// the frame's top-left pixel, so differing frames give differing boxes.
type boxDetector struct {
	mu    sync.Mutex
	calls []int
	err   error
	// block, when set, is waited on inside every Detect call.
	block chan struct{}
	opts  []detector.DetectOptions
}

func (d *boxDetector) Detect(ctx context.Context, img image.Image, opts detector.DetectOptions) (*detector.Result, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	d.calls = append(d.calls, int(r>>8))
	d.opts = append(d.opts, opts)
	if d.err != nil {
		return nil, d.err
	}
	box := utils.BoundingBox{X: int(r >> 8), Y: 1, Width: 4, Height: 2}
	return &detector.Result{Boxes: []utils.BoundingBox{box}, Frame: utils.ToNRGBA(img)}, nil
}

func (d *boxDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func solid(v uint8) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func frames(values ...uint8) []image.Image {
	out := make([]image.Image, len(values))
	for i, v := range values {
		out[i] = solid(v)
	}
	return out
}

func newTestOrchestrator(det FrameDetector, src video.Source) *Orchestrator {
	return NewOrchestrator(det, Options{
		SimilarityThreshold: DefaultSimilarityThreshold,
		Opener: func(context.Context, string) (video.Source, error) {
			return src, nil
		},
	})
}

func TestProcessVideo_SkipsUnchangedFrames(t *testing.T) {
	det := &boxDetector{}
	src := video.NewMemorySource(frames(10, 10, 10, 10, 10, 200, 200, 200, 200, 200))
	o := newTestOrchestrator(det, src)

	require.NoError(t, o.ProcessVideo(context.Background(), "synthetic"))

	got := o.Detections()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].FrameIndex)
	assert.Equal(t, 6, got[1].FrameIndex)
	assert.Equal(t, []int{10, 200}, det.calls)
	assert.Equal(t, StateCompleted, o.State())
	assert.Equal(t, 10, o.CurrentFrame())
	assert.Equal(t, 10, o.LastFrame())
	assert.InDelta(t, 1.0, o.Progress(), 1e-9)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestProcessVideo_ZeroFrames(t *testing.T) {
	det := &boxDetector{}
	src := video.NewMemorySource(frames(1, 2, 3), video.WithReportedTotal(0))
	o := newTestOrchestrator(det, src)

	require.NoError(t, o.ProcessVideo(context.Background(), "empty"))
	assert.Empty(t, o.Detections())
	assert.Equal(t, StateCompleted, o.State())
	assert.Equal(t, 0, det.callCount())
	assert.Equal(t, 1, o.LastFrame())
	assert.Equal(t, 0, src.CurrentPosition())
}

func TestProcessVideo_UnknownTotalReadsToEnd(t *testing.T) {
	det := &boxDetector{}
	src := video.NewMemorySource(frames(1, 100, 200), video.WithReportedTotal(-1))
	o := newTestOrchestrator(det, src)

	require.NoError(t, o.ProcessVideo(context.Background(), "stream"))
	assert.Len(t, o.Detections(), 3)
	assert.Equal(t, 3, o.CurrentFrame())
	assert.Equal(t, 3, o.LastFrame())
}

func TestProcessVideo_UnderreportedTotalRaisesLastFrame(t *testing.T) {
	src := video.NewMemorySource(frames(1, 100, 200, 50), video.WithReportedTotal(2))
	o := newTestOrchestrator(&boxDetector{}, src)

	require.NoError(t, o.ProcessVideo(context.Background(), "short"))
	assert.Equal(t, 4, o.LastFrame())
	assert.LessOrEqual(t, o.Progress(), 1.0)
}

func TestProcessVideo_DuplicateBoxesDropped(t *testing.T) {
	det := &boxDetector{}
	src := video.NewMemorySource(frames(10, 200, 200, 10))
	o := NewOrchestrator(det, Options{
		SimilarityThreshold: 0,
		Opener:              func(context.Context, string) (video.Source, error) { return src, nil },
	})

	require.NoError(t, o.ProcessVideo(context.Background(), "dup"))
	// Frame 3 is identical to frame 2 (d == 0 counts as similar) so it is skipped;
	// frame 4 is detected and kept because its boxes differ from frame 2's.
	got := o.Detections()
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 4}, []int{got[0].FrameIndex, got[1].FrameIndex, got[2].FrameIndex})
}

func TestProcessVideo_SameBoxesOnChangedFrameAreDuplicates(t *testing.T) {
	det := &constantDetector{box: utils.BoundingBox{X: 1, Y: 1, Width: 3, Height: 3}}
	src := video.NewMemorySource(frames(10, 100, 200))
	o := newTestOrchestrator(det, src)

	require.NoError(t, o.ProcessVideo(context.Background(), "dup"))
	got := o.Detections()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].FrameIndex)
	assert.Equal(t, 3, det.calls)
}

type constantDetector struct {
	box   utils.BoundingBox
	calls int
}

func (d *constantDetector) Detect(_ context.Context, img image.Image, _ detector.DetectOptions) (*detector.Result, error) {
	d.calls++
	return &detector.Result{Boxes: []utils.BoundingBox{d.box}, Frame: utils.ToNRGBA(img)}, nil
}

func TestProcessVideo_DetectFailureKeepsHistory(t *testing.T) {
	det := &failingAt{fail: 3, err: errors.New("boom")}
	src := video.NewMemorySource(frames(10, 100, 200, 50))
	o := newTestOrchestrator(det, src)

	err := o.ProcessVideo(context.Background(), "fail")
	require.Error(t, err)

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Frame)
	assert.Equal(t, StageDetect, fe.Stage)
	assert.ErrorIs(t, err, det.err)

	assert.Equal(t, StateFailed, o.State())
	assert.Equal(t, err, o.Err())
	assert.Len(t, o.Detections(), 2)
	assert.Contains(t, o.StatusMessage(), "Failed at frame 3")
}

type failingAt struct {
	fail  int
	n     int
	err   error
	inner boxDetector
}

func (d *failingAt) Detect(ctx context.Context, img image.Image, opts detector.DetectOptions) (*detector.Result, error) {
	d.n++
	if d.n == d.fail {
		return nil, d.err
	}
	return d.inner.Detect(ctx, img, opts)
}

func TestProcessVideo_ReadFailure(t *testing.T) {
	readErr := errors.New("decoder hiccup")
	src := video.NewMemorySource(frames(10, 100, 200), video.WithFailureAt(2, readErr))
	o := newTestOrchestrator(&boxDetector{}, src)

	err := o.ProcessVideo(context.Background(), "broken")
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageRead, fe.Stage)
	assert.Equal(t, 2, fe.Frame)
	assert.ErrorIs(t, err, readErr)
	assert.Len(t, o.Detections(), 1)
}

func TestProcessVideo_OpenFailure(t *testing.T) {
	openErr := errors.New("no such file")
	o := NewOrchestrator(&boxDetector{}, Options{
		Opener: func(context.Context, string) (video.Source, error) { return nil, openErr },
	})

	err := o.ProcessVideo(context.Background(), "missing.mp4")
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StageOpen, fe.Stage)
	assert.ErrorIs(t, err, openErr)
	assert.Equal(t, StateFailed, o.State())
}

func TestProcessVideo_MissingModel(t *testing.T) {
	opened := false
	o := NewOrchestrator(&boxDetector{}, Options{
		ModelPath: t.TempDir() + "/missing.onnx",
		Opener: func(context.Context, string) (video.Source, error) {
			opened = true
			return video.NewMemorySource(nil), nil
		},
	})

	err := o.ProcessVideo(context.Background(), "video.mp4")
	assert.ErrorIs(t, err, detector.ErrModelNotFound)
	assert.False(t, opened)
	assert.Equal(t, StateFailed, o.State())
}

func TestProcessVideo_Cancellation(t *testing.T) {
	det := &boxDetector{block: make(chan struct{})}
	src := video.NewMemorySource(frames(10, 100, 200))
	o := newTestOrchestrator(det, src)

	ctx, cancel := context.WithCancel(context.Background())
	run := o.Start(ctx, "slow")
	cancel()

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	assert.ErrorIs(t, run.Err(), context.Canceled)
	assert.Equal(t, StateFailed, o.State())
	assert.Empty(t, o.Detections())
}

func TestProcessVideo_AlreadyRunning(t *testing.T) {
	det := &boxDetector{block: make(chan struct{})}
	o := newTestOrchestrator(det, video.NewMemorySource(frames(10, 100)))

	run := o.Start(context.Background(), "first")
	require.Eventually(t, func() bool { return o.State() == StateRunning }, time.Second, time.Millisecond)

	assert.ErrorIs(t, o.ProcessVideo(context.Background(), "second"), ErrAlreadyRunning)
	second := o.Start(context.Background(), "third")
	assert.ErrorIs(t, second.Wait(), ErrAlreadyRunning)

	close(det.block)
	require.NoError(t, run.Wait())
	assert.Len(t, o.Detections(), 2)
}

func TestProcessVideo_RerunResetsHistory(t *testing.T) {
	det := &boxDetector{}
	o := NewOrchestrator(det, Options{
		SimilarityThreshold: DefaultSimilarityThreshold,
		Opener: func(context.Context, string) (video.Source, error) {
			return video.NewMemorySource(frames(10, 200)), nil
		},
	})

	require.NoError(t, o.ProcessVideo(context.Background(), "a"))
	first := o.Detections()
	require.NoError(t, o.ProcessVideo(context.Background(), "b"))
	second := o.Detections()

	require.Len(t, second, 2)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestProcessVideo_OverlayOptionsForwarded(t *testing.T) {
	det := &boxDetector{}
	red := color.NRGBA{R: 255, A: 255}
	o := NewOrchestrator(det, Options{
		DrawOverlay:      true,
		OverlayColor:     red,
		OverlayThickness: 3,
		Opener: func(context.Context, string) (video.Source, error) {
			return video.NewMemorySource(frames(10)), nil
		},
	})

	require.NoError(t, o.ProcessVideo(context.Background(), "x"))
	require.Len(t, det.opts, 1)
	assert.True(t, det.opts[0].DrawOverlay)
	assert.Equal(t, red, det.opts[0].Color)
	assert.Equal(t, 3, det.opts[0].Thickness)
	assert.Nil(t, det.opts[0].Confidence)
}

func TestProcessSource_TimingFromClock(t *testing.T) {
	clock := &stepClock{now: time.Unix(0, 0), step: 50 * time.Millisecond}
	o := NewOrchestrator(&boxDetector{}, Options{
		SimilarityThreshold: DefaultSimilarityThreshold,
		Clock:               clock.Now,
	})
	src := video.NewMemorySource(frames(10, 10, 10, 10), video.WithReportedTotal(8))

	require.NoError(t, o.ProcessSource(context.Background(), src))
	assert.Equal(t, 50*time.Millisecond, o.FrameTime())
	assert.InDelta(t, 20.0, o.FPS(), 1e-9)
	// 4 of 8 frames done at 50ms each.
	assert.Equal(t, 200*time.Millisecond, o.ETA())
	assert.InDelta(t, 0.5, o.Progress(), 1e-9)
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func TestProcessSingleFrame(t *testing.T) {
	det := &boxDetector{}
	o := NewOrchestrator(det, Options{OverlayThickness: 2})
	conf := float32(0.7)
	blue := color.NRGBA{B: 255, A: 255}

	got, err := o.ProcessSingleFrame(context.Background(), solid(42), SingleFrameOptions{Confidence: &conf, Color: blue})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, []utils.BoundingBox{{X: 42, Y: 1, Width: 4, Height: 2}}, got.Boxes)
	assert.NotNil(t, got.Frame)

	require.Len(t, det.opts, 1)
	assert.True(t, det.opts[0].DrawOverlay)
	assert.Equal(t, &conf, det.opts[0].Confidence)
	assert.Equal(t, blue, det.opts[0].Color)

	assert.Empty(t, o.Detections())
	assert.Equal(t, StateIdle, o.State())

	_, err = o.ProcessSingleFrame(context.Background(), nil, SingleFrameOptions{})
	assert.ErrorIs(t, err, video.ErrEmptyFrame)
}

func TestProcessSingleFrame_DetectorError(t *testing.T) {
	o := NewOrchestrator(&boxDetector{err: utils.ErrNilImage}, Options{})
	_, err := o.ProcessSingleFrame(context.Background(), solid(1), SingleFrameOptions{})
	assert.ErrorIs(t, err, utils.ErrNilImage)
}

func TestDetectionLookup(t *testing.T) {
	o := newTestOrchestrator(&boxDetector{}, video.NewMemorySource(frames(10, 200)))
	require.NoError(t, o.ProcessVideo(context.Background(), "x"))

	all := o.Detections()
	require.Len(t, all, 2)
	got, ok := o.Detection(all[1].ID)
	require.True(t, ok)
	assert.Equal(t, 2, got.FrameIndex)

	_, ok = o.Detection("nope")
	assert.False(t, ok)

	// Returned slices are copies.
	all[0].Boxes[0].X = 999
	assert.NotEqual(t, 999, o.Detections()[0].Boxes[0].X)
}

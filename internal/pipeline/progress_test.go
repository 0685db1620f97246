package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/framescan/internal/video"
)

type recordingProgress struct {
	started   []int
	progress  [][2]int
	completed int
	errs      []error
}

func (r *recordingProgress) OnStart(total int) { r.started = append(r.started, total) }
func (r *recordingProgress) OnProgress(current, total int) {
	r.progress = append(r.progress, [2]int{current, total})
}
func (r *recordingProgress) OnComplete()                    { r.completed++ }
func (r *recordingProgress) OnError(current int, err error) { r.errs = append(r.errs, err) }

func TestProgressCallback_CalledEveryIteration(t *testing.T) {
	rec := &recordingProgress{}
	o := NewOrchestrator(&boxDetector{}, Options{
		SimilarityThreshold: DefaultSimilarityThreshold,
		Progress:            rec,
		Opener: func(context.Context, string) (video.Source, error) {
			return video.NewMemorySource(frames(10, 10, 10)), nil
		},
	})

	require.NoError(t, o.ProcessVideo(context.Background(), "x"))
	assert.Equal(t, []int{3}, rec.started)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, rec.progress)
	assert.Equal(t, 1, rec.completed)
	assert.Empty(t, rec.errs)
}

func TestProgressCallback_Error(t *testing.T) {
	rec := &recordingProgress{}
	o := NewOrchestrator(&boxDetector{err: errors.New("nope")}, Options{
		Progress: rec,
		Opener: func(context.Context, string) (video.Source, error) {
			return video.NewMemorySource(frames(10)), nil
		},
	})

	require.Error(t, o.ProcessVideo(context.Background(), "x"))
	assert.Len(t, rec.errs, 1)
	assert.Zero(t, rec.completed)
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleProgressCallback(&buf, "job ").WithWidth(10).WithUpdateInterval(0)

	c.OnStart(4)
	c.OnProgress(2, 4)
	c.OnProgress(4, 4)
	c.OnComplete()

	out := buf.String()
	assert.Contains(t, out, "job frame 0/4")
	assert.Contains(t, out, "2/4 (50.0%)")
	assert.Contains(t, out, "4/4 (100.0%)")
	assert.Contains(t, out, "Completed in")

	buf.Reset()
	c.OnError(3, errors.New("broken"))
	assert.Contains(t, buf.String(), "Error at frame 3: broken")
}

func TestLogProgressCallback_Interval(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	l := NewLogProgressCallback(logger, slog.LevelInfo, "").WithInterval(10)

	l.OnStart(30)
	for i := 1; i <= 30; i++ {
		l.OnProgress(i, 30)
	}
	l.OnComplete()

	assert.Equal(t, 3, strings.Count(buf.String(), "Progress update"))
	assert.Contains(t, buf.String(), "Video completed")
}

func TestMultiProgressCallback(t *testing.T) {
	a, b := &recordingProgress{}, &recordingProgress{}
	m := NewMultiProgressCallback(a, b)

	m.OnStart(2)
	m.OnProgress(1, 2)
	m.OnComplete()

	for _, r := range []*recordingProgress{a, b} {
		assert.Equal(t, []int{2}, r.started)
		assert.Len(t, r.progress, 1)
		assert.Equal(t, 1, r.completed)
	}
}

func TestThrottledProgressCallback(t *testing.T) {
	rec := &recordingProgress{}
	th := NewThrottledProgressCallback(rec, time.Hour)

	th.OnProgress(1, 10)
	th.OnProgress(2, 10)
	th.OnProgress(3, 10)
	th.OnProgress(10, 10)

	// First and final updates always pass.
	assert.Equal(t, [][2]int{{1, 10}, {10, 10}}, rec.progress)
}

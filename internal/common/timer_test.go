package common

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestStopwatch_Lap(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	sw := NewStopwatchWithClock("frame", clk.now)

	clk.advance(40 * time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, sw.Lap())
	clk.advance(20 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, sw.Lap())

	assert.Equal(t, 2, sw.Laps())
	assert.Equal(t, 20*time.Millisecond, sw.Last())
	assert.Equal(t, 30*time.Millisecond, sw.Average())
	assert.Equal(t, "frame: 20ms", sw.String())

	clk.advance(5 * time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, sw.Elapsed())

	sw.Reset()
	assert.Zero(t, sw.Laps())
	assert.Zero(t, sw.Average())
	assert.Zero(t, sw.Elapsed())
}

func TestStopwatch_WallClock(t *testing.T) {
	sw := NewStopwatch("")
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, sw.Lap(), 5*time.Millisecond)
	assert.Empty(t, sw.Name())
}

func TestRate(t *testing.T) {
	assert.InDelta(t, 25.0, Rate(40*time.Millisecond), 1e-9)
	assert.Zero(t, Rate(0))
	assert.Zero(t, Rate(-time.Second))
}

func TestRunSummary(t *testing.T) {
	r := RunSummary{Source: "clip.mp4", Frames: 10, Detections: 3, Duration: time.Second}
	assert.InDelta(t, 10.0, r.FPS(), 1e-9)
	s := r.String()
	assert.Contains(t, s, "clip.mp4")
	assert.Contains(t, s, "10 frames")
	assert.Contains(t, s, "3 detections")

	r.Err = errors.New("boom")
	assert.Contains(t, r.String(), "ERROR")
	assert.Zero(t, RunSummary{}.FPS())
}

func TestGetMemoryStats(t *testing.T) {
	stats := GetMemoryStats()
	assert.Positive(t, stats.Sys)
	assert.Positive(t, stats.Goroutines)
	assert.Contains(t, stats.String(), "KB")
}

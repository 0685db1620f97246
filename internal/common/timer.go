// Package common holds small timing and runtime helpers shared by the
// pipeline, the CLI and the server.
package common

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Stopwatch measures back-to-back intervals, one per processed frame.
type Stopwatch struct {
	mu    sync.Mutex
	now   Clock
	name  string
	start time.Time
	last  time.Duration
	laps  int
	total time.Duration
}

// NewStopwatch creates a started stopwatch using the wall clock.
func NewStopwatch(name string) *Stopwatch {
	return NewStopwatchWithClock(name, time.Now)
}

// NewStopwatchWithClock creates a started stopwatch driven by clock.
func NewStopwatchWithClock(name string, clock Clock) *Stopwatch {
	if clock == nil {
		clock = time.Now
	}
	return &Stopwatch{now: clock, name: name, start: clock()}
}

// Lap closes the current interval, starts the next one and returns the
// interval's length.
func (s *Stopwatch) Lap() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now()
	d := t.Sub(s.start)
	if d < 0 {
		d = 0
	}
	s.start = t
	s.last = d
	s.laps++
	s.total += d
	return d
}

// Reset restarts the current interval and forgets previous laps.
func (s *Stopwatch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = s.now()
	s.last, s.laps, s.total = 0, 0, 0
}

// Elapsed is the time since the current interval started.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.start)
}

// Last returns the most recent lap, zero before the first one.
func (s *Stopwatch) Last() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Laps returns the number of completed laps.
func (s *Stopwatch) Laps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.laps
}

// Average returns the mean lap length.
func (s *Stopwatch) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.laps == 0 {
		return 0
	}
	return s.total / time.Duration(s.laps)
}

// Name returns the stopwatch name (empty string if unnamed).
func (s *Stopwatch) Name() string {
	return s.name
}

func (s *Stopwatch) String() string {
	last := s.Last()
	if s.name != "" {
		return fmt.Sprintf("%s: %v", s.name, last)
	}
	return last.String()
}

// Rate converts an interval into events per second. Zero maps to zero.
func Rate(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(time.Second) / float64(d)
}

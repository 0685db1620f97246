package pipeline

import (
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/MeKo-Tech/framescan/internal/common"
)

var printer = message.NewPrinter(language.English)

// session is the state of the current or most recent run. The loop is the
// only writer; the lock lets other goroutines query it.
type session struct {
	mu           sync.RWMutex
	detections   []Detection
	currentFrame int
	lastFrame    int
	frameTime    time.Duration
	fps          float64
	state        State
	err          error
}

func newSession() *session {
	return &session{lastFrame: 1, state: StateIdle}
}

// begin clears history and counters for a new run.
func (s *session) begin(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = nil
	s.currentFrame = 0
	s.lastFrame = max(total, 1)
	s.frameTime = 0
	s.fps = 0
	s.err = nil
	s.state = StateRunning
}

// setCurrent moves the frame counter forward. A source that yields more
// frames than it reported raises lastFrame.
func (s *session) setCurrent(frame int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if frame > s.currentFrame {
		s.currentFrame = frame
	}
	if s.currentFrame > s.lastFrame {
		s.lastFrame = s.currentFrame
	}
}

func (s *session) setTiming(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameTime = elapsed
	s.fps = common.Rate(elapsed)
}

func (s *session) append(d Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = append(s.detections, d)
}

// last returns the most recent retained detection, nil when there is none.
func (s *session) last() *Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.detections) == 0 {
		return nil
	}
	d := s.detections[len(s.detections)-1]
	return &d
}

func (s *session) finish(err error) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateFailed
		s.err = err
	} else {
		s.state = StateCompleted
	}
	return s.state
}

func (s *session) Detections() []Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Detection, len(s.detections))
	for i, d := range s.detections {
		out[i] = d.clone()
	}
	return out
}

func (s *session) Detection(id string) (Detection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.detections {
		if d.ID == id {
			return d.clone(), true
		}
	}
	return Detection{}, false
}

func (s *session) CurrentFrame() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentFrame
}

func (s *session) LastFrame() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFrame
}

func (s *session) FPS() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fps
}

func (s *session) FrameTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameTime
}

func (s *session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *session) Progress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return progressOf(s.currentFrame, s.lastFrame)
}

func (s *session) ETA() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return etaOf(s.currentFrame, s.lastFrame, s.frameTime)
}

func (s *session) StatusMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messageLocked()
}

func (s *session) messageLocked() string {
	switch s.state {
	case StateRunning:
		return printer.Sprintf("Processing frame %d of %d", s.currentFrame, s.lastFrame)
	case StateCompleted:
		return printer.Sprintf("Completed: %d detections in %d frames", len(s.detections), s.currentFrame)
	case StateFailed:
		return printer.Sprintf("Failed at frame %d: %v", s.currentFrame, s.err)
	default:
		return "Idle"
	}
}

func (s *session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		State:        s.state,
		CurrentFrame: s.currentFrame,
		LastFrame:    s.lastFrame,
		Progress:     progressOf(s.currentFrame, s.lastFrame),
		FPS:          s.fps,
		FrameTime:    s.frameTime,
		ETA:          etaOf(s.currentFrame, s.lastFrame, s.frameTime),
		Detections:   len(s.detections),
		Message:      s.messageLocked(),
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

func progressOf(current, last int) float64 {
	if last <= 0 {
		return 0
	}
	return float64(current) / float64(last)
}

func etaOf(current, last int, frameTime time.Duration) time.Duration {
	remaining := last - current
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining) * frameTime
}

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType identifies what changed.
type EventType string

const (
	// EventProgress follows every frame counter change and every iteration.
	EventProgress EventType = "progress"
	// EventDetectionAdded carries a newly retained detection.
	EventDetectionAdded EventType = "detection_added"
	// EventStateChanged follows every lifecycle transition.
	EventStateChanged EventType = "state_changed"
)

// Event is a notification published by the orchestrator.
type Event struct {
	Type      EventType  `json:"type"`
	Time      time.Time  `json:"time"`
	Snapshot  Snapshot   `json:"snapshot"`
	Detection *Detection `json:"detection,omitempty"`
}

// DefaultEventTimeout bounds how long a detection or state event waits for
// a subscriber that is not reading.
const DefaultEventTimeout = 5 * time.Second

type subscriber struct {
	id     int
	ch     chan Event
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// send delivers ev and reports false when the subscriber stalled past
// timeout on an event that may not be dropped.
func (s *subscriber) send(ctx context.Context, ev Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
	}
	if ev.Type == EventProgress {
		eventsDropped.WithLabelValues(string(ev.Type)).Inc()
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return true
	case <-ctx.Done():
		eventsDropped.WithLabelValues(string(ev.Type)).Inc()
		return true
	case <-timer.C:
		return false
	}
}

// broker fans events out to subscribers. Progress events are dropped for
// subscribers whose buffer is full. Other events wait up to timeout; a
// subscriber still not reading by then is removed and its channel closed.
type broker struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	next    int
	timeout time.Duration
}

func newBroker(timeout time.Duration) *broker {
	if timeout <= 0 {
		timeout = DefaultEventTimeout
	}
	return &broker{subs: map[int]*subscriber{}, timeout: timeout}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	b.mu.Lock()
	sub := &subscriber{id: b.next, ch: make(chan Event, buffer), done: make(chan struct{})}
	b.next++
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub.ch, func() { b.remove(sub) }
}

func (b *broker) remove(sub *subscriber) {
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.close()
}

func (b *broker) publish(ctx context.Context, ev Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if !s.send(ctx, ev, b.timeout) {
			slog.Warn("Dropping stalled event subscriber", "event", ev.Type, "timeout", b.timeout)
			subscribersEvicted.Inc()
			b.remove(s)
		}
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

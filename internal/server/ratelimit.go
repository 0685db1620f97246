package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/MeKo-Tech/framescan/internal/common"
)

// RateLimiter enforces per-client request rates and daily quotas on the
// upload endpoints. Windows are fixed: a minute window opens with the first
// request after the previous one expired.
type RateLimiter struct {
	mu  sync.Mutex
	now common.Clock

	requestsPerMinute int
	requestsPerHour   int

	maxRequestsPerDay int
	maxDataPerDay     int64 // bytes

	clients map[string]*ClientUsage
}

// ClientUsage tracks usage for one client address.
type ClientUsage struct {
	MinuteStart    time.Time
	MinuteRequests int
	HourStart      time.Time
	HourRequests   int
	DayStart       time.Time
	DayRequests    int
	DayData        int64
}

// NewRateLimiter creates a rate limiter; zero disables a limit.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return NewRateLimiterWithClock(requestsPerMinute, requestsPerHour, maxRequestsPerDay, maxDataPerDay, time.Now)
}

// NewRateLimiterWithClock is NewRateLimiter with an explicit time source.
func NewRateLimiterWithClock(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64, clock common.Clock) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		now:               clock,
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*ClientUsage),
	}
}

// CheckRateLimit admits a request of dataSize bytes from clientID, or
// returns a *RateLimitError or *QuotaExceededError. Rejected requests are
// not counted.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage, ok := rl.clients[clientID]
	if !ok {
		usage = &ClientUsage{MinuteStart: now, HourStart: now, DayStart: startOfDay(now)}
		rl.clients[clientID] = usage
	}
	usage.roll(now)

	if rl.requestsPerMinute > 0 && usage.MinuteRequests >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.requestsPerMinute,
			RetryAfter: usage.MinuteStart.Add(time.Minute).Sub(now),
		}
	}
	if rl.requestsPerHour > 0 && usage.HourRequests >= rl.requestsPerHour {
		return &RateLimitError{
			Type:       "hour",
			Limit:      rl.requestsPerHour,
			RetryAfter: usage.HourStart.Add(time.Hour).Sub(now),
		}
	}

	resets := usage.DayStart.AddDate(0, 0, 1)
	if rl.maxRequestsPerDay > 0 && usage.DayRequests >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(usage.DayRequests),
			Resets: resets,
		}
	}
	if rl.maxDataPerDay > 0 && usage.DayData+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   usage.DayData,
			Resets: resets,
		}
	}

	usage.MinuteRequests++
	usage.HourRequests++
	usage.DayRequests++
	usage.DayData += dataSize
	return nil
}

// roll opens new windows for every period that has expired.
func (u *ClientUsage) roll(now time.Time) {
	if now.Sub(u.MinuteStart) >= time.Minute {
		u.MinuteStart, u.MinuteRequests = now, 0
	}
	if now.Sub(u.HourStart) >= time.Hour {
		u.HourStart, u.HourRequests = now, 0
	}
	if day := startOfDay(now); !day.Equal(u.DayStart) {
		u.DayStart, u.DayRequests, u.DayData = day, 0, 0
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Usage returns a copy of the usage recorded for clientID.
func (rl *RateLimiter) Usage(clientID string) ClientUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if u, ok := rl.clients[clientID]; ok {
		return *u
	}
	return ClientUsage{}
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}

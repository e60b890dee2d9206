package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// retryBuffer is added to every computed sleep so the oldest entry is
// guaranteed to have left the window when the caller retries.
const retryBuffer = time.Second

// Limiter enforces a sliding time-window admission bound for one external
// API: at any instant no more than maxRequests calls are admitted within the
// trailing window. One Limiter instance must be shared by all callers
// targeting the same API.
type Limiter struct {
	name        string
	maxRequests int
	window      time.Duration
	clock       clock.Clock

	mu    sync.Mutex
	calls []time.Time
}

// NewLimiter creates a limiter admitting maxRequests calls per window.
func NewLimiter(name string, maxRequests int, window time.Duration, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	return &Limiter{
		name:        name,
		maxRequests: maxRequests,
		window:      window,
		clock:       clk,
	}
}

// Name returns the API name this limiter guards.
func (l *Limiter) Name() string { return l.name }

// Wait blocks until one more call fits inside the window, then records the
// call and returns. It never rejects; a rate-limited caller simply waits.
func (l *Limiter) Wait() {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.evict(now)
		if len(l.calls) < l.maxRequests {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return
		}
		oldest := l.calls[0]
		sleep := l.window - now.Sub(oldest) + retryBuffer
		l.mu.Unlock()

		if sleep > 0 {
			l.clock.Sleep(sleep)
		}
	}
}

// Allow reports whether a call would be admitted right now, without waiting
// and without recording anything.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.clock.Now())
	return len(l.calls) < l.maxRequests
}

// Remaining returns how many calls can still be admitted in the current
// window.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.clock.Now())
	if n := l.maxRequests - len(l.calls); n > 0 {
		return n
	}
	return 0
}

// Reset discards the recorded call history.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = l.calls[:0]
}

// evict drops timestamps older than the window. Caller holds l.mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

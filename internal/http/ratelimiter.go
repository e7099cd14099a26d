package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter allows at most limit calls within the trailing
// window. A zero window or limit disables limiting.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu    sync.Mutex
	calls []time.Time
}

// NewSlidingWindowLimiter constructs a limiter with an optional time source
// for tests.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{window: window, limit: limit, now: timeSource}
}

// Allow reports whether another call fits in the current window and records
// it when it does.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	kept := l.calls[:0]
	for _, at := range l.calls {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	l.calls = kept
	if len(l.calls) >= l.limit {
		return false
	}
	l.calls = append(l.calls, l.now())
	return true
}

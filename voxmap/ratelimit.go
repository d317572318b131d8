package voxmap

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so rate limiting can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// FrameLimiter drops frames that arrive sooner than 1/maxRate seconds after
// the last accepted frame. A non-positive rate accepts everything.
type FrameLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	clock    Clock
	last     time.Time
}

// NewFrameLimiter returns a limiter for maxRate frames per second.
func NewFrameLimiter(maxRate float64, clock Clock) *FrameLimiter {
	if clock == nil {
		clock = SystemClock()
	}
	var interval time.Duration
	if maxRate > 0 {
		interval = time.Duration(float64(time.Second) / maxRate)
	}
	return &FrameLimiter{interval: interval, clock: clock}
}

// Interval returns the minimum spacing between accepted frames.
func (l *FrameLimiter) Interval() time.Duration { return l.interval }

// Allow reports whether a frame arriving now should be processed and, if so,
// records it as the last accepted frame.
func (l *FrameLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if l.interval > 0 && !l.last.IsZero() && now.Sub(l.last) <= l.interval {
		return false
	}
	l.last = now
	return true
}

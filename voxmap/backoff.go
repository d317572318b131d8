package voxmap

import (
	"context"
	"time"
)

// backoff is a capped exponential retry schedule.
type backoff struct {
	base time.Duration
	max  time.Duration // zero means uncapped
}

// delay returns the wait before retry n (n >= 1): base, 2*base, 4*base...
func (b backoff) delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	d := b.base
	for i := 1; i < n; i++ {
		d *= 2
		if b.max > 0 && d >= b.max {
			return b.max
		}
	}
	if b.max > 0 && d > b.max {
		return b.max
	}
	return d
}

// sleepCtx waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

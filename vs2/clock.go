package vs2

import (
	"context"
	"time"
)

// Clock lets the polling loops yield between polls.
// Tests substitute an implementation that does not wait on the wall clock.
type Clock interface {
	// Sleep returns after d, or early with ctx.Err() when ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock sleeps on real timers
type SystemClock struct{}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

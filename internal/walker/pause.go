package walker

import (
	"context"
	"time"
)

// TimerPauser waits on a real timer and returns early when ctx ends.
type TimerPauser struct{}

// Pause implements catalog.Pauser.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// NoPause skips every delay.
type NoPause struct{}

// Pause implements catalog.Pauser.
func (NoPause) Pause(context.Context, time.Duration) {}

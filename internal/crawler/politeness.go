package crawler

import (
	"context"
	"fmt"
	"time"
)

// PauseFunc blocks for the given delay or until ctx is done.
type PauseFunc func(ctx context.Context, delay time.Duration) error

// Pause waits for delay using a timer, returning early with ctx's error if it
// is canceled first.
func Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

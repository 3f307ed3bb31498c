package keyer

import (
	"context"
	"time"
)

// Clock is the time source of the keyer loop. Element deadlines are
// absolute so that element timing does not drift.
type Clock interface {
	Now() time.Time
	SleepUntil(ctx context.Context, deadline time.Time) error
	Sleep(ctx context.Context, d time.Duration) error
}

// spinWindow is how much of each element wait is busy-polled instead of slept
const spinWindow = time.Millisecond

// SystemClock sleeps on the OS timer. Element deadlines spin through
// their final millisecond; plain sleeps never spin.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) SleepUntil(ctx context.Context, deadline time.Time) error {
	if d := time.Until(deadline) - spinWindow; d > 0 {
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package transport

import "time"

// Backoff returns the delay before reconnect attempt n (1-based):
// base doubled n-1 times, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return min(d, max)
}

// Stopper is a cancellable scheduled callback, such as *time.Timer.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. Tests inject a fake to drive reconnects by hand.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

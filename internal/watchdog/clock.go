package watchdog

import "time"

// Clock is the time source. Tests replace it to make backoff deterministic.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// maxBackoff caps the delay between reconnect attempts.
const maxBackoff = 300 * time.Second

// Backoff returns the delay before reconnect attempt n (1-based):
// min(2^n, 300) seconds.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 2^9 already exceeds the cap; avoid shifting further.
	if attempt >= 9 {
		return maxBackoff
	}
	return min(time.Duration(1<<attempt)*time.Second, maxBackoff)
}

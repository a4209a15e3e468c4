package exchange

import "time"

// Backoff yields exponentially growing retry delays capped at a maximum.
// It is not safe for concurrent use; each collector owns one.
type Backoff struct {
	min     time.Duration
	max     time.Duration
	current time.Duration
}

func NewBackoff(min, max time.Duration) *Backoff {
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, current: min}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current = min(b.current*2, b.max)
	return d
}

// Reset goes back to the minimum delay after a successful connection.
func (b *Backoff) Reset() {
	b.current = b.min
}

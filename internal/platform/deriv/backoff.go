package deriv

import "time"

const (
	defaultReconnectBase   = 2 * time.Second
	defaultReconnectMax    = 60 * time.Second
	defaultReconnectFactor = 1.5
)

// Backoff yields reconnect delays that start at Base, grow by Factor on each
// call to Next, and never exceed Max. The zero value uses 2s / 60s / 1.5.
// Backoff is not safe for concurrent use.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64

	current time.Duration
}

func (b *Backoff) defaults() {
	if b.Base <= 0 {
		b.Base = defaultReconnectBase
	}
	if b.Max <= 0 {
		b.Max = defaultReconnectMax
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.Factor < 1 {
		b.Factor = defaultReconnectFactor
	}
}

// Next returns the delay to wait before the next attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	b.defaults()
	if b.current <= 0 {
		b.current = b.Base
	}
	d := b.current
	next := time.Duration(float64(b.current) * b.Factor)
	if next > b.Max {
		next = b.Max
	}
	b.current = next
	return d
}

// Reset restarts the sequence at Base.
func (b *Backoff) Reset() {
	b.defaults()
	b.current = b.Base
}

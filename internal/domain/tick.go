package domain

import (
	"math"
	"time"
)

// Tick is one quote pushed by the broker for the subscribed instrument.
type Tick struct {
	Symbol string
	Quote  float64
	Epoch  time.Time
}

// Digit returns the settlement digit of the quote: floor(quote) mod 10.
func (t Tick) Digit() int {
	d := int64(math.Floor(math.Abs(t.Quote))) % 10
	return int(d)
}

// AccountInfo is the account snapshot returned by a successful authorization.
type AccountInfo struct {
	LoginID  string
	Currency string
	Balance  float64
}

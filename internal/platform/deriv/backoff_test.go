package deriv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 10 * time.Second, Factor: 1.5}

	want := []time.Duration{
		2 * time.Second,
		3 * time.Second,
		4500 * time.Millisecond,
		6750 * time.Millisecond,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "attempt %d", i)
	}
}

func TestBackoff_ResetReturnsToBase(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, Factor: 2}
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoff_ZeroValueDefaults(t *testing.T) {
	var b Backoff
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())

	prev := time.Duration(0)
	for i := 0; i < 50; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 60*time.Second)
		prev = d
	}
}

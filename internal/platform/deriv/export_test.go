package deriv

import (
	"context"
	"time"
)

// SetReconnectWait replaces the reconnect sleep of w. Call before Run.
func SetReconnectWait(w *WSClient, fn func(ctx context.Context, d time.Duration) bool) {
	w.wait = fn
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
)

// Control implements domain.ControlSource on a single key so several
// processes (or an operator with redis-cli) can pause the session.
type Control struct {
	c   *Client
	key string
}

// NewControl creates the control switch for the named session.
func NewControl(c *Client, session string) *Control {
	return &Control{c: c, key: c.key("control", session)}
}

// Running reports the switch. A missing key means run.
func (ctl *Control) Running(ctx context.Context) (bool, error) {
	v, err := ctl.c.rdb.Get(ctx, ctl.key).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("redis: read control: %w", err)
	}
	run, err := strconv.ParseBool(v)
	if err != nil {
		return true, fmt.Errorf("redis: parse control %q: %w", v, err)
	}
	return run, nil
}

// SetRunning stores the switch without expiry.
func (ctl *Control) SetRunning(ctx context.Context, run bool) error {
	if err := ctl.c.rdb.Set(ctx, ctl.key, strconv.FormatBool(run), 0).Err(); err != nil {
		return fmt.Errorf("redis: set control: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ControlSource = (*Control)(nil)

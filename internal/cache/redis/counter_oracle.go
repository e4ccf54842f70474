package redis

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// CounterOracle implements domain.ResolutionOracle with a Redis INCR
// counter shared by every replica.
type CounterOracle struct {
	c   *Client
	key string
}

// NewCounterOracle creates a CounterOracle on the given key.
func NewCounterOracle(c *Client, key string) *CounterOracle {
	return &CounterOracle{c: c, key: c.Key(key)}
}

// Seed sets the counter to base unless it already exists.
func (o *CounterOracle) Seed(ctx context.Context, base uint64) error {
	if err := o.c.Underlying().SetNX(ctx, o.key, base, 0).Err(); err != nil {
		return fmt.Errorf("redis: seed counter %s: %w", o.key, err)
	}
	return nil
}

// CurrentCounter increments the shared counter and returns the value it held
// before the increment.
func (o *CounterOracle) CurrentCounter(ctx context.Context) (uint64, error) {
	v, err := o.c.Underlying().Incr(ctx, o.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: counter %s: %w", o.key, err)
	}
	return uint64(v - 1), nil
}

var _ domain.ResolutionOracle = (*CounterOracle)(nil)

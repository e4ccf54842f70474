package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX, so every API replica
// sharing the Redis instance sees the same used nonces.
type NonceStore struct {
	c *Client
}

// NewNonceStore creates a NonceStore backed by the given Client.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{c: c}
}

func (n *NonceStore) nonceKey(key string) string {
	return n.c.Key("nonce:" + key)
}

// Claim records key for ttl. It returns false when key is already recorded.
func (n *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := n.c.Underlying().SetNX(ctx, n.nonceKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)

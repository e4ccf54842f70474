package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// NonceSet implements domain.NonceStore for a single process. Expired
// entries are swept on each Claim once the set has grown past sweepAt.
type NonceSet struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	sweepAt int
	now     func() time.Time
}

const minSweep = 1024

// NewNonceSet creates an empty NonceSet.
func NewNonceSet() *NonceSet {
	return &NonceSet{seen: make(map[string]time.Time), sweepAt: minSweep, now: time.Now}
}

// Claim records key until ttl elapses. It returns false while an earlier
// claim of key is still live.
func (n *NonceSet) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if exp, ok := n.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	if len(n.seen) >= n.sweepAt {
		for k, exp := range n.seen {
			if !now.Before(exp) {
				delete(n.seen, k)
			}
		}
		n.sweepAt = max(minSweep, 2*len(n.seen))
	}
	n.seen[key] = now.Add(ttl)
	return true, nil
}

// Len returns the number of nonces currently held.
func (n *NonceSet) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

var _ domain.NonceStore = (*NonceSet)(nil)

// Package oracle provides in-process resolution oracles.
package oracle

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
)

// Counter is a monotonic counter that advances on every read, starting at
// a configured base.
type Counter struct {
	next atomic.Uint64
}

// NewCounter creates a Counter whose first reading is base.
func NewCounter(base uint64) *Counter {
	c := &Counter{}
	c.next.Store(base)
	return c
}

// CurrentCounter returns the current value and advances the counter.
func (c *Counter) CurrentCounter(context.Context) (uint64, error) {
	return c.next.Add(1) - 1, nil
}

// Random draws uniformly distributed 64-bit values from a byte source.
type Random struct {
	src io.Reader
}

// NewRandom creates a Random reading from crypto/rand.
func NewRandom() *Random {
	return &Random{src: rand.Reader}
}

// NewRandomFrom creates a Random reading from src.
func NewRandomFrom(src io.Reader) *Random {
	return &Random{src: src}
}

// CurrentCounter returns the next 64-bit value from the source.
func (r *Random) CurrentCounter(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var buf [8]byte
	if _, err := io.ReadFull(r.src, buf[:]); err != nil {
		return 0, fmt.Errorf("oracle: read random: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

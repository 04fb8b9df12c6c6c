package protocol

import "sync/atomic"

// Clock is a Lamport logical clock. Every send and local event ticks it;
// every receive merges the peer's value.
type Clock struct {
	val atomic.Uint64
}

// Tick advances the clock for a local event and returns the new value.
func (c *Clock) Tick() uint64 {
	return c.val.Add(1)
}

// Merge folds a received clock value in: max(local, remote) + 1.
func (c *Clock) Merge(remote uint64) uint64 {
	for {
		cur := c.val.Load()
		next := max(cur, remote) + 1
		if c.val.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Now returns the current value without advancing it.
func (c *Clock) Now() uint64 {
	return c.val.Load()
}

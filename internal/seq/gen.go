// Package seq implements UAP sequence-number bookkeeping: the outbound
// generator and the inbound tracker with its gap policies.
package seq

import (
	"errors"
	"math"
	"sync/atomic"
)

// ErrExhausted is returned once a sender has used every 32-bit sequence
// number. Wraparound is not allowed; the session must be closed.
var ErrExhausted = errors.New("sequence space exhausted")

// Gen is a per-session atomic sequence number generator.
// It is safe to share between the owner goroutine and a sender goroutine.
type Gen struct {
	next atomic.Uint64
}

// NewGen creates a generator whose first Next() returns 0.
func NewGen() *Gen {
	return &Gen{}
}

// Next returns the next sequence number (0, 1, 2, ...).
func (g *Gen) Next() (uint32, error) {
	n := g.next.Add(1) - 1
	if n > math.MaxUint32 {
		return 0, ErrExhausted
	}
	return uint32(n), nil
}

// Issued returns how many numbers have been handed out.
func (g *Gen) Issued() uint64 {
	return min(g.next.Load(), math.MaxUint32+1)
}

// skipTo positions the generator so that the next call returns n.
// Used by tests to reach the end of the sequence space.
func (g *Gen) skipTo(n uint64) {
	g.next.Store(n)
}

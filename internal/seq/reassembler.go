package seq

import (
	"container/heap"

	"github.com/1ureka/uap/internal/protocol"
)

// reassembler holds future messages until the gap before them closes.
// It is goroutine-local (owned by the session's tracker) and needs no locking.
type reassembler struct {
	buffer messageHeap
}

// push buffers a message that arrived ahead of the expected number.
func (r *reassembler) push(msg *protocol.Message) {
	heap.Push(&r.buffer, msg)
}

// drain pops every buffered message whose number equals *expected, advancing
// *expected past each one. Stale entries (below *expected) are discarded.
func (r *reassembler) drain(expected *uint64) []*protocol.Message {
	var out []*protocol.Message
	for r.buffer.Len() > 0 {
		head := uint64(r.buffer[0].Seq)
		switch {
		case head < *expected:
			heap.Pop(&r.buffer)
		case head == *expected:
			out = append(out, heap.Pop(&r.buffer).(*protocol.Message))
			*expected++
		default:
			return out
		}
	}
	return out
}

func (r *reassembler) len() int {
	return r.buffer.Len()
}

// ---------------------------------------------------------------------------
// messageHeap implements a min-heap sorted by Seq.
// ---------------------------------------------------------------------------

type messageHeap []*protocol.Message

func (h messageHeap) Len() int            { return len(h) }
func (h messageHeap) Less(i, j int) bool  { return h[i].Seq < h[j].Seq }
func (h messageHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *messageHeap) Push(x interface{}) { *h = append(*h, x.(*protocol.Message)) }

func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return item
}

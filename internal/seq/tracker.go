package seq

import (
	"fmt"
	"math"
	"strings"

	"github.com/pion/transport/v4/replaydetector"

	"github.com/1ureka/uap/internal/protocol"
)

// Decision is the tracker's verdict on one inbound sequence number.
type Decision uint8

const (
	Deliver    Decision = iota + 1 // in order: hand to the application
	Duplicate                      // already seen: ignore, no state change
	OutOfOrder                     // ahead of expected: buffered or dropped per GapPolicy
)

func (d Decision) String() string {
	switch d {
	case Deliver:
		return "deliver"
	case Duplicate:
		return "duplicate"
	case OutOfOrder:
		return "out-of-order"
	}
	return "unknown"
}

// GapPolicy selects what happens to a message that arrives ahead of the
// expected sequence number.
type GapPolicy uint8

const (
	// GapDrop drops the message and reports the gap. Nothing else changes.
	GapDrop GapPolicy = iota
	// GapReorder buffers the message (within the window) until the gap closes.
	GapReorder
	// GapSkip declares the missing numbers lost and delivers the message.
	GapSkip
)

// DefaultWindow is the reorder buffer capacity, in sequence numbers.
const DefaultWindow = 64

func (p GapPolicy) String() string {
	switch p {
	case GapDrop:
		return "drop"
	case GapReorder:
		return "reorder"
	case GapSkip:
		return "skip"
	}
	return "unknown"
}

// ParseGapPolicy maps a config/flag value to a GapPolicy.
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return GapDrop, nil
	case "reorder":
		return GapReorder, nil
	case "skip":
		return GapSkip, nil
	}
	return GapDrop, fmt.Errorf("unknown gap policy %q (want drop, reorder or skip)", s)
}

// Range is the half-open interval [From, To) of sequence numbers.
type Range struct {
	From, To uint64
}

// Len returns the number of sequence numbers in r.
func (r Range) Len() uint64 {
	if r.To <= r.From {
		return 0
	}
	return r.To - r.From
}

// Outcome is the full result of offering one message to the tracker.
type Outcome struct {
	Decision Decision
	Ready    []*protocol.Message // messages now deliverable, in sequence order
	Missing  Range               // gap in front of an out-of-order message
	Lost     Range               // numbers given up on (GapSkip)
	Buffered bool                // the message was held for reordering
}

// Tracker validates one direction of one session. It is owned by the
// session's worker and needs no locking.
type Tracker struct {
	expected uint64
	policy   GapPolicy
	window   uint64
	reasm    reassembler
	replay   replaydetector.ReplayDetector
}

// NewTracker creates a tracker expecting sequence number 0.
func NewTracker(policy GapPolicy, window uint) *Tracker {
	if window == 0 {
		window = DefaultWindow
	}
	t := &Tracker{policy: policy, window: uint64(window)}
	if policy == GapReorder {
		t.replay = replaydetector.New(window, math.MaxUint32)
	}
	return t
}

// Expected returns the next sequence number the peer should present.
// It reaches 1<<32 once the final number has been delivered.
func (t *Tracker) Expected() uint64 {
	return t.expected
}

// Policy returns the tracker's gap policy.
func (t *Tracker) Policy() GapPolicy {
	return t.policy
}

// Pending returns how many messages are held for reordering.
func (t *Tracker) Pending() int {
	return t.reasm.len()
}

// Begin anchors the tracker at the peer's opening message, so the next
// expected number is first+1.
func (t *Tracker) Begin(first uint32) {
	t.expected = uint64(first) + 1
}

// Accept applies the reference policy to a bare sequence number:
// equal → Deliver and advance; lower → Duplicate; higher → OutOfOrder (dropped).
func (t *Tracker) Accept(seq uint32) Decision {
	s := uint64(seq)
	switch {
	case s == t.expected:
		t.expected++
		return Deliver
	case s < t.expected:
		return Duplicate
	default:
		return OutOfOrder
	}
}

// Offer runs a whole message through the tracker under its gap policy.
func (t *Tracker) Offer(msg *protocol.Message) Outcome {
	s := uint64(msg.Seq)
	if s < t.expected {
		return Outcome{Decision: Duplicate}
	}
	if s == t.expected {
		t.expected++
		ready := []*protocol.Message{msg}
		if t.policy == GapReorder {
			ready = append(ready, t.reasm.drain(&t.expected)...)
		}
		return Outcome{Decision: Deliver, Ready: ready}
	}

	gap := Range{From: t.expected, To: s}
	switch t.policy {
	case GapSkip:
		t.expected = s + 1
		return Outcome{Decision: Deliver, Ready: []*protocol.Message{msg}, Lost: gap}

	case GapReorder:
		if s-t.expected >= t.window {
			return Outcome{Decision: OutOfOrder, Missing: gap}
		}
		accept, ok := t.replay.Check(s)
		if !ok {
			return Outcome{Decision: Duplicate}
		}
		accept()
		t.reasm.push(msg)
		return Outcome{Decision: OutOfOrder, Missing: gap, Buffered: true}

	default:
		return Outcome{Decision: OutOfOrder, Missing: gap}
	}
}

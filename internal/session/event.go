package session

import (
	"time"

	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/seq"
)

// State is the lifecycle state of one session.
type State uint8

const (
	AwaitingHello State = iota
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingHello:
		return "awaiting-hello"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Role selects which side of the conversation a Machine plays.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// EventKind classifies what happened during a transition.
type EventKind uint8

const (
	EventCreated     EventKind = iota + 1 // server accepted a HELLO
	EventEstablished                      // client got its HELLO acknowledged
	EventDelivered                        // DATA payload handed to the application
	EventDuplicate                        // already-seen sequence number ignored
	EventOutOfOrder                       // message ahead of expected, dropped or buffered
	EventLost                             // sequence numbers given up on
	EventGoodbye                          // peer sent GOODBYE
	EventClosing                          // local close started
	EventTimedOut                         // a session timer expired
	EventRejected                         // message discarded without a state change
	EventClosed                           // terminal
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventEstablished:
		return "established"
	case EventDelivered:
		return "delivered"
	case EventDuplicate:
		return "duplicate"
	case EventOutOfOrder:
		return "out-of-order"
	case EventLost:
		return "lost"
	case EventGoodbye:
		return "goodbye"
	case EventClosing:
		return "closing"
	case EventTimedOut:
		return "timed-out"
	case EventRejected:
		return "rejected"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// Reason explains an EventClosed, EventTimedOut or EventRejected.
type Reason uint8

const (
	ReasonNone       Reason = iota
	ReasonGoodbye           // peer GOODBYE
	ReasonInactivity        // no message within the inactivity timeout
	ReasonHello             // HELLO never acknowledged
	ReasonAck               // DATA never acknowledged
	ReasonClose             // close handshake gave up waiting
	ReasonShutdown          // local shutdown
	ReasonProtocol          // peer broke the protocol
	ReasonMismatch          // session id does not match the endpoint's session
	ReasonExhausted         // outbound sequence space used up
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonGoodbye:
		return "goodbye"
	case ReasonInactivity:
		return "inactivity"
	case ReasonHello:
		return "hello timeout"
	case ReasonAck:
		return "ack timeout"
	case ReasonClose:
		return "close timeout"
	case ReasonShutdown:
		return "shutdown"
	case ReasonProtocol:
		return "protocol error"
	case ReasonMismatch:
		return "session mismatch"
	case ReasonExhausted:
		return "sequence exhausted"
	}
	return "unknown"
}

// Event records one observable step of a session.
type Event struct {
	Kind      EventKind
	SessionID uint32
	Seq       uint32    // sequence number of the message that caused it
	Range     seq.Range // gap for EventOutOfOrder, given-up numbers for EventLost
	Buffered  bool      // EventOutOfOrder: held for reordering
	Reason    Reason
	At        time.Time
}

// Delivery is a DATA payload released to the application in order.
type Delivery struct {
	Seq     uint32
	Payload []byte
}

// Result is everything a transition produced. The caller encodes and sends
// Outbound, hands Deliveries to the application and reports Events.
type Result struct {
	Outbound   []*protocol.Message
	Deliveries []Delivery
	Events     []Event
}

// Merge appends o to r.
func (r *Result) Merge(o Result) {
	r.Outbound = append(r.Outbound, o.Outbound...)
	r.Deliveries = append(r.Deliveries, o.Deliveries...)
	r.Events = append(r.Events, o.Events...)
}

// Has reports whether r contains an event of kind k.
func (r Result) Has(k EventKind) bool {
	for _, e := range r.Events {
		if e.Kind == k {
			return true
		}
	}
	return false
}

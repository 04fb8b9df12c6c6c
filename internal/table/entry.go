package table

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/session"
)

// Entry is one session in the table.
//
// Identity fields are immutable. Activity and state are atomics so the
// reader, the sweep and the monitor can see them without touching Machine,
// which belongs to the single goroutine that owns the session.
type Entry struct {
	Endpoint  string
	SessionID uint32
	Addr      net.Addr

	// Machine is touched only by the owning worker (or the dispatch loop).
	Machine *session.Machine

	// Inbox feeds the owning worker in the threaded model; nil otherwise.
	Inbox chan *protocol.Message

	created      time.Time
	lastActivity atomic.Int64 // unix nanoseconds
	state        atomic.Uint32

	expireOnce sync.Once
	expire     chan struct{}
}

// NewEntry creates an entry for a session first seen at now. inboxSize 0
// leaves Inbox nil.
func NewEntry(addr net.Addr, m *session.Machine, inboxSize int, now time.Time) *Entry {
	e := &Entry{
		Endpoint:  addr.String(),
		SessionID: m.ID(),
		Addr:      addr,
		Machine:   m,
		created:   now,
		expire:    make(chan struct{}),
	}
	if inboxSize > 0 {
		e.Inbox = make(chan *protocol.Message, inboxSize)
	}
	e.lastActivity.Store(now.UnixNano())
	e.state.Store(uint32(m.State()))
	return e
}

// Touch records inbound activity.
func (e *Entry) Touch(now time.Time) {
	e.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the time of the last Touch.
func (e *Entry) LastActivity() time.Time {
	return time.Unix(0, e.lastActivity.Load())
}

// SetState mirrors the machine's state for observers.
func (e *Entry) SetState(s session.State) {
	e.state.Store(uint32(s))
}

// State returns the mirrored state.
func (e *Entry) State() session.State {
	return session.State(e.state.Load())
}

// Expire asks the owner to time the session out. Safe to call repeatedly
// and from any goroutine.
func (e *Entry) Expire() {
	e.expireOnce.Do(func() { close(e.expire) })
}

// Expired is closed once Expire has been called.
func (e *Entry) Expired() <-chan struct{} {
	return e.expire
}

// Info returns a read-only view of the entry.
func (e *Entry) Info() Info {
	return Info{
		SessionID:    e.SessionID,
		Endpoint:     e.Endpoint,
		State:        e.State().String(),
		Created:      e.created,
		LastActivity: e.LastActivity(),
	}
}

// Package session implements the UAP session state machine.
//
// A Machine performs no I/O and owns no goroutines or real timers. Every
// method takes the current time and returns a Result describing the messages
// to send, the payloads to deliver and the events to report. The caller
// decides how those are carried out, which lets the same logic run under the
// threaded server, the single-dispatch loop, the client and the tests.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/seq"
)

var (
	// ErrNotActive is returned by Send outside the Active state.
	ErrNotActive = errors.New("session not active")
	// ErrAlreadyOpen is returned when Open is called twice or on a server session.
	ErrAlreadyOpen = errors.New("session already opened")
)

// Option customises a Machine.
type Option func(*Machine)

// WithClock makes the machine share a process-wide logical clock instead of
// keeping its own.
func WithClock(c *protocol.Clock) Option {
	return func(m *Machine) {
		m.clock = c
	}
}

// Machine is one session's state. It is owned by a single goroutine and is
// not safe for concurrent use.
type Machine struct {
	id       uint32
	endpoint string
	role     Role
	cfg      Config
	state    State
	opened   bool

	out   *seq.Gen
	in    *seq.Tracker
	clock *protocol.Clock

	created      time.Time
	lastActivity time.Time // last inbound message
	lastSent     time.Time // last outbound message
	ackAt        time.Time // client: pending DATA acknowledgment deadline
	closeAt      time.Time // hello or close handshake deadline
}

// NewServer creates the server side of a session for a peer at endpoint.
// It stays in AwaitingHello until the peer's HELLO is received.
func NewServer(id uint32, endpoint string, cfg Config, opts ...Option) *Machine {
	return newMachine(id, endpoint, RoleServer, cfg, opts)
}

// NewClient creates the client side of a session. Call Open to send HELLO.
func NewClient(id uint32, cfg Config, opts ...Option) *Machine {
	return newMachine(id, "", RoleClient, cfg, opts)
}

func newMachine(id uint32, endpoint string, role Role, cfg Config, opts []Option) *Machine {
	m := &Machine{
		id:       id,
		endpoint: endpoint,
		role:     role,
		cfg:      cfg,
		state:    AwaitingHello,
		out:      seq.NewGen(),
		in:       seq.NewTracker(cfg.GapPolicy, cfg.Window),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = &protocol.Clock{}
	}
	return m
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func (m *Machine) ID() uint32              { return m.id }
func (m *Machine) Endpoint() string        { return m.endpoint }
func (m *Machine) Role() Role              { return m.role }
func (m *Machine) State() State            { return m.state }
func (m *Machine) Expected() uint64        { return m.in.Expected() }
func (m *Machine) Sent() uint64            { return m.out.Issued() }
func (m *Machine) Created() time.Time      { return m.created }
func (m *Machine) LastActivity() time.Time { return m.lastActivity }

// Deadline returns the single moment at which Tick must next be called.
// The zero time means no timer is needed.
func (m *Machine) Deadline() time.Time {
	switch m.state {
	case AwaitingHello:
		return m.closeAt
	case Active:
		d := m.lastActivity.Add(m.cfg.InactivityTimeout)
		if alive := m.lastSent.Add(m.cfg.AliveInterval); alive.Before(d) {
			d = alive
		}
		if !m.ackAt.IsZero() && m.ackAt.Before(d) {
			d = m.ackAt
		}
		return d
	case Closing:
		return m.closeAt
	}
	return time.Time{}
}

// ---------------------------------------------------------------------------
// Local operations
// ---------------------------------------------------------------------------

// Open starts a client session by emitting HELLO.
func (m *Machine) Open(now time.Time) (Result, error) {
	var r Result
	if m.role != RoleClient || m.opened {
		return r, ErrAlreadyOpen
	}
	m.opened = true
	m.created = now
	m.lastActivity = now
	if err := m.emit(&r, protocol.CmdHello, nil, now); err != nil {
		return r, err
	}
	m.closeAt = now.Add(m.cfg.HelloTimeout)
	return r, nil
}

// Send emits payload as DATA.
func (m *Machine) Send(payload []byte, now time.Time) (Result, error) {
	var r Result
	if m.state != Active {
		return r, fmt.Errorf("%w (state %s)", ErrNotActive, m.state)
	}
	if len(payload) > protocol.MaxPayloadSize {
		return r, fmt.Errorf("%w: %w: %d bytes", protocol.ErrEncoding, protocol.ErrPayloadTooLarge, len(payload))
	}
	if err := m.emit(&r, protocol.CmdData, payload, now); err != nil {
		return r, err
	}
	if m.role == RoleClient && m.cfg.AckTimeout > 0 && m.ackAt.IsZero() {
		m.ackAt = now.Add(m.cfg.AckTimeout)
	}
	return r, nil
}

// Close starts a local graceful close: GOODBYE is sent and the machine waits
// up to CloseTimeout for the peer's GOODBYE. Calling it again has no effect.
func (m *Machine) Close(now time.Time) Result {
	var r Result
	if m.state == AwaitingHello || m.state == Active {
		m.beginClosing(&r, now, ReasonNone)
	}
	return r
}

// Shutdown ends the session immediately, optionally sending farewell as a
// final DATA before GOODBYE.
func (m *Machine) Shutdown(now time.Time, farewell []byte) Result {
	var r Result
	switch m.state {
	case Active:
		if len(farewell) > 0 {
			_ = m.emit(&r, protocol.CmdData, farewell, now)
		}
		_ = m.emit(&r, protocol.CmdGoodbye, nil, now)
	case AwaitingHello:
		if m.opened {
			_ = m.emit(&r, protocol.CmdGoodbye, nil, now)
		}
	case Closing:
		// GOODBYE already sent
	default:
		return r
	}
	m.finish(&r, now, ReasonShutdown)
	return r
}

// Tick fires whatever timer is due at now.
func (m *Machine) Tick(now time.Time) Result {
	var r Result
	switch m.state {
	case AwaitingHello:
		if m.role == RoleClient && !m.closeAt.IsZero() && !now.Before(m.closeAt) {
			m.event(&r, Event{Kind: EventTimedOut, Reason: ReasonHello}, now)
			m.beginClosing(&r, now, ReasonHello)
		}

	case Active:
		if now.Sub(m.lastActivity) >= m.cfg.InactivityTimeout {
			m.timeout(&r, now)
			return r
		}
		if !m.ackAt.IsZero() && !now.Before(m.ackAt) {
			m.event(&r, Event{Kind: EventTimedOut, Reason: ReasonAck}, now)
			m.beginClosing(&r, now, ReasonAck)
			return r
		}
		if now.Sub(m.lastSent) >= m.cfg.AliveInterval {
			if err := m.emit(&r, protocol.CmdAlive, nil, now); err != nil {
				m.finish(&r, now, ReasonExhausted)
			}
		}

	case Closing:
		if !now.Before(m.closeAt) {
			m.finish(&r, now, ReasonClose)
		}
	}
	return r
}

// Expire forces an inactivity timeout. It is used by the idle sweep, which
// works from the table's activity stamp rather than the machine's timer.
func (m *Machine) Expire(now time.Time) Result {
	var r Result
	if m.state != Closed {
		m.timeout(&r, now)
	}
	return r
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// Receive applies one decoded inbound message.
func (m *Machine) Receive(msg *protocol.Message, now time.Time) Result {
	var r Result
	if m.state == Closed {
		return r
	}
	if msg.SessionID != m.id {
		m.event(&r, Event{Kind: EventRejected, Seq: msg.Seq, Reason: ReasonMismatch}, now)
		return r
	}
	m.clock.Merge(msg.Clock)

	if m.role == RoleServer {
		m.receiveServer(&r, msg, now)
	} else {
		m.receiveClient(&r, msg, now)
	}
	return r
}

func (m *Machine) receiveServer(r *Result, msg *protocol.Message, now time.Time) {
	switch m.state {
	case AwaitingHello:
		if msg.Command != protocol.CmdHello {
			m.event(r, Event{Kind: EventRejected, Seq: msg.Seq, Reason: ReasonProtocol}, now)
			_ = m.emit(r, protocol.CmdGoodbye, nil, now)
			m.finish(r, now, ReasonProtocol)
			return
		}
		m.created = now
		m.lastActivity = now
		m.in.Begin(msg.Seq)
		m.state = Active
		m.event(r, Event{Kind: EventCreated, Seq: msg.Seq}, now)
		// explicit acknowledgment
		if err := m.emit(r, protocol.CmdHello, nil, now); err != nil {
			m.finish(r, now, ReasonExhausted)
		}

	case Active:
		m.lastActivity = now
		switch msg.Command {
		case protocol.CmdGoodbye:
			m.event(r, Event{Kind: EventGoodbye, Seq: msg.Seq}, now)
			m.state = Closing
			_ = m.emit(r, protocol.CmdGoodbye, nil, now)
			m.finish(r, now, ReasonGoodbye)

		case protocol.CmdHello:
			if uint64(msg.Seq) < m.in.Expected() {
				m.event(r, Event{Kind: EventDuplicate, Seq: msg.Seq}, now)
				return
			}
			m.event(r, Event{Kind: EventRejected, Seq: msg.Seq, Reason: ReasonProtocol}, now)
			_ = m.emit(r, protocol.CmdGoodbye, nil, now)
			m.finish(r, now, ReasonProtocol)

		default:
			if m.track(r, msg, now) && msg.Command == protocol.CmdData {
				if err := m.emit(r, protocol.CmdAlive, nil, now); err != nil {
					m.finish(r, now, ReasonExhausted)
				}
			}
		}

	case Closing:
		if msg.Command == protocol.CmdGoodbye {
			m.finish(r, now, ReasonGoodbye)
		}
	}
}

func (m *Machine) receiveClient(r *Result, msg *protocol.Message, now time.Time) {
	if msg.Command == protocol.CmdGoodbye {
		// any state
		m.event(r, Event{Kind: EventGoodbye, Seq: msg.Seq}, now)
		m.finish(r, now, ReasonGoodbye)
		return
	}

	switch m.state {
	case AwaitingHello:
		if !m.opened {
			m.event(r, Event{Kind: EventRejected, Seq: msg.Seq, Reason: ReasonProtocol}, now)
			return
		}
		if msg.Command != protocol.CmdHello && msg.Command != protocol.CmdAlive {
			m.event(r, Event{Kind: EventRejected, Seq: msg.Seq, Reason: ReasonProtocol}, now)
			return
		}
		m.lastActivity = now
		m.closeAt = time.Time{}
		m.in.Begin(msg.Seq)
		m.state = Active
		m.event(r, Event{Kind: EventEstablished, Seq: msg.Seq}, now)

	case Active, Closing:
		m.lastActivity = now
		m.ackAt = time.Time{}
		if msg.Command == protocol.CmdHello {
			if uint64(msg.Seq) < m.in.Expected() {
				m.event(r, Event{Kind: EventDuplicate, Seq: msg.Seq}, now)
			} else {
				m.event(r, Event{Kind: EventRejected, Seq: msg.Seq, Reason: ReasonProtocol}, now)
			}
			return
		}
		m.track(r, msg, now)
	}
}

// track runs msg through the inbound tracker and reports whether anything
// was delivered.
func (m *Machine) track(r *Result, msg *protocol.Message, now time.Time) bool {
	out := m.in.Offer(msg)
	switch out.Decision {
	case seq.Duplicate:
		m.event(r, Event{Kind: EventDuplicate, Seq: msg.Seq}, now)
		return false

	case seq.OutOfOrder:
		m.event(r, Event{Kind: EventOutOfOrder, Seq: msg.Seq, Range: out.Missing, Buffered: out.Buffered}, now)
		return false
	}

	if out.Lost.Len() > 0 {
		m.event(r, Event{Kind: EventLost, Seq: msg.Seq, Range: out.Lost}, now)
	}
	for _, d := range out.Ready {
		if d.Command != protocol.CmdData {
			continue
		}
		r.Deliveries = append(r.Deliveries, Delivery{Seq: d.Seq, Payload: d.Payload})
		m.event(r, Event{Kind: EventDelivered, Seq: d.Seq}, now)
	}
	return true
}

// ---------------------------------------------------------------------------
// Transitions shared by both roles
// ---------------------------------------------------------------------------

func (m *Machine) beginClosing(r *Result, now time.Time, reason Reason) {
	m.ackAt = time.Time{}
	if err := m.emit(r, protocol.CmdGoodbye, nil, now); err != nil {
		m.finish(r, now, ReasonExhausted)
		return
	}
	m.state = Closing
	m.closeAt = now.Add(m.cfg.CloseTimeout)
	m.event(r, Event{Kind: EventClosing, Reason: reason}, now)
}

func (m *Machine) timeout(r *Result, now time.Time) {
	m.event(r, Event{Kind: EventTimedOut, Reason: ReasonInactivity}, now)
	_ = m.emit(r, protocol.CmdGoodbye, nil, now)
	m.finish(r, now, ReasonInactivity)
}

// finish enters the terminal state. Only the first call has an effect.
func (m *Machine) finish(r *Result, now time.Time, reason Reason) {
	if m.state == Closed {
		return
	}
	m.state = Closed
	m.ackAt = time.Time{}
	m.closeAt = time.Time{}
	m.event(r, Event{Kind: EventClosed, Reason: reason}, now)
}

func (m *Machine) emit(r *Result, cmd protocol.Command, payload []byte, now time.Time) error {
	n, err := m.out.Next()
	if err != nil {
		return err
	}
	r.Outbound = append(r.Outbound, &protocol.Message{
		Command:   cmd,
		Seq:       n,
		SessionID: m.id,
		Clock:     m.clock.Tick(),
		Timestamp: uint64(now.UnixNano()),
		Payload:   payload,
	})
	m.lastSent = now
	return nil
}

func (m *Machine) event(r *Result, e Event, now time.Time) {
	e.SessionID = m.id
	e.At = now
	r.Events = append(r.Events, e)
}

// ---------------------------------------------------------------------------
// Refusal
// ---------------------------------------------------------------------------

// Refuse builds the GOODBYE a server sends when a non-HELLO message arrives
// for a session it does not know. No session is created.
func Refuse(msg *protocol.Message, clock *protocol.Clock, now time.Time) *protocol.Message {
	clock.Merge(msg.Clock)
	return &protocol.Message{
		Command:   protocol.CmdGoodbye,
		SessionID: msg.SessionID,
		Clock:     clock.Tick(),
		Timestamp: uint64(now.UnixNano()),
	}
}

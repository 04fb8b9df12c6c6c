package server

import (
	"context"
	"net"
	"time"

	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/session"
	"github.com/1ureka/uap/internal/table"
	"github.com/1ureka/uap/internal/timer"
)

// maxWait bounds one wait so cancellation is noticed without a second
// goroutine touching the loop's state.
const maxWait = 100 * time.Millisecond

// serveLoop multiplexes the socket and every session timer on the calling
// goroutine. The only suspension point is ReadFrom, whose deadline is the
// earliest of: the next session deadline, the next sweep, maxWait.
func (s *Server) serveLoop(ctx context.Context) error {
	w := directWriter{conn: s.conn, metrics: s.metrics}
	timers := timer.NewQueue[string]()
	buf := make([]byte, protocol.MaxDatagramSize+1)
	nextSweep := time.Now().Add(s.opts.SweepInterval)

	var err error
	for ctx.Err() == nil {
		wake := time.Now().Add(maxWait)
		if t, ok := timers.Next(); ok && t.Before(wake) {
			wake = t
		}
		if nextSweep.Before(wake) {
			wake = nextSweep
		}
		if err = s.conn.SetReadDeadline(wake); err != nil {
			break
		}

		var msg *protocol.Message
		var from net.Addr
		var ok bool
		msg, from, ok, err = s.read(buf)
		if err != nil {
			if ctx.Err() != nil {
				err = nil
			}
			break
		}
		if ok {
			s.handle(w, timers, msg, from)
		}

		now := time.Now()
		for _, endpoint := range timers.PopDue(now) {
			if e, found := s.table.Lookup(endpoint); found {
				s.settle(w, timers, e, e.Machine.Tick(now))
			}
		}
		if !now.Before(nextSweep) {
			for _, e := range s.table.IdleBeyond(s.opts.Session.InactivityTimeout, now) {
				s.settle(w, timers, e, e.Machine.Expire(now))
			}
			nextSweep = now.Add(s.opts.SweepInterval)
		}
	}

	now := time.Now()
	farewell := []byte(s.opts.Farewell)
	for _, e := range s.table.Drain() {
		s.apply(w, e, e.Machine.Shutdown(now, farewell))
	}
	return err
}

// handle processes one datagram on the loop goroutine.
func (s *Server) handle(w writer, timers *timer.Queue[string], msg *protocol.Message, from net.Addr) {
	endpoint := from.String()
	e, ok := s.table.Lookup(endpoint)
	if !ok {
		if msg.Command != protocol.CmdHello {
			s.refuse(w, msg, from, "no session")
			return
		}
		var err error
		e, _, err = s.table.LookupOrCreate(endpoint, msg.SessionID, func() *table.Entry {
			return s.newEntry(msg, from, 0)
		})
		if err != nil {
			s.refuse(w, msg, from, err.Error())
			return
		}
	}

	now := time.Now()
	if msg.SessionID == e.SessionID {
		e.Touch(now)
	}
	s.settle(w, timers, e, e.Machine.Receive(msg, now))
}

// settle applies r and reschedules or retires the session's timer.
func (s *Server) settle(w writer, timers *timer.Queue[string], e *table.Entry, r session.Result) {
	s.apply(w, e, r)
	if e.Machine.State() == session.Closed {
		timers.Remove(e.Endpoint)
		s.table.Remove(e.SessionID)
		return
	}
	timers.Set(e.Endpoint, e.Machine.Deadline())
}

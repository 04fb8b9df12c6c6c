package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/session"
	"github.com/1ureka/uap/internal/table"
	"github.com/1ureka/uap/internal/timer"
	"github.com/1ureka/uap/internal/util"
)

// serveThreaded runs the reader, the reaper and one worker per session.
// Shutdown order: stop reading, let every worker say goodbye, flush the
// sender, then close the socket (in Serve).
func (s *Server) serveThreaded(ctx context.Context) error {
	snd := newSender(s.conn, s.metrics)

	var workers sync.WaitGroup
	readerDone := make(chan error, 1)
	go func() {
		readerDone <- s.readLoop(ctx, snd, &workers)
	}()

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go s.reap(reaperCtx)

	var err error
	select {
	case <-ctx.Done():
		// unblock the reader
		_ = s.conn.SetReadDeadline(time.Now())
		err = <-readerDone
	case err = <-readerDone:
		util.LogError("reader stopped: %v", err)
	}

	// the reader no longer spawns workers; ctx-cancelled workers shut down
	stopReaper()
	if ctx.Err() == nil {
		for _, e := range s.table.Drain() {
			e.Expire()
		}
	}
	workers.Wait()
	snd.close()
	s.table.Drain()
	return err
}

// readLoop is the dispatcher: decode, look up or create, hand to the worker.
func (s *Server) readLoop(ctx context.Context, snd *sender, workers *sync.WaitGroup) error {
	buf := make([]byte, protocol.MaxDatagramSize+1)
	for {
		msg, from, ok, err := s.read(buf)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		s.dispatch(ctx, snd, workers, msg, from)
	}
}

func (s *Server) dispatch(ctx context.Context, snd *sender, workers *sync.WaitGroup, msg *protocol.Message, from net.Addr) {
	endpoint := from.String()

	e, ok := s.table.Lookup(endpoint)
	if !ok {
		if msg.Command != protocol.CmdHello {
			s.refuse(snd, msg, from, "no session")
			return
		}
		var created bool
		var err error
		e, created, err = s.table.LookupOrCreate(endpoint, msg.SessionID, func() *table.Entry {
			return s.newEntry(msg, from, s.opts.InboxSize)
		})
		if err != nil {
			s.refuse(snd, msg, from, err.Error())
			return
		}
		if created {
			workers.Add(1)
			go func() {
				defer workers.Done()
				s.work(ctx, snd, e)
			}()
		}
	}

	select {
	case e.Inbox <- msg:
		// cross-talk for another session id does not count as activity
		if msg.SessionID == e.SessionID {
			e.Touch(time.Now())
		}
	default:
		util.LogWarning("[%08x] inbox full, dropping %s", e.SessionID, msg.Command)
	}
}

// work is the complete lifecycle of one session in the threaded model. Only
// this goroutine touches e.Machine.
func (s *Server) work(ctx context.Context, snd *sender, e *table.Entry) {
	m := e.Machine
	dl := timer.NewDeadline()

	for {
		var r session.Result
		select {
		case msg := <-e.Inbox:
			r = m.Receive(msg, time.Now())
		case <-dl.Done():
			r = m.Tick(time.Now())
		case <-e.Expired():
			r = m.Expire(time.Now())
		case <-ctx.Done():
			r = m.Shutdown(time.Now(), []byte(s.opts.Farewell))
		}
		s.apply(snd, e, r)

		if m.State() == session.Closed {
			// timer first, so nothing fires against a removed session
			dl.Stop()
			s.table.Remove(e.SessionID)
			return
		}
		dl.Reset(m.Deadline())
	}
}

// reap sweeps the table on a fixed interval, independent of traffic, and
// asks the owner of every idle entry to time it out.
func (s *Server) reap(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			for _, e := range s.table.IdleBeyond(s.opts.Session.InactivityTimeout, now) {
				util.LogDebug("[%08x] idle beyond %s, expiring", e.SessionID, s.opts.Session.InactivityTimeout)
				e.Expire()
			}
		case <-ctx.Done():
			return
		}
	}
}

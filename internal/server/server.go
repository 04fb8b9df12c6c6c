// Package server runs the UAP server: one UDP socket, a session table keyed
// by remote endpoint, and one of two dispatch models.
//
// In the threaded model a reader goroutine decodes datagrams and hands each
// to the worker goroutine that owns the sender's session; a reaper sweeps
// the table for idle entries. In the loop model a single goroutine waits on
// the socket with a read deadline equal to the earliest session timer and
// does everything else itself. Both models drive the same session.Machine
// and acknowledge HELLO the same way, so clients cannot tell them apart.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pion/transport/v4"

	"github.com/1ureka/uap/internal/config"
	"github.com/1ureka/uap/internal/metrics"
	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/session"
	"github.com/1ureka/uap/internal/table"
	"github.com/1ureka/uap/internal/util"
)

// Observer receives every batch of session events, for example the monitor.
type Observer interface {
	Observe(events []session.Event)
}

// Options configures a Server.
type Options struct {
	Session       session.Config
	Model         config.Model
	SweepInterval time.Duration
	InboxSize     int
	Farewell      string

	Output    io.Writer        // protocol log; nil discards it
	Metrics   *metrics.Metrics // nil uses a private registry
	Observers []Observer
}

// OptionsFromConfig derives Options from a validated configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	sc, err := cfg.SessionConfig()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Session:       sc,
		Model:         cfg.Server.Model,
		SweepInterval: cfg.Server.SweepInterval,
		InboxSize:     cfg.Server.InboxSize,
		Farewell:      cfg.Server.Farewell,
	}, nil
}

// Server is a bound UAP server.
type Server struct {
	opts    Options
	conn    net.PacketConn
	table   *table.Table
	clock   *protocol.Clock
	printer *printer
	metrics *metrics.Metrics
}

// Listen binds the UDP socket on nw. Bind failures are startup errors.
func Listen(nw transport.Net, addr string, opts Options) (*Server, error) {
	if err := opts.Session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if opts.Model == "" {
		opts.Model = config.ModelThreaded
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	conn, err := nw.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return &Server{
		opts:    opts,
		conn:    conn,
		table:   table.New(),
		clock:   &protocol.Clock{},
		printer: newPrinter(opts.Output),
		metrics: opts.Metrics,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// AddObserver registers o for every batch of session events. Call it
// before Serve.
func (s *Server) AddObserver(o Observer) {
	s.opts.Observers = append(s.opts.Observers, o)
}

// Table exposes the session table to read-only observers.
func (s *Server) Table() *table.Table {
	return s.table
}

// Serve runs the configured model until ctx is cancelled, then says goodbye
// to every session and closes the socket. It returns nil on a clean stop.
func (s *Server) Serve(ctx context.Context) error {
	defer s.conn.Close()

	port := 0
	if udp, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		port = udp.Port
	}
	s.printer.printf("Waiting on port %d...\n", port)
	util.LogInfo("UAP server listening on %s (%s model, gap policy %s)", s.conn.LocalAddr(), s.opts.Model, s.opts.Session.GapPolicy)

	switch s.opts.Model {
	case config.ModelLoop:
		return s.serveLoop(ctx)
	default:
		return s.serveThreaded(ctx)
	}
}

// ---------------------------------------------------------------------------
// Shared between the models
// ---------------------------------------------------------------------------

// read waits for one datagram and decodes it. ok is false when nothing
// usable arrived; err is set only for errors other than a read timeout.
func (s *Server) read(buf []byte) (msg *protocol.Message, from net.Addr, ok bool, err error) {
	n, from, err := s.conn.ReadFrom(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}

	msg, err = protocol.Decode(buf[:n])
	if err != nil {
		s.metrics.Malformed()
		util.LogDebug("discarding datagram from %s: %v", from, err)
		return nil, nil, false, nil
	}
	s.metrics.Received(msg, n, time.Now())
	return msg, from, true, nil
}

// refuse answers a non-HELLO message for an unknown session with GOODBYE.
func (s *Server) refuse(w writer, msg *protocol.Message, from net.Addr, why string) {
	util.LogDebug("[%08x] refusing %s from %s: %s", msg.SessionID, msg.Command, from, why)
	w.write(from, session.Refuse(msg, s.clock, time.Now()))
}

// newEntry builds the table entry for a HELLO from addr.
func (s *Server) newEntry(msg *protocol.Message, addr net.Addr, inboxSize int) *table.Entry {
	m := session.NewServer(msg.SessionID, addr.String(), s.opts.Session, session.WithClock(s.clock))
	return table.NewEntry(addr, m, inboxSize, time.Now())
}

// apply carries out a transition: send, print, count, publish.
func (s *Server) apply(w writer, e *table.Entry, r session.Result) {
	for _, out := range r.Outbound {
		w.write(e.Addr, out)
	}
	s.printer.report(r)
	s.metrics.Observe(r.Events)
	for _, o := range s.opts.Observers {
		o.Observe(r.Events)
	}
	e.SetState(e.Machine.State())
}

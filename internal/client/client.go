// Package client runs the UAP client: one session, owned by one worker
// goroutine that is fed by a socket reader and an input reader.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pion/transport/v4"

	"github.com/1ureka/uap/internal/input"
	"github.com/1ureka/uap/internal/metrics"
	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/session"
	"github.com/1ureka/uap/internal/timer"
	"github.com/1ureka/uap/internal/util"
)

const inboundBufferSize = 64 // decoded datagrams waiting for the worker

// ErrNoServer is returned by Run when the server never acknowledged HELLO.
var ErrNoServer = errors.New("server did not answer HELLO")

// Options configures a Client.
type Options struct {
	Session   session.Config
	SessionID uint32        // 0 picks a random id
	LocalAddr string        // defaults to 0.0.0.0:0
	SendDelay time.Duration // pause between lines of input

	Output  io.Writer        // delivered server payloads and "eof"; nil discards
	Metrics *metrics.Metrics // nil uses a private registry
}

// Client is a bound UAP client for one server.
type Client struct {
	opts    Options
	conn    net.PacketConn
	server  *net.UDPAddr
	machine *session.Machine
	out     io.Writer
}

// Dial resolves the server and binds a local socket on nw. Nothing is sent
// until Run.
func Dial(nw transport.Net, serverAddr string, opts Options) (*Client, error) {
	if err := opts.Session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if opts.SessionID == 0 {
		opts.SessionID = util.NewSessionID()
	}
	if opts.LocalAddr == "" {
		opts.LocalAddr = "0.0.0.0:0"
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}

	raddr, err := nw.ResolveUDPAddr("udp4", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", serverAddr, err)
	}
	conn, err := nw.ListenPacket("udp4", opts.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", opts.LocalAddr, err)
	}

	return &Client{
		opts:    opts,
		conn:    conn,
		server:  raddr,
		machine: session.NewClient(opts.SessionID, opts.Session),
		out:     out,
	}, nil
}

// SessionID returns the id this client announces in HELLO.
func (c *Client) SessionID() uint32 {
	return c.machine.ID()
}

// State returns the session state. Only meaningful once Run has returned.
func (c *Client) State() session.State {
	return c.machine.State()
}

// Run performs the whole session: HELLO, one DATA per input line once the
// session is established, GOODBYE at end of input, then waits for the
// server's GOODBYE or the close timeout. Cancelling ctx sends GOODBYE and
// returns at once. The socket is closed on return.
func (c *Client) Run(ctx context.Context, in *input.Reader) error {
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	inbound := make(chan *protocol.Message, inboundBufferSize)
	go func() {
		defer close(readerDone)
		c.readLoop(inbound, stop)
	}()
	defer func() {
		close(stop)
		c.conn.Close()
		<-readerDone
	}()

	util.LogInfo("[%08x] connecting to %s", c.SessionID(), c.server)
	r, err := c.machine.Open(time.Now())
	if err != nil {
		return err
	}
	c.apply(r)

	var (
		lines     chan []byte
		inputDone chan error
		reason    session.Reason
		dl        = timer.NewDeadline()
	)
	defer dl.Stop()

	for c.machine.State() != session.Closed {
		dl.Reset(c.machine.Deadline())

		var r session.Result
		select {
		case msg := <-inbound:
			r = c.machine.Receive(msg, time.Now())

		case <-dl.Done():
			r = c.machine.Tick(time.Now())

		case line := <-lines:
			var err error
			r, err = c.machine.Send(line, time.Now())
			if err != nil {
				util.LogWarning("[%08x] line not sent: %v", c.SessionID(), err)
			}

		case err := <-inputDone:
			if !errors.Is(err, io.EOF) && !errors.Is(err, input.ErrQuit) {
				util.LogError("[%08x] input error: %v", c.SessionID(), err)
			}
			lines, inputDone = nil, nil
			r = c.machine.Close(time.Now())
			fmt.Fprintln(c.out, "eof")

		case <-ctx.Done():
			r = c.machine.Shutdown(time.Now(), nil)
		}
		c.apply(r)

		for _, e := range r.Events {
			switch e.Kind {
			case session.EventTimedOut:
				reason = e.Reason
			case session.EventClosed:
				// a timeout names the cause better than the close that follows it
				if reason == session.ReasonNone {
					reason = e.Reason
				}
			}
		}
		// input starts once the server has acknowledged us
		if lines == nil && inputDone == nil && r.Has(session.EventEstablished) {
			lines, inputDone = make(chan []byte), make(chan error, 1)
			go c.readInput(in, lines, inputDone, stop)
		}
	}

	switch reason {
	case session.ReasonHello:
		return ErrNoServer
	case session.ReasonInactivity, session.ReasonAck:
		util.LogWarning("[%08x] session terminated: %s", c.SessionID(), reason)
	default:
		util.LogInfo("[%08x] session closed (%s)", c.SessionID(), reason)
	}
	return nil
}

// readInput feeds lines to the worker, then reports why input ended.
func (c *Client) readInput(in *input.Reader, lines chan<- []byte, done chan<- error, stop <-chan struct{}) {
	for {
		line, err := in.Next()
		if err != nil {
			done <- err
			return
		}
		select {
		case lines <- line:
		case <-stop:
			return
		}
		if c.opts.SendDelay > 0 {
			time.Sleep(c.opts.SendDelay)
		}
	}
}

// readLoop decodes datagrams from the server until the socket is closed.
func (c *Client) readLoop(out chan<- *protocol.Message, stop <-chan struct{}) {
	buf := make([]byte, protocol.MaxDatagramSize+1)
	for {
		n, from, err := c.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-stop:
				// shutting down
			default:
				util.LogDebug("[%08x] read error: %v", c.SessionID(), err)
			}
			return
		}
		if from.String() != c.server.String() {
			util.LogDebug("[%08x] ignoring datagram from %s", c.SessionID(), from)
			continue
		}

		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			c.opts.Metrics.Malformed()
			util.LogDebug("[%08x] discarding datagram: %v", c.SessionID(), err)
			continue
		}
		c.opts.Metrics.Received(msg, n, time.Now())

		select {
		case out <- msg:
		case <-stop:
			return
		}
	}
}

// apply sends r's messages and prints what the user should see.
func (c *Client) apply(r session.Result) {
	for _, msg := range r.Outbound {
		data, err := protocol.Encode(msg)
		if err != nil {
			util.LogError("[%08x] failed to encode %s: %v", msg.SessionID, msg.Command, err)
			continue
		}
		if _, err := c.conn.WriteTo(data, c.server); err != nil {
			util.LogError("[%08x] failed to send %s: %v", msg.SessionID, msg.Command, err)
			continue
		}
		c.opts.Metrics.Sent(msg.Command, len(data))
	}

	for _, d := range r.Deliveries {
		fmt.Fprintln(c.out, string(d.Payload))
	}
	for _, e := range r.Events {
		switch e.Kind {
		case session.EventGoodbye:
			fmt.Fprintln(c.out, "GOODBYE received from server")
		case session.EventEstablished:
			util.LogInfo("[%08x] session established", e.SessionID)
		case session.EventDuplicate, session.EventOutOfOrder, session.EventLost, session.EventRejected, session.EventTimedOut:
			util.LogDebug("[%08x] %s seq=%d %s", e.SessionID, e.Kind, e.Seq, e.Reason)
		}
	}
	c.opts.Metrics.Observe(r.Events)
}

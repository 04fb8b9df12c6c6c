package server

import (
	"net"
	"sync"

	"github.com/1ureka/uap/internal/metrics"
	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/util"
)

const sendBufferSize = 256 // outgoing datagram channel capacity

// writer delivers one outbound message to a peer.
type writer interface {
	write(to net.Addr, msg *protocol.Message)
}

// writeDatagram encodes msg and writes it to conn. Failures are logged and
// returned to the caller; the session is unaffected.
func writeDatagram(conn net.PacketConn, m *metrics.Metrics, to net.Addr, msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		util.LogError("[%08x] failed to encode %s: %v", msg.SessionID, msg.Command, err)
		return err
	}
	if _, err := conn.WriteTo(data, to); err != nil {
		util.LogError("[%08x] failed to send %s to %s: %v", msg.SessionID, msg.Command, to, err)
		return err
	}
	m.Sent(msg.Command, len(data))
	return nil
}

// directWriter writes on the calling goroutine. Used by the dispatch loop,
// where a UDP write never blocks for long.
type directWriter struct {
	conn    net.PacketConn
	metrics *metrics.Metrics
}

func (w directWriter) write(to net.Addr, msg *protocol.Message) {
	_ = writeDatagram(w.conn, w.metrics, to, msg)
}

// ---------------------------------------------------------------------------
// sender
// ---------------------------------------------------------------------------

type outbound struct {
	to  net.Addr
	msg *protocol.Message
}

// sender is a goroutine-based datagram writer that serializes all socket
// writes of the threaded model.
type sender struct {
	conn    net.PacketConn
	metrics *metrics.Metrics
	inbox   chan outbound
	done    chan struct{}

	closeOnce sync.Once
}

// newSender creates a sender and starts its loop.
func newSender(conn net.PacketConn, m *metrics.Metrics) *sender {
	s := &sender{
		conn:    conn,
		metrics: m,
		inbox:   make(chan outbound, sendBufferSize),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

// loop is the single-writer goroutine. It drains the inbox until close.
func (s *sender) loop() {
	defer close(s.done)
	for out := range s.inbox {
		_ = writeDatagram(s.conn, s.metrics, out.to, out.msg)
	}
}

// write enqueues a message. It blocks while the buffer is full; callers
// must stop writing before close.
func (s *sender) write(to net.Addr, msg *protocol.Message) {
	s.inbox <- outbound{to: to, msg: msg}
}

// close flushes everything queued and waits for the loop to exit.
func (s *sender) close() {
	s.closeOnce.Do(func() { close(s.inbox) })
	<-s.done
}

package server

import (
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/1ureka/uap/internal/metrics"
	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/seq"
	"github.com/1ureka/uap/internal/session"
)

func TestPrinterReport(t *testing.T) {
	const id = 0x0000abcd
	tests := []struct {
		name string
		r    session.Result
		want string
	}{
		{
			name: "created",
			r:    session.Result{Events: []session.Event{{Kind: session.EventCreated, SessionID: id}}},
			want: "0x0000abcd [0] Session created\n",
		},
		{
			name: "deliveries pair with events",
			r: session.Result{
				Deliveries: []session.Delivery{{Seq: 1, Payload: []byte("five")}, {Seq: 2, Payload: []byte("two")}},
				Events: []session.Event{
					{Kind: session.EventDelivered, SessionID: id, Seq: 1},
					{Kind: session.EventDelivered, SessionID: id, Seq: 2},
				},
			},
			want: "0x0000abcd [1] five\n0x0000abcd [2] two\n",
		},
		{
			name: "one line per lost number",
			r: session.Result{Events: []session.Event{
				{Kind: session.EventLost, SessionID: id, Range: seq.Range{From: 2, To: 4}},
			}},
			want: "0x0000abcd [2] Lost packet!\n0x0000abcd [3] Lost packet!\n",
		},
		{
			name: "wide gap is one range line",
			r: session.Result{Events: []session.Event{
				{Kind: session.EventLost, SessionID: id, Range: seq.Range{From: 1, To: 0xFFFFFFFF}},
			}},
			want: "0x0000abcd [1..4294967294] Lost packets!\n",
		},
		{
			name: "gap at the line limit is still itemised",
			r: session.Result{Events: []session.Event{
				{Kind: session.EventLost, SessionID: id, Range: seq.Range{From: 10, To: 10 + lostLineLimit}},
			}},
			want: lostLines(id, 10, 10+lostLineLimit),
		},
		{
			name: "duplicate",
			r:    session.Result{Events: []session.Event{{Kind: session.EventDuplicate, SessionID: id, Seq: 1}}},
			want: "0x0000abcd [1] Duplicate packet!\n",
		},
		{
			name: "buffered is not printed",
			r: session.Result{Events: []session.Event{
				{Kind: session.EventOutOfOrder, SessionID: id, Seq: 5, Buffered: true, Range: seq.Range{From: 3, To: 5}},
			}},
			want: "",
		},
		{
			name: "dropped",
			r:    session.Result{Events: []session.Event{{Kind: session.EventOutOfOrder, SessionID: id, Seq: 5}}},
			want: "0x0000abcd [5] Out-of-order packet dropped!\n",
		},
		{
			name: "goodbye then closed",
			r: session.Result{Events: []session.Event{
				{Kind: session.EventGoodbye, SessionID: id, Seq: 4},
				{Kind: session.EventClosed, SessionID: id, Reason: session.ReasonGoodbye},
			}},
			want: "0x0000abcd [4] GOODBYE from client.\n0x0000abcd Session closed\n",
		},
		{
			name: "timeouts go to the debug log",
			r: session.Result{Events: []session.Event{
				{Kind: session.EventTimedOut, SessionID: id, Reason: session.ReasonInactivity},
			}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newPrinter(&buf).report(tt.r)
			if got := buf.String(); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func lostLines(id uint32, from, to uint64) string {
	var b bytes.Buffer
	for n := from; n < to; n++ {
		fmt.Fprintf(&b, "0x%08x [%d] Lost packet!\n", id, n)
	}
	return b.String()
}

func TestSenderFlushesOnClose(t *testing.T) {
	recv, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer recv.Close()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	snd := newSender(conn, metrics.New(nil))
	const n = 10
	for i := 0; i < n; i++ {
		snd.write(recv.LocalAddr(), &protocol.Message{Command: protocol.CmdAlive, Seq: uint32(i), SessionID: 1})
	}
	snd.close()
	snd.close() // idempotent

	_ = recv.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, protocol.MaxDatagramSize)
	for i := 0; i < n; i++ {
		nr, _, err := recv.ReadFrom(buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		msg, err := protocol.Decode(buf[:nr])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Seq != uint32(i) {
			t.Fatalf("datagram %d has seq %d", i, msg.Seq)
		}
	}
}

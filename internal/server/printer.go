package server

import (
	"fmt"
	"io"
	"sync"

	"github.com/1ureka/uap/internal/session"
	"github.com/1ureka/uap/internal/util"
)

// lostLineLimit is the widest gap still reported one number per line.
const lostLineLimit = 16

// printer writes the server's protocol log, one line per event:
//
//	0x0000abcd [0] Session created
//	0x0000abcd [1] five
//	0x0000abcd [1] Duplicate packet!
//	0x0000abcd [2] Lost packet!
//	0x0000abcd [3..99] Lost packets!
//	0x0000abcd [3] GOODBYE from client.
//	0x0000abcd Session closed
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	if w == nil {
		w = io.Discard
	}
	return &printer{w: w}
}

func (p *printer) printf(format string, args ...interface{}) {
	p.mu.Lock()
	fmt.Fprintf(p.w, format, args...)
	p.mu.Unlock()
}

// report prints r's events. Delivered events take their payload from
// r.Deliveries, which is in the same order.
func (p *printer) report(r session.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := 0
	for _, e := range r.Events {
		switch e.Kind {
		case session.EventCreated:
			fmt.Fprintf(p.w, "0x%08x [%d] Session created\n", e.SessionID, e.Seq)

		case session.EventDelivered:
			text := ""
			if next < len(r.Deliveries) {
				text = string(r.Deliveries[next].Payload)
				next++
			}
			fmt.Fprintf(p.w, "0x%08x [%d] %s\n", e.SessionID, e.Seq, text)

		case session.EventDuplicate:
			fmt.Fprintf(p.w, "0x%08x [%d] Duplicate packet!\n", e.SessionID, e.Seq)

		case session.EventLost:
			if e.Range.Len() > lostLineLimit {
				fmt.Fprintf(p.w, "0x%08x [%d..%d] Lost packets!\n", e.SessionID, e.Range.From, e.Range.To-1)
				continue
			}
			for n := e.Range.From; n < e.Range.To; n++ {
				fmt.Fprintf(p.w, "0x%08x [%d] Lost packet!\n", e.SessionID, n)
			}

		case session.EventOutOfOrder:
			if e.Buffered {
				util.LogDebug("[%08x] seq %d buffered, waiting for %d..%d", e.SessionID, e.Seq, e.Range.From, e.Range.To-1)
				continue
			}
			fmt.Fprintf(p.w, "0x%08x [%d] Out-of-order packet dropped!\n", e.SessionID, e.Seq)

		case session.EventGoodbye:
			fmt.Fprintf(p.w, "0x%08x [%d] GOODBYE from client.\n", e.SessionID, e.Seq)

		case session.EventClosed:
			fmt.Fprintf(p.w, "0x%08x Session closed\n", e.SessionID)

		case session.EventTimedOut, session.EventRejected:
			util.LogDebug("[%08x] %s (%s) seq=%d", e.SessionID, e.Kind, e.Reason, e.Seq)
		}
	}
}

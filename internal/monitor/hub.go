package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/uap/internal/session"
	"github.com/1ureka/uap/internal/util"
)

const (
	subscriberBuffer = 64 // queued events per websocket before it is dropped
	writeWait        = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventJSON is the wire shape of one session event on /events.
type eventJSON struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	Seq       uint32    `json:"seq"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

func toJSON(e session.Event) eventJSON {
	j := eventJSON{
		Kind:      e.Kind.String(),
		SessionID: fmt.Sprintf("0x%08x", e.SessionID),
		Seq:       e.Seq,
		At:        e.At,
	}
	if e.Reason != session.ReasonNone {
		j.Reason = e.Reason.String()
	}
	return j
}

// hub fans session events out to websocket subscribers. A subscriber that
// falls behind is disconnected rather than allowed to stall the server.
type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

// publish is called on the session's goroutine and never blocks.
func (h *hub) publish(events []session.Event) {
	if len(events) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return
	}

	for _, e := range events {
		data, err := json.Marshal(toJSON(e))
		if err != nil {
			util.LogError("monitor: failed to encode event: %v", err)
			continue
		}
		for s := range h.subs {
			select {
			case s.send <- data:
			default:
				util.LogWarning("monitor: subscriber %s too slow, dropping", s.conn.RemoteAddr())
				h.removeLocked(s)
			}
		}
	}
}

func (h *hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	h.removeLocked(s)
	h.mu.Unlock()
}

func (h *hub) removeLocked(s *subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	s.once.Do(func() { close(s.send) })
}

// closeAll disconnects every subscriber.
func (h *hub) closeAll() {
	h.mu.Lock()
	for s := range h.subs {
		h.removeLocked(s)
	}
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// serveWS upgrades the request and streams events until either side leaves.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s := &subscriber{conn: conn, send: make(chan []byte, subscriberBuffer)}
	h.add(s)

	// reader: only to notice the peer going away
	go func() {
		defer h.remove(s)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	for data := range s.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(s)
			// drain so publish never sees a full channel for a dead peer
			for range s.send {
			}
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
}

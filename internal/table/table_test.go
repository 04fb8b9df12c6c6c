package table

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/1ureka/uap/internal/protocol"
	"github.com/1ureka/uap/internal/session"
)

var t0 = time.Unix(1_700_000_000, 0)

func addr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func newEntry(port int, id uint32, now time.Time) func() *Entry {
	return func() *Entry {
		m := session.NewServer(id, addr(port).String(), session.DefaultConfig())
		return NewEntry(addr(port), m, 4, now)
	}
}

func TestLookupOrCreate(t *testing.T) {
	tbl := New()

	e, created, err := tbl.LookupOrCreate(addr(1000).String(), 1, newEntry(1000, 1, t0))
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}
	again, created, err := tbl.LookupOrCreate(addr(1000).String(), 1, newEntry(1000, 1, t0))
	if err != nil || created || again != e {
		t.Fatalf("second call: created=%v err=%v same=%v", created, err, again == e)
	}
	if got, ok := tbl.Lookup(addr(1000).String()); !ok || got != e {
		t.Fatal("Lookup did not find the entry")
	}
	if cap(e.Inbox) != 4 {
		t.Fatalf("inbox capacity: got %d", cap(e.Inbox))
	}
}

func TestSessionIDBoundToOneEndpoint(t *testing.T) {
	tbl := New()
	tbl.LookupOrCreate(addr(1000).String(), 7, newEntry(1000, 7, t0))

	_, _, err := tbl.LookupOrCreate(addr(2000).String(), 7, newEntry(2000, 7, t0))
	if !errors.Is(err, ErrSessionIDInUse) {
		t.Fatalf("got %v", err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len: got %d", tbl.Len())
	}
}

// TestConcurrentCreateOnePerEndpoint races many creators on the same
// endpoints and checks each endpoint ends up with exactly one entry.
func TestConcurrentCreateOnePerEndpoint(t *testing.T) {
	tbl := New()
	var creates atomic.Int32
	var wg sync.WaitGroup

	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for port := 1000; port < 1010; port++ {
				_, created, err := tbl.LookupOrCreate(addr(port).String(), uint32(port), newEntry(port, uint32(port), t0))
				if err != nil {
					t.Error(err)
					return
				}
				if created {
					creates.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if creates.Load() != 10 || tbl.Len() != 10 {
		t.Fatalf("creates=%d len=%d, want 10", creates.Load(), tbl.Len())
	}
}

// TestRemoveExactlyOnce races graceful close against reaping.
func TestRemoveExactlyOnce(t *testing.T) {
	tbl := New()
	tbl.LookupOrCreate(addr(1000).String(), 42, newEntry(1000, 42, t0))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tbl.Remove(42) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("Remove returned true %d times", wins.Load())
	}
	if _, ok := tbl.Lookup(addr(1000).String()); ok {
		t.Fatal("entry still present")
	}
	// the endpoint is free for a new session
	if _, created, _ := tbl.LookupOrCreate(addr(1000).String(), 43, newEntry(1000, 43, t0)); !created {
		t.Fatal("endpoint not reusable after removal")
	}
}

func TestIdleBeyond(t *testing.T) {
	tbl := New()
	fresh, _, _ := tbl.LookupOrCreate(addr(1000).String(), 1, newEntry(1000, 1, t0))
	tbl.LookupOrCreate(addr(2000).String(), 2, newEntry(2000, 2, t0))

	fresh.Touch(t0.Add(10 * time.Second))

	idle := tbl.IdleBeyond(5*time.Second, t0.Add(12*time.Second))
	if len(idle) != 1 || idle[0].SessionID != 2 {
		t.Fatalf("idle: got %d entries", len(idle))
	}
	// exactly at the threshold is not beyond it
	if idle := tbl.IdleBeyond(5*time.Second, t0.Add(5*time.Second)); len(idle) != 0 {
		t.Fatalf("idle at threshold: got %d", len(idle))
	}
}

// TestIndependentEntries verifies traffic for one endpoint never touches
// another endpoint's session.
func TestIndependentEntries(t *testing.T) {
	tbl := New()
	a, _, _ := tbl.LookupOrCreate(addr(1000).String(), 1, newEntry(1000, 1, t0))
	b, _, _ := tbl.LookupOrCreate(addr(2000).String(), 2, newEntry(2000, 2, t0))

	a.Machine.Receive(&protocol.Message{Command: protocol.CmdHello, SessionID: 1}, t0)
	b.Machine.Receive(&protocol.Message{Command: protocol.CmdHello, SessionID: 2}, t0)
	for n := uint32(1); n <= 5; n++ {
		a.Machine.Receive(&protocol.Message{Command: protocol.CmdData, Seq: n, SessionID: 1, Payload: []byte("a")}, t0)
	}
	// traffic addressed to B but carrying A's id is rejected by B
	r := b.Machine.Receive(&protocol.Message{Command: protocol.CmdData, Seq: 1, SessionID: 1}, t0)
	if !r.Has(session.EventRejected) {
		t.Fatal("cross-session message accepted")
	}

	if a.Machine.Expected() != 6 || b.Machine.Expected() != 1 {
		t.Fatalf("expected: a=%d b=%d", a.Machine.Expected(), b.Machine.Expected())
	}
}

func TestSnapshotAndDrain(t *testing.T) {
	tbl := New()
	for _, id := range []uint32{3, 1, 2} {
		port := 1000 + int(id)
		e, _, _ := tbl.LookupOrCreate(addr(port).String(), id, newEntry(port, id, t0))
		e.SetState(session.Active)
	}

	snap := tbl.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot: got %d", len(snap))
	}
	for i, info := range snap {
		if info.SessionID != uint32(i+1) || info.State != "active" {
			t.Fatalf("snapshot[%d] = %+v", i, info)
		}
	}

	drained := tbl.Drain()
	if len(drained) != 3 || tbl.Len() != 0 {
		t.Fatalf("drained=%d len=%d", len(drained), tbl.Len())
	}
	if tbl.Remove(1) {
		t.Fatal("Remove after Drain reported success")
	}
}

func TestEntryExpireIdempotent(t *testing.T) {
	e := newEntry(1000, 1, t0)()
	e.Expire()
	e.Expire()
	select {
	case <-e.Expired():
	default:
		t.Fatal("Expired not closed")
	}
}

func BenchmarkLookup(b *testing.B) {
	tbl := New()
	for port := 0; port < 1024; port++ {
		tbl.LookupOrCreate(addr(port).String(), uint32(port), newEntry(port, uint32(port), t0))
	}
	keys := make([]string, 1024)
	for i := range keys {
		keys[i] = fmt.Sprintf("127.0.0.1:%d", i)
	}

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			tbl.Lookup(keys[i%len(keys)])
			i++
		}
	})
}

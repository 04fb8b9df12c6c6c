// Package table is the server's session table: the one structure shared
// between the datagram reader, the per-session workers and the idle sweep.
//
// Mutations (create, remove, drain) take the write lock; lookups and sweeps
// take the read lock and may run concurrently with each other. The table is
// created at server start and drained at server shutdown.
package table

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrSessionIDInUse is returned when a new endpoint claims a session id that
// is already bound to another endpoint.
var ErrSessionIDInUse = errors.New("session id already bound to another endpoint")

// Info is a read-only view of one entry.
type Info struct {
	SessionID    uint32    `json:"session_id"`
	Endpoint     string    `json:"endpoint"`
	State        string    `json:"state"`
	Created      time.Time `json:"created"`
	LastActivity time.Time `json:"last_activity"`
}

// Table maps remote endpoints to session entries.
type Table struct {
	mu         sync.RWMutex
	byEndpoint map[string]*Entry
	byID       map[uint32]*Entry
}

// New creates an empty table.
func New() *Table {
	return &Table{
		byEndpoint: make(map[string]*Entry),
		byID:       make(map[uint32]*Entry),
	}
}

// Lookup returns the entry bound to endpoint.
func (t *Table) Lookup(endpoint string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byEndpoint[endpoint]
	return e, ok
}

// LookupOrCreate returns the entry bound to endpoint, creating it with create
// when there is none. The boolean reports whether create was called.
func (t *Table) LookupOrCreate(endpoint string, id uint32, create func() *Entry) (*Entry, bool, error) {
	if e, ok := t.Lookup(endpoint); ok {
		return e, false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// re-check: another goroutine may have created it between the locks
	if e, ok := t.byEndpoint[endpoint]; ok {
		return e, false, nil
	}
	if _, taken := t.byID[id]; taken {
		return nil, false, ErrSessionIDInUse
	}

	e := create()
	t.byEndpoint[endpoint] = e
	t.byID[e.SessionID] = e
	return e, true, nil
}

// Remove deletes the entry for sessionID. It returns true exactly once per
// entry, so graceful close and reaping can never both tear a session down.
func (t *Table) Remove(sessionID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[sessionID]
	if !ok {
		return false
	}
	delete(t.byID, sessionID)
	delete(t.byEndpoint, e.Endpoint)
	return true
}

// IdleBeyond returns every entry whose last activity is more than threshold
// before now.
func (t *Table) IdleBeyond(threshold time.Duration, now time.Time) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var idle []*Entry
	for _, e := range t.byEndpoint {
		if now.Sub(e.LastActivity()) > threshold {
			idle = append(idle, e)
		}
	}
	return idle
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byEndpoint)
}

// Snapshot returns an Info per entry, ordered by session id.
func (t *Table) Snapshot() []Info {
	t.mu.RLock()
	out := make([]Info, 0, len(t.byEndpoint))
	for _, e := range t.byEndpoint {
		out = append(out, e.Info())
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Drain empties the table and returns what it held.
func (t *Table) Drain() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Entry, 0, len(t.byEndpoint))
	for _, e := range t.byEndpoint {
		out = append(out, e)
	}
	t.byEndpoint = make(map[string]*Entry)
	t.byID = make(map[uint32]*Entry)
	return out
}

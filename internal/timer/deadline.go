// Package timer drives keepalive emission and inactivity detection.
//
// Every session has exactly one deadline, recomputed by the state machine on
// each event. Deadline serves the worker-per-session model; Queue serves the
// single-dispatch loop, where one goroutine waits on the earliest deadline of
// all sessions.
package timer

import (
	"time"

	"github.com/pion/transport/v4/deadline"
)

// Deadline is a resettable one-shot timer for one session.
type Deadline struct {
	d *deadline.Deadline
}

// NewDeadline returns a stopped deadline.
func NewDeadline() *Deadline {
	return &Deadline{d: deadline.New()}
}

// Reset re-arms the timer to fire at t, discarding any pending expiry.
// A zero t stops it. A t in the past fires immediately.
func (d *Deadline) Reset(t time.Time) {
	d.d.Set(t)
}

// Done returns a channel closed when the current deadline passes. The
// channel changes after a Reset that follows an expiry, so callers must
// fetch it again on every wait.
func (d *Deadline) Done() <-chan struct{} {
	return d.d.Done()
}

// When returns the armed deadline, if any.
func (d *Deadline) When() (time.Time, bool) {
	return d.d.Deadline()
}

// Stop cancels the timer. Safe to call more than once.
func (d *Deadline) Stop() {
	d.d.Set(time.Time{})
}

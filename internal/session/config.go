package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/uap/internal/seq"
)

// Default timings. InactivityTimeout matches the UAP_SESSION_TIMEOUT default.
const (
	DefaultAliveInterval     = 5 * time.Second
	DefaultInactivityTimeout = 15 * time.Second
	DefaultHelloTimeout      = 2 * time.Second
	DefaultCloseTimeout      = 2 * time.Second
	DefaultAckTimeout        = 2 * time.Second
)

// ErrTimeoutOrder is returned by Validate when sessions would time out
// between their own keepalives.
var ErrTimeoutOrder = errors.New("inactivity timeout must be greater than alive interval")

// Config holds the per-session timing and sequencing parameters.
type Config struct {
	AliveInterval     time.Duration // idle time before an ALIVE is emitted
	InactivityTimeout time.Duration // silence from the peer before the session times out
	HelloTimeout      time.Duration // client: wait for the HELLO acknowledgment
	CloseTimeout      time.Duration // wait for the peer's GOODBYE after a local close
	AckTimeout        time.Duration // client: wait for any reply after DATA; 0 disables

	GapPolicy seq.GapPolicy
	Window    uint // reorder window, GapReorder only
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		AliveInterval:     DefaultAliveInterval,
		InactivityTimeout: DefaultInactivityTimeout,
		HelloTimeout:      DefaultHelloTimeout,
		CloseTimeout:      DefaultCloseTimeout,
		AckTimeout:        DefaultAckTimeout,
		GapPolicy:         seq.GapSkip,
		Window:            seq.DefaultWindow,
	}
}

// Validate checks the timer contract.
func (c Config) Validate() error {
	for name, d := range map[string]time.Duration{
		"alive interval":     c.AliveInterval,
		"inactivity timeout": c.InactivityTimeout,
		"hello timeout":      c.HelloTimeout,
		"close timeout":      c.CloseTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.AckTimeout < 0 {
		return fmt.Errorf("ack timeout must not be negative, got %s", c.AckTimeout)
	}
	if c.InactivityTimeout <= c.AliveInterval {
		return fmt.Errorf("%w (%s <= %s)", ErrTimeoutOrder, c.InactivityTimeout, c.AliveInterval)
	}
	return nil
}

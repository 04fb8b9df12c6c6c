// Package config holds the runtime configuration: defaults, an optional YAML
// file, the UAP_* environment overrides and, last, command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/1ureka/uap/internal/seq"
	"github.com/1ureka/uap/internal/session"
)

// Model selects the server's dispatch model.
type Model string

const (
	ModelThreaded Model = "threaded" // reader + one worker per session
	ModelLoop     Model = "loop"     // one goroutine multiplexing socket and timers
)

// Environment variables honoured on top of the file.
const (
	EnvSessionTimeout = "UAP_SESSION_TIMEOUT"  // seconds, inactivity timeout
	EnvFileSendDelay  = "UAP_FILE_SEND_DELAY" // seconds between lines of piped input
)

// aliveDivisor sets the keepalive used when UAP_SESSION_TIMEOUT undercuts
// the default alive interval: several ALIVEs fit in one timeout.
const aliveDivisor = 3

// DefaultFarewell is the DATA payload sent to every session on server quit.
const DefaultFarewell = "Good bye from server"

// Config is the whole configuration tree.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Monitor MonitorConfig `yaml:"monitor"`
	Debug   bool          `yaml:"debug"`
}

// SessionConfig mirrors session.Config in file form.
type SessionConfig struct {
	AliveInterval     time.Duration `yaml:"alive_interval"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	HelloTimeout      time.Duration `yaml:"hello_timeout"`
	CloseTimeout      time.Duration `yaml:"close_timeout"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	GapPolicy         string        `yaml:"gap_policy"`
	Window            uint          `yaml:"window"`
}

// ServerConfig holds server-only settings.
type ServerConfig struct {
	Model          Model         `yaml:"model"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	InboxSize      int           `yaml:"inbox_size"`
	Farewell       string        `yaml:"farewell"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// ClientConfig holds client-only settings.
type ClientConfig struct {
	SendDelay time.Duration `yaml:"send_delay"`
}

// MonitorConfig configures the optional HTTP monitor. Empty Addr disables it.
type MonitorConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	sc := session.DefaultConfig()
	return &Config{
		Session: SessionConfig{
			AliveInterval:     sc.AliveInterval,
			InactivityTimeout: sc.InactivityTimeout,
			HelloTimeout:      sc.HelloTimeout,
			CloseTimeout:      sc.CloseTimeout,
			AckTimeout:        sc.AckTimeout,
			GapPolicy:         sc.GapPolicy.String(),
			Window:            sc.Window,
		},
		Server: ServerConfig{
			Model:          ModelThreaded,
			SweepInterval:  time.Second,
			InboxSize:      64,
			Farewell:       DefaultFarewell,
			ReportInterval: 10 * time.Second,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if any)
// and then with the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("invalid config format in %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies the UAP_* overrides found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSessionTimeout); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSessionTimeout, err)
		}
		c.Session.InactivityTimeout = d
		// a short timeout pulls the default keepalive in below it
		if d > 0 && d <= c.Session.AliveInterval && c.Session.AliveInterval == session.DefaultAliveInterval {
			c.Session.AliveInterval = d / aliveDivisor
		}
	}
	if v, ok := lookup(EnvFileSendDelay); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFileSendDelay, err)
		}
		c.Client.SendDelay = d
	}
	return nil
}

// parseSeconds accepts "15", "2.5" or a Go duration such as "1500ms".
func parseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// SessionConfig converts the file form into a validated session.Config.
func (c *Config) SessionConfig() (session.Config, error) {
	policy, err := seq.ParseGapPolicy(c.Session.GapPolicy)
	if err != nil {
		return session.Config{}, err
	}
	sc := session.Config{
		AliveInterval:     c.Session.AliveInterval,
		InactivityTimeout: c.Session.InactivityTimeout,
		HelloTimeout:      c.Session.HelloTimeout,
		CloseTimeout:      c.Session.CloseTimeout,
		AckTimeout:        c.Session.AckTimeout,
		GapPolicy:         policy,
		Window:            c.Session.Window,
	}
	if err := sc.Validate(); err != nil {
		return session.Config{}, err
	}
	return sc, nil
}

// Validate checks the whole tree. Violations are startup errors.
func (c *Config) Validate() error {
	if _, err := c.SessionConfig(); err != nil {
		return err
	}
	switch c.Server.Model {
	case ModelThreaded, ModelLoop:
	default:
		return fmt.Errorf("unknown server model %q (want %s or %s)", c.Server.Model, ModelThreaded, ModelLoop)
	}
	if c.Server.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.Server.InboxSize <= 0 {
		return errors.New("inbox size must be positive")
	}
	if c.Server.ReportInterval < 0 || c.Client.SendDelay < 0 {
		return errors.New("report interval and send delay must not be negative")
	}
	return nil
}

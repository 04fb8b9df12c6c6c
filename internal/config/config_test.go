package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1ureka/uap/internal/seq"
	"github.com/1ureka/uap/internal/session"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatal(err)
	}
	if sc.InactivityTimeout != 15*time.Second || sc.GapPolicy != seq.GapSkip || sc.AckTimeout != 2*time.Second {
		t.Fatalf("session config: %+v", sc)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uap.yaml")
	content := `
session:
  alive_interval: 500ms
  inactivity_timeout: 4s
  gap_policy: reorder
  window: 16
server:
  model: loop
  farewell: "bye"
monitor:
  addr: "127.0.0.1:9100"
debug: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.AliveInterval != 500*time.Millisecond || cfg.Session.InactivityTimeout != 4*time.Second {
		t.Fatalf("timings: %+v", cfg.Session)
	}
	if cfg.Server.Model != ModelLoop || cfg.Server.Farewell != "bye" || cfg.Monitor.Addr != "127.0.0.1:9100" || !cfg.Debug {
		t.Fatalf("config: %+v", cfg)
	}
	// untouched keys keep their defaults
	if cfg.Session.CloseTimeout != session.DefaultCloseTimeout || cfg.Server.InboxSize != 64 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	sc, err := cfg.SessionConfig()
	if err != nil || sc.GapPolicy != seq.GapReorder || sc.Window != 16 {
		t.Fatalf("session config: %+v, %v", sc, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		timeout time.Duration
		alive   time.Duration
		delay   time.Duration
		wantErr bool
	}{
		{"none", nil, 15 * time.Second, session.DefaultAliveInterval, 0, false},
		{"seconds", map[string]string{EnvSessionTimeout: "30"}, 30 * time.Second, session.DefaultAliveInterval, 0, false},
		{"fractional", map[string]string{EnvSessionTimeout: "2.5", EnvFileSendDelay: "0.1"}, 2500 * time.Millisecond, 2500 * time.Millisecond / 3, 100 * time.Millisecond, false},
		{"duration", map[string]string{EnvSessionTimeout: "1m"}, time.Minute, session.DefaultAliveInterval, 0, false},
		{"equal to keepalive", map[string]string{EnvSessionTimeout: "5"}, 5 * time.Second, 5 * time.Second / 3, 0, false},
		{"just above keepalive", map[string]string{EnvSessionTimeout: "6"}, 6 * time.Second, session.DefaultAliveInterval, 0, false},
		{"garbage", map[string]string{EnvSessionTimeout: "soon"}, 0, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Session.InactivityTimeout != tt.timeout || cfg.Session.AliveInterval != tt.alive || cfg.Client.SendDelay != tt.delay {
				t.Fatalf("timeout=%v alive=%v delay=%v", cfg.Session.InactivityTimeout, cfg.Session.AliveInterval, cfg.Client.SendDelay)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestShortEnvTimeoutKeepsExplicitInterval(t *testing.T) {
	cfg := Default()
	cfg.Session.AliveInterval = 10 * time.Second
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == EnvSessionTimeout {
			return "5", true
		}
		return "", false
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.AliveInterval != 10*time.Second {
		t.Fatalf("explicit interval changed to %v", cfg.Session.AliveInterval)
	}
	if err := cfg.Validate(); !errors.Is(err, session.ErrTimeoutOrder) {
		t.Fatalf("Validate: got %v, want %v", err, session.ErrTimeoutOrder)
	}
}

func TestLoadShortEnvTimeout(t *testing.T) {
	t.Setenv(EnvSessionTimeout, "3")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}
	if sc.InactivityTimeout != 3*time.Second || sc.AliveInterval != time.Second {
		t.Fatalf("session config: %+v", sc)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"timeout below alive", func(c *Config) { c.Session.InactivityTimeout = time.Second }},
		{"bad gap policy", func(c *Config) { c.Session.GapPolicy = "buffer" }},
		{"bad model", func(c *Config) { c.Server.Model = "forked" }},
		{"zero sweep", func(c *Config) { c.Server.SweepInterval = 0 }},
		{"zero inbox", func(c *Config) { c.Server.InboxSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	cfg := Default()
	cfg.Session.InactivityTimeout = cfg.Session.AliveInterval
	if err := cfg.Validate(); !errors.Is(err, session.ErrTimeoutOrder) {
		t.Fatalf("got %v", err)
	}
}

// Command uap is the UAP command-line entry point.
//
// One binary, two roles:
//
//	uap server <port>            accept sessions and print what they carry
//	uap client <host> <port>     send stdin to a server, one line per DATA
//
// Configuration is layered: built-in defaults, an optional YAML file
// (--config), the UAP_* environment variables, then flags.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/uap/internal/config"
	"github.com/1ureka/uap/internal/util"
)

var version = "dev"

// globalFlags are shared by both roles and override the loaded config.
type globalFlags struct {
	configPath        string
	debug             bool
	monitor           string
	aliveInterval     time.Duration
	inactivityTimeout time.Duration
	gap               string
	model             string
}

func main() {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:   "uap",
		Short: "UDP Application Protocol server and client",
		Long: `uap carries line-oriented text over UDP sessions.

Each session is opened with HELLO, kept alive with ALIVE, carries one
DATA message per input line and is closed with GOODBYE. Lost, duplicate
and out-of-order datagrams are detected and reported.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML configuration file")
	pf.BoolVar(&g.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&g.monitor, "monitor", "", "Serve /metrics, /sessions and /events on this address (server only)")
	pf.DurationVar(&g.aliveInterval, "alive-interval", 0, "Idle time before an ALIVE is sent")
	pf.DurationVar(&g.inactivityTimeout, "inactivity-timeout", 0, "Silence before a session times out; must exceed --alive-interval")
	pf.StringVar(&g.gap, "gap", "", "Gap policy: drop, reorder or skip")
	pf.StringVar(&g.model, "model", "", "Server model: threaded or loop")

	rootCmd.AddCommand(
		serverCmd(&g),
		clientCmd(&g),
	)

	if err := rootCmd.Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// load builds the effective configuration for cmd.
func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug = g.debug
	}
	if flags.Changed("monitor") {
		cfg.Monitor.Addr = g.monitor
	}
	if flags.Changed("alive-interval") {
		cfg.Session.AliveInterval = g.aliveInterval
	}
	if flags.Changed("inactivity-timeout") {
		cfg.Session.InactivityTimeout = g.inactivityTimeout
	}
	if flags.Changed("gap") {
		cfg.Session.GapPolicy = g.gap
	}
	if flags.Changed("model") {
		cfg.Server.Model = config.Model(g.model)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Debug {
		util.EnableDebug()
	}
	return cfg, nil
}

// parsePort validates a port argument.
func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q (must be 1~65535)", s)
	}
	return port, nil
}

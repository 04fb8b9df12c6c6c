package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/transport/v4/stdnet"
	"github.com/spf13/cobra"

	"github.com/1ureka/uap/internal/client"
	"github.com/1ureka/uap/internal/config"
	"github.com/1ureka/uap/internal/input"
)

func clientCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "client <host> <port>",
		Short: "Send standard input to a UAP server",
		Long: `Open a session with the server and send one DATA message per line of
standard input. End of input (or "q" on a terminal) closes the session
with GOODBYE. Lines from a redirected file are paced by
UAP_FILE_SEND_DELAY seconds.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[1])
			if err != nil {
				return err
			}
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			return runClient(cmd.Context(), net.JoinHostPort(args[0], fmt.Sprint(port)), cfg)
		},
	}
}

func runClient(parent context.Context, addr string, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := cfg.SessionConfig()
	if err != nil {
		return err
	}

	interactive := input.IsTerminal(os.Stdin)
	opts := client.Options{
		Session: sc,
		Output:  os.Stdout,
	}
	// pacing only matters for piped files; a person types slowly enough
	if !interactive {
		opts.SendDelay = cfg.Client.SendDelay
	}

	nw, err := stdnet.NewNet()
	if err != nil {
		return fmt.Errorf("failed to open network: %w", err)
	}
	c, err := client.Dial(nw, addr, opts)
	if err != nil {
		return err
	}
	return c.Run(ctx, input.NewReader(os.Stdin, interactive))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/transport/v4/stdnet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/1ureka/uap/internal/config"
	"github.com/1ureka/uap/internal/input"
	"github.com/1ureka/uap/internal/metrics"
	"github.com/1ureka/uap/internal/monitor"
	"github.com/1ureka/uap/internal/server"
	"github.com/1ureka/uap/internal/util"
)

func serverCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "server <port>",
		Short: "Accept UAP sessions on a UDP port",
		Long: `Accept UAP sessions on the given UDP port and print one line per
protocol event to stdout.

On a terminal, typing "q" or end of input stops the server; otherwise it
runs until interrupted. Every open session is sent a farewell DATA and a
GOODBYE before exit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[0])
			if err != nil {
				return err
			}
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), port, cfg)
		},
	}
}

func runServer(parent context.Context, port int, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// On a terminal "q" or end of input quits; a redirected stdin is left alone.
	if input.IsTerminal(os.Stdin) {
		quitCtx, quit := context.WithCancel(ctx)
		defer quit()
		ctx = quitCtx
		go func() {
			err := input.NewReader(os.Stdin, true).WaitQuit()
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, input.ErrQuit) {
				util.LogWarning("stdin: %v", err)
			}
			quit()
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := metrics.New(reg)

	opts, err := server.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	opts.Output = os.Stdout
	opts.Metrics = met

	nw, err := stdnet.NewNet()
	if err != nil {
		return fmt.Errorf("failed to open network: %w", err)
	}
	srv, err := server.Listen(nw, fmt.Sprintf("0.0.0.0:%d", port), opts)
	if err != nil {
		return err
	}

	if cfg.Monitor.Addr != "" {
		mon := monitor.New(srv.Table(), reg)
		srv.AddObserver(mon)
		go func() {
			if err := mon.ListenAndServe(ctx, cfg.Monitor.Addr); err != nil {
				util.LogError("%v", err)
			}
		}()
	}
	if cfg.Server.ReportInterval > 0 {
		met.StartReporter(ctx, cfg.Server.ReportInterval)
	}

	if err := srv.Serve(ctx); err != nil {
		return err
	}
	util.LogInfo("server stopped")
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dage/machine-evolved/config"
	"github.com/dage/machine-evolved/protocol"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

// app holds state shared by every command, set up in Before.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newApp() *cli.App {
	a := &app{}
	return &cli.App{
		Name:  "machine-evolved",
		Usage: "evaluate evolved creatures for a remote training server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to config.yaml (empty = use defaults)"},
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "work server host:port (overrides config)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error (overrides config)"},
			&cli.StringFlag{Name: "log-format", Usage: "json or text (overrides config)"},
		},
		Before: a.setup,
		Commands: []*cli.Command{
			a.runCommand(),
			a.pingCommand(),
			a.statusCommand(),
			a.bestCommand(),
			a.resultsCommand(),
		},
	}
}

func (a *app) setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if s := c.String("server"); s != "" {
		cfg.Server.Address = s
	}
	if s := c.String("log-level"); s != "" {
		cfg.Log.Level = s
	}
	if s := c.String("log-format"); s != "" {
		cfg.Log.Format = s
	}
	if err := cfg.Recompute(); err != nil {
		return err
	}
	a.cfg = cfg

	opts := &slog.HandlerOptions{Level: cfg.Derived.LogLevel}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) client() *protocol.Client {
	return protocol.NewClient(a.cfg.Server.Address,
		protocol.WithDialTimeout(a.cfg.Server.DialTimeout),
		protocol.WithReadTimeout(a.cfg.Server.ReadTimeout),
		protocol.WithLogger(a.logger),
	)
}

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/selfheal/pkg/logger"
	"github.com/devicelab-dev/selfheal/pkg/server"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Serve memory inspection, resolution and metrics over HTTP",
	Description: `Endpoints:
  GET  /healthz          liveness and store sizes
  GET  /metrics          Prometheus metrics
  GET  /memory           remembered target names
  GET  /memory/export    the whole memory as a snapshot
  GET  /memory/{name}    one target's ranked recipes and hints
  POST /resolve          run the cascade for a screenshot on this host`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "Listen address (default: server.addr)",
			EnvVars: []string{"SELFHEAL_ADDR"},
		},
		&cli.BoolFlag{
			Name:  "no-resolve",
			Usage: "Disable POST /resolve",
		},
	},
	Action: runServe,
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}

	logger.InitWriter(os.Stderr)
	defer logger.Close()
	if err := applyLogLevel(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp, err := openComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := comp.Close(); err != nil {
			logger.Error("Failed to close components: %v", err)
		}
	}()

	opts := []server.Option{server.WithIndex(comp.index)}
	if !c.Bool("no-resolve") {
		opts = append(opts, server.WithEngine(comp.engine), server.WithStrategies(comp.strategies))
	}

	fmt.Fprintf(out, "  Listening on http://%s\n", cfg.Server.Addr)
	return server.New(comp.memory, opts...).ListenAndServe(ctx, cfg.Server.Addr)
}

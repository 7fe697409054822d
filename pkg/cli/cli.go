// Package cli provides the command-line interface for selfheal.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/selfheal/pkg/config"
	"github.com/devicelab-dev/selfheal/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to selfheal.yaml (default: ./selfheal.yaml if present)",
		EnvVars: []string{"SELFHEAL_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		EnvVars: []string{"SELFHEAL_LOG_LEVEL"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"SELFHEAL_VERBOSE"},
	},
	&cli.StringFlag{
		Name:    "memory-backend",
		Usage:   "Locator memory backend (memory, json, sqlite)",
		EnvVars: []string{"SELFHEAL_MEMORY_BACKEND"},
	},
	&cli.StringFlag{
		Name:    "memory-path",
		Usage:   "Locator memory file (default: under $SELFHEAL_HOME/data)",
		EnvVars: []string{"SELFHEAL_MEMORY_PATH"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the application. Execute runs it against os.Args.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "selfheal",
		Usage:   "Self-healing target resolution for UI test plans",
		Version: Version,
		Description: `selfheal runs UI test plans and, when a target can no longer be found
natively, resolves it through locator memory, visual memory, grounded
detection and segmentation, then remembers what worked.

Examples:
  selfheal run plans/
  selfheal run --platform mock --screen table.yaml plans/deal.yaml
  selfheal validate plans/
  selfheal resolve --screenshot shot.png --target deal_again_button
  selfheal memory list
  selfheal serve --addr 127.0.0.1:9464`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand,
			validateCommand,
			resolveCommand,
			memoryCommand,
			serveCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the workspace config and applies the global flag
// overrides on top of it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("memory-backend") {
		cfg.Memory.Backend = c.String("memory-backend")
	}
	if c.IsSet("memory-path") {
		cfg.Memory.Path = c.String("memory-path")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.Bool("verbose") {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLogLevel sets the global log level from cfg.
func applyLogLevel(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	return nil
}

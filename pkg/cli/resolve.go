package cli

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/logger"
)

var resolveCommand = &cli.Command{
	Name:  "resolve",
	Usage: "Resolve one target against a screenshot",
	Description: `Run the healing cascade once, without a driver, and print which
strategy resolved the target and how. Memory is read but never written.

Examples:
  selfheal resolve --screenshot shot.png --target deal_again_button
  selfheal resolve --screenshot shot.png --target login --text "Log in" --json`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "screenshot",
			Aliases:  []string{"s"},
			Usage:    "PNG screenshot of the current screen",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "target",
			Aliases:  []string{"t"},
			Usage:    "Target name (locator memory key)",
			Required: true,
		},
		&cli.StringFlag{Name: "test-id", Usage: "Target test ID hint"},
		&cli.StringFlag{Name: "role", Usage: "Target role hint"},
		&cli.StringFlag{Name: "text", Usage: "Target visible text hint"},
		&cli.StringFlag{Name: "semantics-label", Usage: "Target accessibility label hint"},
		&cli.StringFlag{
			Name:  "screen-label",
			Usage: "Screen label for visual hints",
		},
		&cli.StringFlag{
			Name:  "platform",
			Usage: "Platform the screenshot comes from",
			Value: "web",
		},
		&cli.StringSliceFlag{
			Name:  "strategies",
			Usage: "Healing strategies to enable (memory, vms, vgs, sam3)",
		},
		&cli.StringFlag{
			Name:  "vision",
			Usage: "Vision provider (http, openai, mock, none)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the result as JSON",
		},
	},
	Action: runResolve,
}

func runResolve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("strategies") {
		cfg.Heal.Strategies = c.StringSlice("strategies")
	}
	if c.IsSet("vision") {
		cfg.Vision.Provider = c.String("vision")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := applyLogLevel(cfg); err != nil {
		return err
	}

	comp, err := openComponents(c.Context, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := comp.Close(); err != nil {
			logger.Error("Failed to close components: %v", err)
		}
	}()

	req := heal.Request{
		Target: core.Target{
			Name:           c.String("target"),
			TestID:         c.String("test-id"),
			Role:           c.String("role"),
			Text:           c.String("text"),
			SemanticsLabel: c.String("semantics-label"),
		},
		ScreenshotPath: c.String("screenshot"),
		ScreenLabel:    c.String("screen-label"),
		Platform:       c.String("platform"),
		Enabled:        comp.strategies,
	}

	res, err := comp.engine.Resolve(c.Context, req)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		printResolution(res)
	}

	if !res.Resolved() {
		return cli.Exit("", 1)
	}
	return nil
}

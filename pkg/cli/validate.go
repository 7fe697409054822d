package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/selfheal/pkg/validator"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check plans without running them",
	ArgsUsage: "<plan-file-or-folder>...",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include plans with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude plans with these tags",
		},
	},
	Action: runValidate,
}

func runValidate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	paths := c.Args().Slice()
	if len(paths) == 0 {
		paths = cfg.Plans
	}
	if len(paths) == 0 {
		return fmt.Errorf("at least one plan file or folder is required")
	}
	if c.IsSet("include-tags") {
		cfg.IncludeTags = c.StringSlice("include-tags")
	}
	if c.IsSet("exclude-tags") {
		cfg.ExcludeTags = c.StringSlice("exclude-tags")
	}

	result := validator.New(cfg.IncludeTags, cfg.ExcludeTags).Validate(paths...)
	for _, f := range result.Flows {
		fmt.Fprintf(out, "  %s✓%s %s (%d steps)\n", color(colorGreen), color(colorReset), f.DisplayName(), len(f.Steps))
	}
	for _, err := range result.Errors {
		fmt.Fprintf(out, "  %s✗%s %v\n", color(colorRed), color(colorReset), err)
	}

	if !result.IsValid() {
		return cli.Exit("", 1)
	}
	fmt.Fprintf(out, "\n  %d plan(s) valid\n", len(result.Flows))
	return nil
}

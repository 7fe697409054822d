package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/selfheal/pkg/config"
	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/driver/mock"
	"github.com/devicelab-dev/selfheal/pkg/driver/web"
	"github.com/devicelab-dev/selfheal/pkg/executor"
	"github.com/devicelab-dev/selfheal/pkg/flow"
	"github.com/devicelab-dev/selfheal/pkg/logger"
	"github.com/devicelab-dev/selfheal/pkg/report"
	"github.com/devicelab-dev/selfheal/pkg/validator"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run test plans with self-healing target resolution",
	ArgsUsage: "<plan-file-or-folder>...",
	Description: `Run one or more YAML test plans. Steps whose target cannot be found
natively are healed through the configured strategies; what worked is
written back to locator memory and visual memory.

Reports are generated in the output directory:
  - Default: $SELFHEAL_HOME/reports/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Examples:
  selfheal run plans/
  selfheal run plans/ --include-tags smoke --strategies memory,vgs
  selfheal run --url https://app.example.com plans/checkout.yaml
  selfheal run --platform mock --screen fixtures/table.yaml plans/deal.yaml`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "platform",
			Usage: "Platform to run on (web, mock)",
		},

		// Web options
		&cli.StringFlag{
			Name:  "url",
			Usage: "Start page (default: web.url or the first plan's url)",
		},
		&cli.StringFlag{
			Name:    "remote-url",
			Usage:   "DevTools WebSocket URL of a running Chrome",
			EnvVars: []string{"SELFHEAL_REMOTE_URL"},
		},
		&cli.BoolFlag{
			Name:  "headless",
			Usage: "Run the browser headless",
			Value: true,
		},

		// Mock options
		&cli.StringFlag{
			Name:  "screen",
			Usage: "Screen fixture for the mock platform",
		},

		// Healing
		&cli.StringSliceFlag{
			Name:  "strategies",
			Usage: "Healing strategies to enable (memory, vms, vgs, sam3)",
		},
		&cli.StringFlag{
			Name:    "vision",
			Usage:   "Vision provider (http, openai, mock, none)",
			EnvVars: []string{"SELFHEAL_VISION"},
		},
		&cli.IntFlag{
			Name:  "max-replays",
			Usage: "Re-resolutions allowed after a resolved target fails (0 = one per remaining strategy)",
		},
		&cli.BoolFlag{
			Name:  "no-heal",
			Usage: "Disable healing; native lookup only",
		},

		// Tag filtering
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include plans with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude plans with these tags",
		},

		// Output directory
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},

		// Execution
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "Run plans on N drivers in parallel",
		},
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Skip remaining plans after the first failure",
		},
	},
	Action: runPlans,
}

// runOptions is the resolved configuration of one run.
type runOptions struct {
	cfg        *config.Config
	planPaths  []string
	outputDir  string
	screenPath string
	parallel   int
	stopOnFail bool
	noHeal     bool
}

func runPlans(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applyRunFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := runOptions{
		cfg:        cfg,
		planPaths:  c.Args().Slice(),
		screenPath: c.String("screen"),
		parallel:   c.Int("parallel"),
		stopOnFail: c.Bool("stop-on-fail"),
		noHeal:     c.Bool("no-heal"),
	}
	if len(opts.planPaths) == 0 {
		opts.planPaths = cfg.Plans
	}
	if len(opts.planPaths) == 0 {
		return fmt.Errorf("at least one plan file or folder is required")
	}

	opts.outputDir, err = resolveOutputDir(cfg.ReportDir(), c.String("output"), c.Bool("flatten"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := executeRun(ctx, opts)
	if err != nil {
		return err
	}

	printSummary(result)

	// Exit with code 1 if any plans failed (summary already printed)
	if result.Status != report.StatusPassed {
		return cli.Exit("", 1)
	}
	return nil
}

// applyRunFlags lets explicit flags override the workspace config.
func applyRunFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("platform") {
		cfg.Platform = c.String("platform")
	}
	if c.IsSet("url") {
		cfg.Web.URL = c.String("url")
	}
	if c.IsSet("remote-url") {
		cfg.Web.RemoteURL = c.String("remote-url")
	}
	if c.IsSet("headless") {
		cfg.Web.Headless = c.Bool("headless")
	}
	if c.IsSet("strategies") {
		cfg.Heal.Strategies = c.StringSlice("strategies")
	}
	if c.IsSet("vision") {
		cfg.Vision.Provider = c.String("vision")
	}
	if c.IsSet("max-replays") {
		cfg.Heal.MaxReplays = c.Int("max-replays")
	}
	if c.IsSet("include-tags") {
		cfg.IncludeTags = c.StringSlice("include-tags")
	}
	if c.IsSet("exclude-tags") {
		cfg.ExcludeTags = c.StringSlice("exclude-tags")
	}
}

func executeRun(ctx context.Context, opts runOptions) (*executor.RunResult, error) {
	cfg := opts.cfg

	// 1. Create output directory
	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// 2. Initialize logging
	logPath := filepath.Join(opts.outputDir, "selfheal.log")
	if err := logger.Init(logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()
	if err := applyLogLevel(cfg); err != nil {
		return nil, err
	}

	logger.Info("=== Run started ===")
	logger.Info("Output directory: %s", opts.outputDir)
	logger.Info("Platform: %s", cfg.Platform)

	// 3. Parse plans
	flows, err := loadPlans(opts.planPaths, cfg.IncludeTags, cfg.ExcludeTags)
	if err != nil {
		logger.Error("Plan parsing failed: %v", err)
		return nil, err
	}
	if len(flows) == 0 {
		return nil, fmt.Errorf("no plans to run")
	}
	logger.Info("Parsed %d plan(s)", len(flows))

	if cfg.Web.URL == "" && flows[0].Config.URL != "" {
		cfg.Web.URL = flows[0].Config.URL
	}

	// 4. Open memory, visual memory and vision clients
	comp, err := openComponents(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open components: %v", err)
		return nil, err
	}
	defer func() {
		if err := comp.Close(); err != nil {
			logger.Error("Failed to close components: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}()

	runCfg := executor.RunnerConfig{
		OutputDir:      opts.outputDir,
		StopOnFail:     opts.stopOnFail,
		Strategies:     comp.strategies,
		MaxReplays:     cfg.Heal.MaxReplays,
		RunnerVersion:  Version,
		DriverName:     cfg.Platform,
		OnFlowStart:    onFlowStart,
		OnStepComplete: onStepComplete,
		OnFlowEnd:      onFlowEnd,
	}
	engine, writer := comp.engine, comp.writer
	if opts.noHeal {
		engine = nil
		logger.Info("Healing disabled")
	}

	// 5. Execute plans
	if opts.parallel > 1 {
		workers, err := createWorkers(ctx, opts, opts.parallel)
		if err != nil {
			return nil, err
		}
		runCfg.Device = buildDeviceReport(workers[0].Driver)
		logger.Info("Parallel execution on %d drivers", len(workers))
		return executor.NewParallelRunner(workers, engine, writer, runCfg).Run(ctx, flows)
	}

	driver, cleanup, err := createDriver(ctx, opts)
	if err != nil {
		logger.Error("Failed to create driver: %v", err)
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}
	defer cleanup()

	info := driver.GetPlatformInfo()
	logger.Info("Driver created: %s on %s", info.Platform, info.DeviceName)
	runCfg.Device = buildDeviceReport(driver)

	result, err := executor.New(driver, engine, writer, runCfg).Run(ctx, flows)
	if err != nil {
		logger.Error("Plan execution failed: %v", err)
		return nil, err
	}
	logger.Info("Run completed: %d passed, %d failed, %d skipped",
		result.PassedFlows, result.FailedFlows, result.SkippedFlows)
	return result, nil
}

// loadPlans validates and parses every plan up front. Any invalid plan
// fails the run before a driver is opened.
func loadPlans(paths, includeTags, excludeTags []string) ([]*flow.Flow, error) {
	result := validator.New(includeTags, excludeTags).Validate(paths...)
	if !result.IsValid() {
		for _, err := range result.Errors {
			logger.Error("Validation: %v", err)
		}
		return nil, fmt.Errorf("%d invalid plan(s): %w", len(result.Errors), errors.Join(result.Errors...))
	}
	return result.Flows, nil
}

// createDriver opens the driver for the configured platform.
func createDriver(ctx context.Context, opts runOptions) (core.Driver, func(), error) {
	cfg := opts.cfg
	switch cfg.Platform {
	case "mock":
		var screen mock.Screen
		if opts.screenPath != "" {
			var err error
			screen, err = mock.LoadScreen(opts.screenPath)
			if err != nil {
				return nil, nil, err
			}
		}
		return mock.New(mock.Config{Screen: screen}), func() {}, nil
	case "web":
		if cfg.Web.URL == "" && cfg.Web.RemoteURL == "" {
			return nil, nil, fmt.Errorf("web platform needs --url, web.url or a plan url")
		}
		session, err := web.Open(ctx, web.Config{
			URL:       cfg.Web.URL,
			RemoteURL: cfg.Web.RemoteURL,
			Headless:  cfg.Web.Headless,
			Width:     cfg.Web.Width,
			Height:    cfg.Web.Height,
		})
		if err != nil {
			return nil, nil, err
		}
		return session, func() { session.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported platform %q (want web or mock)", cfg.Platform)
	}
}

// createWorkers opens n drivers for parallel execution.
func createWorkers(ctx context.Context, opts runOptions, n int) ([]executor.DeviceWorker, error) {
	workers := make([]executor.DeviceWorker, 0, n)
	for i := 0; i < n; i++ {
		driver, cleanup, err := createDriver(ctx, opts)
		if err != nil {
			for _, w := range workers {
				w.Cleanup()
			}
			return nil, fmt.Errorf("failed to create driver %d: %w", i+1, err)
		}
		workers = append(workers, executor.DeviceWorker{
			ID:       i,
			DeviceID: fmt.Sprintf("%s-%d", driver.GetPlatformInfo().DeviceID, i+1),
			Driver:   driver,
			Cleanup:  cleanup,
		})
	}
	return workers, nil
}

func buildDeviceReport(driver core.Driver) report.Device {
	info := driver.GetPlatformInfo()
	return report.Device{
		ID:        info.DeviceID,
		Name:      info.DeviceName,
		Platform:  info.Platform,
		OSVersion: info.OSVersion,
	}
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/selfheal/pkg/memory"
)

var memoryCommand = &cli.Command{
	Name:  "memory",
	Usage: "Inspect and move locator memory",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List remembered targets",
			Action: memoryList,
		},
		{
			Name:      "show",
			Usage:     "Show one target's ranked recipes and visual hints",
			ArgsUsage: "<target>",
			Action:    memoryShow,
		},
		{
			Name:      "export",
			Usage:     "Write memory to a JSON snapshot",
			ArgsUsage: "<file>",
			Action:    memoryExport,
		},
		{
			Name:      "import",
			Usage:     "Merge a JSON snapshot into memory",
			ArgsUsage: "<file>",
			Action:    memoryImport,
		},
	},
}

// withMemory opens the configured backend, runs fn and closes it.
func withMemory(c *cli.Context, fn func(mem memoryBackend) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := applyLogLevel(cfg); err != nil {
		return err
	}
	mem, closeMem, err := openMemory(c.Context, cfg)
	if err != nil {
		return err
	}
	runErr := fn(mem)
	if err := closeMem(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func memoryList(c *cli.Context) error {
	return withMemory(c, func(mem memoryBackend) error {
		names, err := mem.Names(c.Context)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(out, "No remembered targets")
			return nil
		}
		for _, name := range names {
			entry, _, err := mem.Entry(c.Context, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %-40s %3d recipes %3d hints\n", name, len(entry.Variants), len(entry.Hints))
		}
		return nil
	})
}

func memoryShow(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one target name is required")
	}
	name := c.Args().First()
	return withMemory(c, func(mem memoryBackend) error {
		entry, ok, err := mem.Entry(c.Context, name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unknown target: %s", name)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	})
}

func memoryExport(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one output file is required")
	}
	path := c.Args().First()
	return withMemory(c, func(mem memoryBackend) error {
		snap, err := memory.Export(c.Context, mem)
		if err != nil {
			return err
		}
		if err := memory.WriteFile(path, snap); err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported %d targets to %s\n", len(snap.Entries), path)
		return nil
	})
}

func memoryImport(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one snapshot file is required")
	}
	path := c.Args().First()
	snap, err := memory.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot not found: %s", path)
		}
		return err
	}
	return withMemory(c, func(mem memoryBackend) error {
		if err := memory.Import(c.Context, mem, snap); err != nil {
			return err
		}
		fmt.Fprintf(out, "Imported %d targets from %s\n", len(snap.Entries), path)
		return nil
	})
}

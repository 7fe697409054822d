package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WriteText renders a human-readable run summary including every healing
// trace.
func WriteText(out io.Writer, index *Index, flows []FlowDetail) error {
	w := bufio.NewWriter(out)

	s := index.Summary
	fmt.Fprintf(w, "Run %s: %s (%d plans: %d passed, %d failed, %d skipped)\n",
		index.RunID, index.Status, s.Total, s.Passed, s.Failed, s.Skipped)
	fmt.Fprintf(w, "Healing: %d resolved%s, %d unresolved\n",
		index.Healing.Resolved, byStrategy(index.Healing.ByStrategy), index.Healing.Unresolved)

	for i, fd := range flows {
		status := StatusPending
		if i < len(index.Flows) {
			status = index.Flows[i].Status
		}
		fmt.Fprintf(w, "\n[%s] %s (%s)\n", status, fd.Name, fd.SourceFile)

		for _, cmd := range fd.Commands {
			desc := cmd.YAML
			if cmd.Label != "" {
				desc = cmd.Label
			}
			fmt.Fprintf(w, "  %-7s %s", cmd.Status, desc)
			if cmd.Duration != nil {
				fmt.Fprintf(w, " (%dms)", *cmd.Duration)
			}
			fmt.Fprintln(w)

			for _, res := range cmd.Heal {
				fmt.Fprintf(w, "          heal %q: %s\n", res.Target.Name, res.Summary())
				for _, a := range res.Attempts {
					fmt.Fprintf(w, "            %s\n", a.String())
				}
				if len(res.Skipped) > 0 {
					names := make([]string, len(res.Skipped))
					for i, st := range res.Skipped {
						names[i] = string(st)
					}
					fmt.Fprintf(w, "            skipped: %s\n", strings.Join(names, ", "))
				}
			}
			if cmd.Error != nil {
				fmt.Fprintf(w, "          error: %s\n", cmd.Error.Message)
			}
		}
	}

	return w.Flush()
}

// WriteTextFile writes report.txt into the report directory.
func WriteTextFile(reportDir string, index *Index, flows []FlowDetail) error {
	f, err := os.Create(filepath.Join(reportDir, "report.txt"))
	if err != nil {
		return fmt.Errorf("create text report: %w", err)
	}
	defer f.Close()
	return WriteText(f, index, flows)
}

func byStrategy(m map[string]int) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, m[k])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

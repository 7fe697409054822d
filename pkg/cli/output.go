package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/executor"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/report"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Slow step threshold in milliseconds (5 seconds)
const slowThresholdMs = 5000

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// out is where progress and summaries go. Tests swap it for a buffer.
var out io.Writer = os.Stdout

// Live progress callbacks
func onFlowStart(flowIdx, totalFlows int, name, file string) {
	fmt.Fprintf(out, "\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), flowIdx+1, totalFlows, color(colorReset),
		color(colorBold), name, color(colorReset), file)
	fmt.Fprintln(out, strings.Repeat("─", 60))
}

func onStepComplete(idx int, desc string, status report.Status, durationMs int64, errMsg string) {
	durStr := formatDuration(durationMs)

	switch status {
	case report.StatusFailed:
		fmt.Fprintf(out, "    %s✗%s %s (%s)\n", color(colorRed), color(colorReset), desc, durStr)
		if errMsg != "" {
			fmt.Fprintf(out, "      %s╰─%s %s\n", color(colorGray), color(colorReset), firstLine(errMsg))
		}
	case report.StatusHealed:
		fmt.Fprintf(out, "    %s✚%s %s %s(%s, healed)%s\n",
			color(colorYellow), color(colorReset), desc, color(colorGray), durStr, color(colorReset))
	case report.StatusSkipped:
		fmt.Fprintf(out, "    %s-%s %s\n", color(colorCyan), color(colorReset), desc)
	default:
		symbol := "✓"
		symbolColor := color(colorGreen)
		durColor := ""
		if durationMs >= slowThresholdMs {
			durColor = color(colorYellow)
			symbol = "⚠"
			symbolColor = color(colorYellow)
		}
		fmt.Fprintf(out, "    %s%s%s %s %s(%s)%s\n",
			symbolColor, symbol, color(colorReset), desc, durColor, durStr, color(colorReset))
	}
}

func onFlowEnd(name string, passed bool, durationMs int64) {
	if passed {
		fmt.Fprintf(out, "%s✓ %s%s %s%s%s\n",
			color(colorGreen), color(colorReset), name, color(colorGray), formatDuration(durationMs), color(colorReset))
	} else {
		fmt.Fprintf(out, "%s✗ %s%s %s%s%s\n",
			color(colorRed), color(colorReset), name, color(colorGray), formatDuration(durationMs), color(colorReset))
	}
}

func printSummary(result *executor.RunResult) {
	// Calculate totals
	var totalSteps, passedSteps, healedSteps, failedSteps, skippedSteps int
	for _, fr := range result.FlowResults {
		totalSteps += fr.StepsTotal
		passedSteps += fr.StepsPassed
		healedSteps += fr.StepsHealed
		failedSteps += fr.StepsFailed
		skippedSteps += fr.StepsSkipped
	}

	// Print step summary
	fmt.Fprintln(out)
	if passedSteps > 0 {
		fmt.Fprintf(out, "  %s%d steps passing%s (%s)\n", color(colorGreen), passedSteps, color(colorReset), formatDuration(result.Duration))
	}
	if healedSteps > 0 {
		fmt.Fprintf(out, "  %s%d steps healed%s\n", color(colorYellow), healedSteps, color(colorReset))
	}
	if failedSteps > 0 {
		fmt.Fprintf(out, "  %s%d steps failing%s\n", color(colorRed), failedSteps, color(colorReset))
	}
	if skippedSteps > 0 {
		fmt.Fprintf(out, "  %s%d steps skipped%s\n", color(colorCyan), skippedSteps, color(colorReset))
	}
	fmt.Fprintln(out)

	// Print table
	tableWidth := 99
	fmt.Fprintln(out, strings.Repeat("═", tableWidth))
	fmt.Fprintf(out, "  %-42s %6s %6s %6s %6s %6s %6s %10s\n", "Plan", "Status", "Steps", "Pass", "Heal", "Fail", "Skip", "Duration")
	fmt.Fprintln(out, strings.Repeat("─", tableWidth))

	for _, fr := range result.FlowResults {
		var status string
		var statusColor string
		switch fr.Status {
		case report.StatusFailed:
			status = "✗ FAIL"
			statusColor = color(colorRed)
		case report.StatusSkipped:
			status = "- SKIP"
			statusColor = color(colorCyan)
		default:
			status = "✓ PASS"
			statusColor = color(colorGreen)
		}

		// Truncate name if too long
		name := fr.Name
		if len(name) > 42 {
			name = name[:39] + "..."
		}

		fmt.Fprintf(out, "  %-42s %s%6s%s %6d %6d %6d %6d %6d %10s\n",
			name, statusColor, status, color(colorReset),
			fr.StepsTotal, fr.StepsPassed, fr.StepsHealed, fr.StepsFailed, fr.StepsSkipped,
			formatDuration(fr.Duration))
	}

	// Print totals row
	fmt.Fprintln(out, strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.PassedFlows, result.TotalFlows)
	statusColor := color(colorGreen)
	if result.FailedFlows > 0 {
		statusColor = color(colorRed)
	}
	fmt.Fprintf(out, "  %s%-42s%s %s%6s%s %6d %6d %6d %6d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		totalSteps, passedSteps, healedSteps, failedSteps, skippedSteps,
		formatDuration(result.Duration))
	fmt.Fprintln(out, strings.Repeat("═", tableWidth))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Report: %s\n", result.ReportDir)
}

// printResolution prints one cascade outcome with its trace.
func printResolution(res *heal.Result) {
	if res.Resolved() {
		fmt.Fprintf(out, "  %s✓%s %s: %s\n", color(colorGreen), color(colorReset), res.Target.Name, res.Summary())
	} else {
		fmt.Fprintf(out, "  %s✗%s %s: %s\n", color(colorRed), color(colorReset), res.Target.Name, res.Summary())
	}
	for _, a := range res.Attempts {
		fmt.Fprintf(out, "      %s%s (%s)%s\n", color(colorGray), a.String(), a.Duration.Round(time.Millisecond), color(colorReset))
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(out, "      %s%s: skipped%s\n", color(colorGray), s, color(colorReset))
	}
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: <base>/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(base, output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = base
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	// Create timestamp-based subfolder
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

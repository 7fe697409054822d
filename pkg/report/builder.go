package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/flow"
)

// BuilderConfig contains configuration for building the report skeleton.
type BuilderConfig struct {
	OutputDir     string   // Base output directory for reports
	RunID         string   // Unique run identifier
	Device        Device   // Device or browser information
	RunnerVersion string   // selfheal version
	DriverName    string   // Driver name (web, mock)
	Strategies    []string // Enabled healing strategies, in cascade order
}

// BuildSkeleton creates the initial report structure from parsed plans.
// All plans and commands are set to "pending" status.
func BuildSkeleton(flows []*flow.Flow, cfg BuilderConfig) (*Index, []FlowDetail, error) {
	now := time.Now()

	index := &Index{
		Version:     Version,
		RunID:       cfg.RunID,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		Device:      cfg.Device,
		Runner: RunnerInfo{
			Version:    cfg.RunnerVersion,
			Driver:     cfg.DriverName,
			Strategies: cfg.Strategies,
		},
		Summary: Summary{
			Total:   len(flows),
			Pending: len(flows),
		},
		Healing: HealSummary{ByStrategy: map[string]int{}},
		Flows:   make([]FlowEntry, len(flows)),
	}

	flowDetails := make([]FlowDetail, len(flows))

	for i, f := range flows {
		flowID := fmt.Sprintf("flow-%03d", i)
		flowName := extractFlowName(f)
		commands := buildCommands(f.Steps)

		index.Flows[i] = FlowEntry{
			Index:      i,
			ID:         flowID,
			Name:       flowName,
			SourceFile: f.SourcePath,
			DataFile:   filepath.Join("flows", flowID+".json"),
			AssetsDir:  filepath.Join("assets", flowID),
			Status:     StatusPending,
			Commands: CommandSummary{
				Total:   len(commands),
				Pending: len(commands),
			},
		}

		flowDetails[i] = FlowDetail{
			ID:         flowID,
			Name:       flowName,
			SourceFile: f.SourcePath,
			Tags:       f.Config.Tags,
			Commands:   commands,
		}
	}

	return index, flowDetails, nil
}

// extractFlowName extracts a display name from the plan.
func extractFlowName(f *flow.Flow) string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	// Use filename without extension
	base := filepath.Base(f.SourcePath)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// buildCommands creates Command entries from plan steps.
func buildCommands(steps []flow.Step) []Command {
	commands := make([]Command, len(steps))
	for i, step := range steps {
		commands[i] = Command{
			ID:     fmt.Sprintf("cmd-%03d", i),
			Index:  i,
			Type:   string(step.Type()),
			Label:  step.Label(),
			YAML:   step.Describe(),
			Status: StatusPending,
			Params: extractParams(step),
		}
	}
	return commands
}

// extractParams extracts command parameters from a step.
func extractParams(step flow.Step) *CommandParams {
	params := &CommandParams{Optional: step.IsOptional()}
	hasContent := step.IsOptional()

	if t, ok := step.TargetOf(); ok {
		params.Target = &Target{
			Name:           t.Name,
			TestID:         t.TestID,
			Role:           t.Role,
			Text:           t.Text,
			SemanticsLabel: t.SemanticsLabel,
		}
		hasContent = true
	}

	if s, ok := step.(*flow.InputTextStep); ok && s.Text != "" {
		params.Text = s.Text
		hasContent = true
	}

	if base := getBaseStep(step); base != nil && base.TimeoutMs > 0 {
		params.Timeout = base.TimeoutMs
		hasContent = true
	}

	if !hasContent {
		return nil
	}
	return params
}

// getBaseStep extracts BaseStep from a step if possible.
func getBaseStep(step flow.Step) *flow.BaseStep {
	switch s := step.(type) {
	case *flow.TapOnStep:
		return &s.BaseStep
	case *flow.InputTextStep:
		return &s.BaseStep
	case *flow.AssertVisibleStep:
		return &s.BaseStep
	default:
		return nil
	}
}

// WriteSkeleton writes the initial skeleton to disk.
// Creates report.json and all plan detail files with pending status.
func WriteSkeleton(outputDir string, index *Index, flowDetails []FlowDetail) error {
	if err := ensureDir(filepath.Join(outputDir, "flows")); err != nil {
		return fmt.Errorf("create flows dir: %w", err)
	}
	if err := ensureDir(filepath.Join(outputDir, "assets")); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}

	for _, fd := range flowDetails {
		flowPath := filepath.Join(outputDir, "flows", fd.ID+".json")
		if err := atomicWriteJSON(flowPath, fd); err != nil {
			return fmt.Errorf("write flow %s: %w", fd.ID, err)
		}

		assetsPath := filepath.Join(outputDir, "assets", fd.ID)
		if err := ensureDir(assetsPath); err != nil {
			return fmt.Errorf("create assets dir for %s: %w", fd.ID, err)
		}
	}

	indexPath := filepath.Join(outputDir, "report.json")
	if err := atomicWriteJSON(indexPath, index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	return nil
}

// Package executor orchestrates plan execution: native lookup first, the
// healing engine on failure, then the action and the memory write-back.
package executor

import (
	"context"

	"github.com/google/uuid"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/flow"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/logger"
	"github.com/devicelab-dev/selfheal/pkg/recorder"
	"github.com/devicelab-dev/selfheal/pkg/report"
)

// RunnerConfig configures the plan runner.
type RunnerConfig struct {
	OutputDir  string // Report output directory
	RunID      string // Generated when empty
	StopOnFail bool   // Stop remaining plans on first failure

	// Strategies enabled for healing, in cascade order. Nil means all.
	Strategies []heal.Strategy
	// MaxReplays bounds re-resolutions after a resolved target failed
	// against the live UI. Zero means one per remaining strategy.
	MaxReplays int

	// Device info for reports
	Device report.Device

	// Runner metadata
	RunnerVersion string
	DriverName    string

	// Live progress callbacks
	OnFlowStart    func(flowIdx, totalFlows int, name, file string)
	OnStepComplete func(idx int, desc string, status report.Status, durationMs int64, err string)
	OnFlowEnd      func(name string, passed bool, durationMs int64)
}

// RunResult contains the outcome of a run.
type RunResult struct {
	RunID        string
	ReportDir    string
	Status       report.Status
	TotalFlows   int
	PassedFlows  int
	FailedFlows  int
	SkippedFlows int
	Duration     int64 // Total duration in milliseconds
	FlowResults  []FlowResult
}

// FlowResult contains the outcome of a single plan execution.
type FlowResult struct {
	ID           string
	Name         string
	Status       report.Status
	Duration     int64
	Error        string
	StepsTotal   int
	StepsPassed  int
	StepsHealed  int
	StepsFailed  int
	StepsSkipped int
}

// Runner orchestrates plan execution.
type Runner struct {
	config RunnerConfig
	driver core.Driver
	engine *heal.Engine
	writer *recorder.Writer
}

// New creates a new Runner. A nil engine disables healing; a nil writer
// disables recording.
func New(driver core.Driver, engine *heal.Engine, writer *recorder.Writer, cfg RunnerConfig) *Runner {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return &Runner{
		config: cfg,
		driver: driver,
		engine: engine,
		writer: writer,
	}
}

// RunID returns the run identifier.
func (r *Runner) RunID() string { return r.config.RunID }

// Run executes all plans and writes the report.
func (r *Runner) Run(ctx context.Context, flows []*flow.Flow) (*RunResult, error) {
	index, flowDetails, err := report.BuildSkeleton(flows, r.builderConfig())
	if err != nil {
		return nil, err
	}

	if err := report.WriteSkeleton(r.config.OutputDir, index, flowDetails); err != nil {
		return nil, err
	}

	indexWriter := report.NewIndexWriter(r.config.OutputDir, index)
	defer indexWriter.Close()

	indexWriter.Start()
	logger.Info("run %s: %d plans, driver %s", r.config.RunID, len(flows), r.config.DriverName)

	results := r.executeFlows(ctx, flows, flowDetails, indexWriter)

	indexWriter.End()
	r.writeText(indexWriter, flowDetails)

	return r.buildRunResult(results), nil
}

func (r *Runner) builderConfig() report.BuilderConfig {
	strategies := r.config.Strategies
	if strategies == nil {
		strategies = heal.AllStrategies
	}
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = string(s)
	}
	return report.BuilderConfig{
		OutputDir:     r.config.OutputDir,
		RunID:         r.config.RunID,
		Device:        r.config.Device,
		RunnerVersion: r.config.RunnerVersion,
		DriverName:    r.config.DriverName,
		Strategies:    names,
	}
}

// executeFlows runs plans sequentially. Steps inside a plan depend on the
// UI state left by earlier ones, and so do plans sharing one driver.
func (r *Runner) executeFlows(ctx context.Context, flows []*flow.Flow, flowDetails []report.FlowDetail, indexWriter *report.IndexWriter) []FlowResult {
	results := make([]FlowResult, len(flows))
	stopped := false

	for i := range flows {
		if stopped || ctx.Err() != nil {
			results[i] = FlowResult{
				ID:     flowDetails[i].ID,
				Name:   flowDetails[i].Name,
				Status: report.StatusSkipped,
				Error:  "run stopped",
			}
			skipFlow(r.config.OutputDir, &flowDetails[i], indexWriter)
			continue
		}
		results[i] = r.executeFlow(ctx, r.driver, flows[i], &flowDetails[i], indexWriter, i, len(flows))
		if r.config.StopOnFail && results[i].Status == report.StatusFailed {
			stopped = true
		}
	}

	return results
}

// executeFlow runs a single plan on driver.
func (r *Runner) executeFlow(ctx context.Context, driver core.Driver, f *flow.Flow, detail *report.FlowDetail, indexWriter *report.IndexWriter, flowIdx, totalFlows int) FlowResult {
	fr := &FlowRunner{
		ctx:         ctx,
		flow:        f,
		detail:      detail,
		driver:      driver,
		engine:      r.engine,
		writer:      r.writer,
		config:      r.config,
		indexWriter: indexWriter,
		flowIdx:     flowIdx,
		totalFlows:  totalFlows,
	}
	return fr.Run()
}

func (r *Runner) writeText(indexWriter *report.IndexWriter, flowDetails []report.FlowDetail) {
	if err := report.WriteTextFile(r.config.OutputDir, indexWriter.GetIndex(), flowDetails); err != nil {
		logger.Warn("run %s: %v", r.config.RunID, err)
	}
}

// skipFlow marks a plan that never started as skipped in the report.
func skipFlow(outputDir string, detail *report.FlowDetail, indexWriter *report.IndexWriter) {
	fw := report.NewFlowWriter(detail, outputDir, indexWriter)
	fw.SkipRemainingCommands(0)
	fw.End(report.StatusSkipped)
}

// buildRunResult aggregates plan results into a run result.
func (r *Runner) buildRunResult(flowResults []FlowResult) *RunResult {
	result := &RunResult{
		RunID:       r.config.RunID,
		ReportDir:   r.config.OutputDir,
		TotalFlows:  len(flowResults),
		FlowResults: flowResults,
	}

	for _, fr := range flowResults {
		result.Duration += fr.Duration
		result.countFlow(fr)
	}
	result.finalize()
	return result
}

func (r *RunResult) countFlow(fr FlowResult) {
	switch fr.Status {
	case report.StatusPassed:
		r.PassedFlows++
	case report.StatusFailed:
		r.FailedFlows++
	case report.StatusSkipped:
		r.SkippedFlows++
	}
}

// finalize determines the overall status.
func (r *RunResult) finalize() {
	if r.FailedFlows > 0 {
		r.Status = report.StatusFailed
	} else {
		r.Status = report.StatusPassed // All passed or skipped
	}
}

package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/logger"
)

// FlowWriter writes updates for a single plan.
// Each plan goroutine has its own FlowWriter - no locking needed.
type FlowWriter struct {
	flow      *FlowDetail
	path      string
	outputDir string
	assetsDir string
	index     *IndexWriter
}

// NewFlowWriter creates a new FlowWriter for a plan.
func NewFlowWriter(flowDetail *FlowDetail, outputDir string, index *IndexWriter) *FlowWriter {
	flowPath := filepath.Join(outputDir, "flows", flowDetail.ID+".json")
	assetsDir := filepath.Join(outputDir, "assets", flowDetail.ID)

	if err := ensureDir(assetsDir); err != nil {
		logger.Warn("report: create %s: %v", assetsDir, err)
	}

	return &FlowWriter{
		flow:      flowDetail,
		path:      flowPath,
		outputDir: outputDir,
		assetsDir: assetsDir,
		index:     index,
	}
}

// Start marks the plan as started.
func (w *FlowWriter) Start() {
	now := time.Now()
	w.flow.StartTime = now

	w.flush()
	w.updateIndex(StatusRunning, &now, nil, nil, nil)
}

// CommandStart marks a command as started.
func (w *FlowWriter) CommandStart(cmdIndex int) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) {
		return
	}

	now := time.Now()
	cmd := &w.flow.Commands[cmdIndex]
	cmd.Status = StatusRunning
	cmd.StartTime = &now

	w.flush()
	w.updateIndexProgress()
}

// AddHeal appends a resolution trace to a command and counts it in the index.
func (w *FlowWriter) AddHeal(cmdIndex int, res *heal.Result) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) || res == nil {
		return
	}
	cmd := &w.flow.Commands[cmdIndex]
	cmd.Heal = append(cmd.Heal, res)
	w.index.RecordHeal(res)
	w.flush()
}

// CommandEnd marks a command as complete.
func (w *FlowWriter) CommandEnd(cmdIndex int, status Status, element *Element, err *Error, artifacts CommandArtifacts) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) {
		return
	}

	now := time.Now()
	cmd := &w.flow.Commands[cmdIndex]
	cmd.Status = status
	cmd.EndTime = &now

	if cmd.StartTime != nil {
		duration := now.Sub(*cmd.StartTime).Milliseconds()
		cmd.Duration = &duration
	}

	cmd.Element = element
	cmd.Error = err
	cmd.Artifacts = artifacts

	w.flush()
	w.updateIndexProgress()
}

// End marks the plan as complete.
func (w *FlowWriter) End(status Status) {
	now := time.Now()
	w.flow.EndTime = &now

	var duration int64
	if !w.flow.StartTime.IsZero() {
		duration = now.Sub(w.flow.StartTime).Milliseconds()
		w.flow.Duration = &duration
	}

	w.flush()

	var errMsg *string
	if status == StatusFailed {
		// Find first error
		for _, cmd := range w.flow.Commands {
			if cmd.Error != nil {
				msg := cmd.Error.Message
				errMsg = &msg
				break
			}
		}
	}

	w.updateIndex(status, nil, &now, &duration, errMsg)
}

// SaveScreenshot saves a step screenshot. It returns the path relative to
// the report directory and the absolute path for the healing engine.
func (w *FlowWriter) SaveScreenshot(cmdIndex int, timing string, data []byte) (string, string, error) {
	filename := fmt.Sprintf("cmd-%03d-%s.png", cmdIndex, timing)
	_, absPath, err := core.SaveScreenshot(w.assetsDir, filename, data)
	if err != nil {
		return "", "", err
	}

	// Return relative path for JSON
	return filepath.Join("assets", w.flow.ID, filename), absPath, nil
}

// GetFlowDetail returns the current plan detail (for reading).
func (w *FlowWriter) GetFlowDetail() *FlowDetail {
	return w.flow
}

// flush writes the plan detail to disk.
func (w *FlowWriter) flush() {
	if err := atomicWriteJSON(w.path, w.flow); err != nil {
		logger.Warn("report: write %s: %v", w.path, err)
	}
}

// updateIndex updates the index with current plan state.
func (w *FlowWriter) updateIndex(status Status, startTime, endTime *time.Time, duration *int64, errMsg *string) {
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:    status,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  duration,
		Commands:  w.commandSummary(),
		Error:     errMsg,
	})
}

// updateIndexProgress updates the index with progress only.
func (w *FlowWriter) updateIndexProgress() {
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:   StatusRunning,
		Commands: w.commandSummary(),
	})
}

// commandSummary computes command summary.
func (w *FlowWriter) commandSummary() CommandSummary {
	var s CommandSummary
	s.Total = len(w.flow.Commands)

	for i, cmd := range w.flow.Commands {
		switch cmd.Status {
		case StatusPassed:
			s.Passed++
		case StatusHealed:
			s.Healed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
			idx := i
			s.Current = &idx
		case StatusPending:
			s.Pending++
		}
	}

	return s
}

// SkipRemainingCommands marks all pending commands as skipped.
// Called when a command fails and we need to skip the rest.
func (w *FlowWriter) SkipRemainingCommands(fromIndex int) {
	for i := fromIndex; i < len(w.flow.Commands); i++ {
		if w.flow.Commands[i].Status == StatusPending {
			w.flow.Commands[i].Status = StatusSkipped
		}
	}
	w.flush()
}

// Package report provides JSON-based run reporting with real-time updates.
//
// Architecture:
//   - report.json: Main index file (small, frequently updated, mutex-protected)
//   - flows/flow-XXX.json: Per-plan detail files with healing traces (no lock needed)
//   - assets/flow-XXX/: Per-plan artifacts (screenshots)
//   - report.txt: Human-readable summary written at the end of the run
//
// The index file serves as single source of truth for status and change tracking.
package report

import (
	"time"

	"github.com/devicelab-dev/selfheal/pkg/heal"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusHealed  Status = "healed" // passed after the target was resolved by healing
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusHealed || s == StatusFailed || s == StatusSkipped
}

// IsSuccess returns true for passed and healed.
func (s Status) IsSuccess() bool {
	return s == StatusPassed || s == StatusHealed
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file that binds everything together.
type Index struct {
	Version     string      `json:"version"`
	RunID       string      `json:"runId"`
	UpdateSeq   uint64      `json:"updateSeq"`
	Status      Status      `json:"status"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Device      Device      `json:"device"`
	Runner      RunnerInfo  `json:"runner"`
	Summary     Summary     `json:"summary"`
	Healing     HealSummary `json:"healing"`
	Flows       []FlowEntry `json:"flows"`
}

// Device contains device or browser information.
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Platform  string `json:"platform"` // web, android, ios, mock
	OSVersion string `json:"osVersion,omitempty"`
}

// RunnerInfo contains runner information.
type RunnerInfo struct {
	Version    string   `json:"version"`
	Driver     string   `json:"driver"` // web, mock
	Strategies []string `json:"strategies"`
}

// Summary contains aggregated plan counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// HealSummary counts resolutions across the run.
type HealSummary struct {
	Resolved   int            `json:"resolved"`
	Unresolved int            `json:"unresolved"`
	ByStrategy map[string]int `json:"byStrategy,omitempty"`
}

// FlowEntry is the index entry for a plan (minimal info).
type FlowEntry struct {
	Index       int            `json:"index"`      // Original position
	ID          string         `json:"id"`         // Unique plan ID
	Name        string         `json:"name"`       // Display name
	SourceFile  string         `json:"sourceFile"` // Path to YAML file
	DataFile    string         `json:"dataFile"`   // Path to plan detail JSON
	AssetsDir   string         `json:"assetsDir"`  // Path to assets directory
	Status      Status         `json:"status"`
	UpdateSeq   uint64         `json:"updateSeq"`
	StartTime   *time.Time     `json:"startTime,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	Duration    *int64         `json:"duration,omitempty"` // milliseconds
	LastUpdated *time.Time     `json:"lastUpdated,omitempty"`
	Commands    CommandSummary `json:"commands"`
	Error       *string        `json:"error,omitempty"`
}

// CommandSummary contains command counts for a plan.
type CommandSummary struct {
	Total   int  `json:"total"`
	Passed  int  `json:"passed"`
	Healed  int  `json:"healed"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
	Running int  `json:"running"`
	Pending int  `json:"pending"`
	Current *int `json:"current,omitempty"` // Currently running command index
}

// ============================================================================
// FLOW DETAIL (flows/flow-XXX.json)
// ============================================================================

// FlowDetail contains full plan execution details.
type FlowDetail struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SourceFile string     `json:"sourceFile"`
	Tags       []string   `json:"tags,omitempty"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Duration   *int64     `json:"duration,omitempty"` // milliseconds
	Commands   []Command  `json:"commands"`
}

// Command represents a single step execution.
type Command struct {
	ID        string           `json:"id"`
	Index     int              `json:"index"`
	Type      string           `json:"type"`
	Label     string           `json:"label,omitempty"` // Human-readable description from YAML label field
	YAML      string           `json:"yaml,omitempty"`
	Status    Status           `json:"status"`
	StartTime *time.Time       `json:"startTime,omitempty"`
	EndTime   *time.Time       `json:"endTime,omitempty"`
	Duration  *int64           `json:"duration,omitempty"` // milliseconds
	Params    *CommandParams   `json:"params,omitempty"`
	Element   *Element         `json:"element,omitempty"`
	Heal      []*heal.Result   `json:"heal,omitempty"` // one trace per resolution, in order
	Error     *Error           `json:"error,omitempty"`
	Artifacts CommandArtifacts `json:"artifacts"`
}

// CommandParams contains command-specific parameters.
type CommandParams struct {
	Target   *Target `json:"target,omitempty"`
	Text     string  `json:"text,omitempty"`
	Timeout  int     `json:"timeout,omitempty"`
	Optional bool    `json:"optional,omitempty"`
}

// Target is the element a command acts on.
type Target struct {
	Name           string `json:"name"`
	TestID         string `json:"testId,omitempty"`
	Role           string `json:"role,omitempty"`
	Text           string `json:"text,omitempty"`
	SemanticsLabel string `json:"semanticsLabel,omitempty"`
}

// Element describes how the command reached its element.
type Element struct {
	Found  bool    `json:"found"`
	ID     string  `json:"id,omitempty"`
	Text   string  `json:"text,omitempty"`
	Role   string  `json:"role,omitempty"`
	Bounds *Bounds `json:"bounds,omitempty"`
	// Point is set when the command tapped raw coordinates.
	Point *Point `json:"point,omitempty"`
}

// Bounds represents element bounds.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Point is a tapped screenshot-pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Error contains error details.
type Error struct {
	Type       string `json:"type"` // resolution, transport, config, unknown
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ============================================================================
// ARTIFACTS (paths only, never inline data)
// ============================================================================

// CommandArtifacts contains command-level artifact paths.
type CommandArtifacts struct {
	Screenshots []string `json:"screenshots,omitempty"`
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// FlowUpdate contains the fields to update in index for a plan.
type FlowUpdate struct {
	Status    Status
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Commands  CommandSummary
	Error     *string
}

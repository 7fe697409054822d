// Package vision defines the narrow contracts the healing engine uses to
// reach detection, grounding and segmentation services, plus HTTP and
// scripted implementations of them.
//
// Every implementation absorbs its own failures: transport errors,
// timeouts, non-2xx answers and malformed JSON all come back as "no usable
// result", never as an error the engine has to handle.
package vision

import (
	"context"

	"github.com/devicelab-dev/selfheal/pkg/core"
)

// FallbackConfidence is reported when a grounder could not decide and fell
// back to the first candidate. It is below every acceptance threshold.
const FallbackConfidence = 0.1

// Candidate is one UI element proposed by a detector for one screenshot.
type Candidate struct {
	ID         string   `json:"id"`
	Type       string   `json:"type,omitempty"`
	Text       string   `json:"text,omitempty"`
	Role       string   `json:"role,omitempty"`
	BBox       core.Box `json:"bbox"`
	Confidence float64  `json:"confidence"`
}

// Detector proposes candidate elements on a screenshot.
type Detector interface {
	Detect(ctx context.Context, screenshotPath string) []Candidate
}

// GroundingRequest asks a grounder to pick the candidate matching Intent.
type GroundingRequest struct {
	ScreenshotPath string      `json:"-"`
	Candidates     []Candidate `json:"candidates"`
	Intent         string      `json:"intent"`
	// Hint is the normalized region where the target was last seen, if any.
	Hint *core.Box `json:"hint,omitempty"`
}

// Selection is a grounder's answer.
type Selection struct {
	SelectedID string  `json:"selected_id"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	Fallback   bool    `json:"-"`
}

// Grounder arbitrates between candidates. It always returns a selection.
type Grounder interface {
	Pick(ctx context.Context, req GroundingRequest) Selection
}

// SegmentRequest asks for a precise click point matching Prompt.
type SegmentRequest struct {
	ScreenshotPath string `json:"-"`
	Prompt         string `json:"prompt"`
}

// Segmentation is a segmenter's answer. ClickPoint is nil on failure.
type Segmentation struct {
	ClickPoint *core.Point
	Confidence float64
}

// Segmenter finds click points on irregular controls.
type Segmenter interface {
	Segment(ctx context.Context, req SegmentRequest) Segmentation
}

// Intent builds the grounding intent for a target.
func Intent(t core.Target) string {
	return "tap " + t.DisplayName()
}

// Prompt builds the segmentation text prompt for a target.
func Prompt(t core.Target) string {
	return t.DisplayName()
}

// FallbackSelection picks the first candidate at FallbackConfidence.
func FallbackSelection(candidates []Candidate, reason string) Selection {
	sel := Selection{Confidence: FallbackConfidence, Reason: "fallback: " + reason, Fallback: true}
	if len(candidates) > 0 {
		sel.SelectedID = candidates[0].ID
	}
	return sel
}

// FindCandidate returns the candidate with id.
func FindCandidate(candidates []Candidate, id string) (Candidate, bool) {
	for _, c := range candidates {
		if c.ID == id {
			return c, true
		}
	}
	return Candidate{}, false
}

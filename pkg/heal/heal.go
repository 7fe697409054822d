// Package heal resolves a target to a recipe or a click point when native
// lookup fails. Strategies run in a fixed order, cheapest first, and the
// first one to reach its acceptance threshold wins.
//
// Resolution is read-only: the engine never writes to locator memory or the
// visual index. The caller records outcomes once the action really worked.
package heal

import (
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/memory"
	"github.com/devicelab-dev/selfheal/pkg/vision"
	"github.com/devicelab-dev/selfheal/pkg/vms"
)

// Strategy names one stage of the cascade.
type Strategy string

const (
	StrategyMemory Strategy = "memory"
	StrategyVMS    Strategy = "vms"
	StrategyVGS    Strategy = "vgs"
	StrategySAM3   Strategy = "sam3"
)

// AllStrategies lists every strategy in cascade order.
var AllStrategies = []Strategy{StrategyMemory, StrategyVMS, StrategyVGS, StrategySAM3}

// ParseStrategy converts a name from config or flags.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyMemory, StrategyVMS, StrategyVGS, StrategySAM3:
		return st, nil
	}
	return "", fmt.Errorf("unknown strategy %q (want memory, vms, vgs or sam3)", s)
}

// Thresholds are the acceptance gates for the scored strategies. A zero
// gate means unset and takes its default; the smallest usable gate is any
// positive value.
type Thresholds struct {
	VGS  float64 `yaml:"vgs" json:"vgs"`
	SAM3 float64 `yaml:"sam3" json:"sam3"`
	VMS  float64 `yaml:"vms" json:"vms"`
}

// DefaultThresholds returns the standard acceptance gates.
func DefaultThresholds() Thresholds {
	return Thresholds{VGS: 0.35, SAM3: 0.5, VMS: 0.9}
}

// Request is everything one resolution needs.
type Request struct {
	Target         core.Target
	ScreenshotPath string
	Platform       string
	RunID          string
	StepID         string
	// ScreenLabel keys visual hints; empty disables hint lookup.
	ScreenLabel string
	// Enabled lists the strategies to try. Nil means all of them.
	Enabled []Strategy

	dims core.Dims
}

func (r *Request) enabled(s Strategy) bool {
	if r.Enabled == nil {
		return true
	}
	for _, e := range r.Enabled {
		if e == s {
			return true
		}
	}
	return false
}

// Without returns a copy of the request with strategy s disabled.
func (r Request) Without(s Strategy) Request {
	src := r.Enabled
	if src == nil {
		src = AllStrategies
	}
	out := make([]Strategy, 0, len(src))
	for _, e := range src {
		if e != s {
			out = append(out, e)
		}
	}
	r.Enabled = out
	return r
}

// Attempt is one trace record.
type Attempt struct {
	Strategy   Strategy      `json:"strategy"`
	Success    bool          `json:"success"`
	Confidence *float64      `json:"confidence,omitempty"`
	Details    string        `json:"details,omitempty"`
	Duration   time.Duration `json:"durationNs"`
}

func (a Attempt) String() string {
	status := "failed"
	if a.Success {
		status = "ok"
	}
	s := fmt.Sprintf("%s: %s", a.Strategy, status)
	if a.Confidence != nil {
		s += fmt.Sprintf(" (confidence %.2f)", *a.Confidence)
	}
	if a.Details != "" {
		s += " - " + a.Details
	}
	return s
}

// Result is the terminal output of one resolution. Exactly one of Recipe
// and Point is set when Strategy is non-empty.
type Result struct {
	Target     core.Target  `json:"target"`
	Strategy   Strategy     `json:"strategy,omitempty"`
	Recipe     *core.Recipe `json:"recipe,omitempty"`
	Point      *core.Point  `json:"point,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`
	Box        *core.Box    `json:"box,omitempty"` // pixel box of the chosen candidate, if known

	Attempts []Attempt  `json:"attempts"`
	Skipped  []Strategy `json:"skipped,omitempty"`
	Dims     core.Dims  `json:"dims"`
	Label    string     `json:"screenLabel,omitempty"`
	Path     string     `json:"screenshot,omitempty"`
}

// Resolved reports whether some strategy was accepted.
func (r *Result) Resolved() bool {
	return r != nil && r.Strategy != ""
}

// Err returns nil when resolved, otherwise ErrTargetNotResolved carrying
// the trace.
func (r *Result) Err() error {
	if r.Resolved() {
		return nil
	}
	lines := make([]string, len(r.Attempts))
	for i, a := range r.Attempts {
		lines[i] = a.String()
	}
	return core.ErrTargetNotResolved.
		WithMessage(fmt.Sprintf("could not resolve %q", r.Target.Name)).
		WithDetails(map[string]interface{}{
			"target":   r.Target.Name,
			"attempts": lines,
			"skipped":  r.Skipped,
		})
}

// Summary is a one-line description for logs and reports.
func (r *Result) Summary() string {
	switch {
	case !r.Resolved():
		return "not resolved"
	case r.Recipe != nil:
		return fmt.Sprintf("%s -> %s", r.Strategy, r.Recipe.Describe())
	default:
		return fmt.Sprintf("%s -> (%d, %d)", r.Strategy, r.Point.X, r.Point.Y)
	}
}

// Deps are the collaborators stages read from. Any of them may be nil;
// a stage whose collaborator is missing fails its attempt.
type Deps struct {
	Memory    memory.Store
	Embedder  vms.Embedder
	Index     *vms.Index
	Detector  vision.Detector
	Grounder  vision.Grounder
	Segmenter vision.Segmenter

	Thresholds Thresholds
	// VMSTopK bounds how many similar screens are consulted.
	VMSTopK int
}

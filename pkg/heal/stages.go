package heal

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/vision"
	"github.com/devicelab-dev/selfheal/pkg/vms"
)

// Outcome is what one stage produced. When Accepted, exactly one of Recipe
// and Point is set.
type Outcome struct {
	Accepted   bool
	Recipe     *core.Recipe
	Point      *core.Point
	Box        *core.Box
	Confidence *float64
	Details    string
}

// StageFunc runs one strategy. It must not write to memory or the index.
type StageFunc func(ctx context.Context, req *Request, deps *Deps) Outcome

// Stage binds a strategy to its implementation.
type Stage struct {
	Strategy Strategy
	Run      StageFunc
}

// DefaultStages returns the standard cascade: memory, vms, vgs, sam3.
func DefaultStages() []Stage {
	return []Stage{
		{Strategy: StrategyMemory, Run: MemoryStage},
		{Strategy: StrategyVMS, Run: VMSStage},
		{Strategy: StrategyVGS, Run: VGSStage},
		{Strategy: StrategySAM3, Run: SAM3Stage},
	}
}

func rejected(format string, args ...interface{}) Outcome {
	return Outcome{Details: fmt.Sprintf(format, args...)}
}

func score(v float64) *float64 { return &v }

// MemoryStage returns the best ranked recipe for the target name.
// It does not score confidence; the caller verifies the recipe live.
func MemoryStage(ctx context.Context, req *Request, deps *Deps) Outcome {
	if deps.Memory == nil {
		return rejected("no locator memory configured")
	}
	for _, v := range deps.Memory.VariantsFor(ctx, req.Target.Name) {
		if v.Recipe.IsEmpty() {
			continue
		}
		r := v.Recipe
		return Outcome{
			Accepted: true,
			Recipe:   &r,
			Details:  fmt.Sprintf("%s (score %.2f)", r.Describe(), v.Score()),
		}
	}
	return rejected("no recorded recipes")
}

// VMSStage reuses a resolution that worked for this exact target on a
// visually similar screen.
func VMSStage(ctx context.Context, req *Request, deps *Deps) Outcome {
	if deps.Embedder == nil || deps.Index == nil {
		return rejected("visual memory not configured")
	}
	if req.ScreenshotPath == "" {
		return rejected("no screenshot")
	}

	vec, err := deps.Embedder.Embed(ctx, req.ScreenshotPath)
	if err != nil {
		return rejected("embed: %v", err)
	}

	m, ok := deps.Index.Lookup(ctx, vec, req.Target.Name, deps.Thresholds.VMS, deps.VMSTopK)
	if !ok {
		return rejected("no similar screen resolved %q", req.Target.Name)
	}

	out := Outcome{Accepted: true, Confidence: score(m.Similarity)}
	switch {
	case m.Resolution.Recipe != nil:
		r := *m.Resolution.Recipe
		out.Recipe = &r
		out.Details = fmt.Sprintf("screen %s: %s", m.ScreenID, r.Describe())
	case m.Resolution.Point != nil && req.dims.Valid():
		pt := m.Resolution.Point.PixelPoint(req.dims)
		out.Point = &pt
		out.Details = fmt.Sprintf("screen %s: point (%d, %d)", m.ScreenID, pt.X, pt.Y)
	default:
		return Outcome{Confidence: score(m.Similarity), Details: "matched screen has no replayable resolution"}
	}
	return out
}

// VGSStage asks the detector for candidates and the grounder to pick one.
func VGSStage(ctx context.Context, req *Request, deps *Deps) Outcome {
	if deps.Detector == nil || deps.Grounder == nil {
		return rejected("vision grounding not configured")
	}

	candidates := deps.Detector.Detect(ctx, req.ScreenshotPath)
	if len(candidates) == 0 {
		return rejected("detector returned no candidates")
	}

	gr := vision.GroundingRequest{
		ScreenshotPath: req.ScreenshotPath,
		Candidates:     candidates,
		Intent:         vision.Intent(req.Target),
	}
	if hint, ok := visualHint(ctx, req, deps); ok {
		gr.Hint = &hint
		orderByHint(gr.Candidates, hint, req.dims)
	}

	sel := deps.Grounder.Pick(ctx, gr)
	conf := score(sel.Confidence)

	c, ok := vision.FindCandidate(gr.Candidates, sel.SelectedID)
	if !ok {
		return Outcome{Confidence: conf, Details: fmt.Sprintf("grounder selected unknown candidate %q", sel.SelectedID)}
	}
	if sel.Confidence < deps.Thresholds.VGS {
		return Outcome{Confidence: conf, Details: fmt.Sprintf("%s below threshold %.2f", c.ID, deps.Thresholds.VGS)}
	}

	pt := c.BBox.Center()
	box := c.BBox
	return Outcome{
		Accepted:   true,
		Point:      &pt,
		Box:        &box,
		Confidence: conf,
		Details:    fmt.Sprintf("%s of %d candidates", c.ID, len(candidates)),
	}
}

// SAM3Stage asks the segmenter for a precise click point.
func SAM3Stage(ctx context.Context, req *Request, deps *Deps) Outcome {
	if deps.Segmenter == nil {
		return rejected("segmentation not configured")
	}

	seg := deps.Segmenter.Segment(ctx, vision.SegmentRequest{
		ScreenshotPath: req.ScreenshotPath,
		Prompt:         vision.Prompt(req.Target),
	})
	conf := score(seg.Confidence)
	if seg.ClickPoint == nil {
		return Outcome{Confidence: conf, Details: "no click point"}
	}
	if seg.Confidence < deps.Thresholds.SAM3 {
		return Outcome{Confidence: conf, Details: fmt.Sprintf("below threshold %.2f", deps.Thresholds.SAM3)}
	}
	pt := *seg.ClickPoint
	return Outcome{Accepted: true, Point: &pt, Confidence: conf}
}

func visualHint(ctx context.Context, req *Request, deps *Deps) (core.Box, bool) {
	if deps.Memory == nil || req.ScreenLabel == "" {
		return core.Box{}, false
	}
	h, ok := deps.Memory.VisualHintFor(ctx, req.Target.Name, req.ScreenLabel)
	if !ok {
		return core.Box{}, false
	}
	return h.Box, true
}

// orderByHint sorts candidates by distance from the hinted region so the
// grounder sees the likeliest ones first.
func orderByHint(candidates []vision.Candidate, hint core.Box, dims core.Dims) {
	if !dims.Valid() {
		return
	}
	center := hint.Denormalize(dims.Width, dims.Height).Center()
	dist := func(c vision.Candidate) float64 {
		p := c.BBox.Center()
		return math.Hypot(float64(p.X-center.X), float64(p.Y-center.Y))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return dist(candidates[i]) < dist(candidates[j])
	})
}

// IndexResolution is the visual-index form of a resolved result.
func (r *Result) IndexResolution() vms.Resolution {
	if r.Recipe != nil {
		rc := *r.Recipe
		return vms.Resolution{Recipe: &rc}
	}
	if r.Point != nil {
		return vms.PointResolution(*r.Point, r.Dims)
	}
	return vms.Resolution{}
}

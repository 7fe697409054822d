package vision

import (
	"context"
	"sync/atomic"
)

// StaticDetector returns a fixed candidate list.
type StaticDetector struct {
	Candidates []Candidate
	// Panic makes Detect panic, for exercising stage isolation.
	Panic bool

	calls atomic.Int64
}

// Detect implements Detector.
func (d *StaticDetector) Detect(ctx context.Context, screenshotPath string) []Candidate {
	d.calls.Add(1)
	if d.Panic {
		panic("static detector: scripted panic")
	}
	out := make([]Candidate, len(d.Candidates))
	copy(out, d.Candidates)
	return out
}

// Calls returns how many times Detect ran.
func (d *StaticDetector) Calls() int { return int(d.calls.Load()) }

// StaticGrounder returns a fixed selection, or the fallback when
// SelectedID is empty.
type StaticGrounder struct {
	Selection Selection

	calls   atomic.Int64
	lastReq atomic.Pointer[GroundingRequest]
}

// Pick implements Grounder.
func (g *StaticGrounder) Pick(ctx context.Context, req GroundingRequest) Selection {
	g.calls.Add(1)
	g.lastReq.Store(&req)
	if g.Selection.SelectedID == "" {
		return FallbackSelection(req.Candidates, "no scripted selection")
	}
	return g.Selection
}

// Calls returns how many times Pick ran.
func (g *StaticGrounder) Calls() int { return int(g.calls.Load()) }

// LastRequest returns the most recent request, or nil.
func (g *StaticGrounder) LastRequest() *GroundingRequest { return g.lastReq.Load() }

// StaticSegmenter returns a fixed segmentation.
type StaticSegmenter struct {
	Result Segmentation

	calls atomic.Int64
}

// Segment implements Segmenter.
func (s *StaticSegmenter) Segment(ctx context.Context, req SegmentRequest) Segmentation {
	s.calls.Add(1)
	return s.Result
}

// Calls returns how many times Segment ran.
func (s *StaticSegmenter) Calls() int { return int(s.calls.Load()) }

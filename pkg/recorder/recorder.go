// Package recorder is the write path into locator memory and the visual
// index. It is called only after an action on a resolved target really
// succeeded (or a replayed recipe really failed).
package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/logger"
	"github.com/devicelab-dev/selfheal/pkg/memory"
	"github.com/devicelab-dev/selfheal/pkg/vms"
)

// DefaultHintFraction sizes a synthesized hint box relative to the screen.
const DefaultHintFraction = 0.06

// ErrNotResolved is returned when asked to record an unresolved result.
var ErrNotResolved = errors.New("recorder: result is not resolved")

// Writer records confirmed outcomes.
type Writer struct {
	store        memory.Store
	embedder     vms.Embedder
	index        *vms.Index
	hintFraction float64
	vmsForget    float64
}

// Option configures a Writer.
type Option func(*Writer)

// WithVisualMemory makes the writer index screenshots of successful
// resolutions. minSimilarity bounds which screens Forget touches.
func WithVisualMemory(e vms.Embedder, ix *vms.Index, minSimilarity float64) Option {
	return func(w *Writer) {
		w.embedder = e
		w.index = ix
		w.vmsForget = minSimilarity
	}
}

// WithHintFraction overrides the synthesized hint size.
func WithHintFraction(f float64) Option {
	return func(w *Writer) {
		if f > 0 && f <= 1 {
			w.hintFraction = f
		}
	}
}

// New creates a writer over store.
func New(store memory.Store, opts ...Option) *Writer {
	w := &Writer{store: store, hintFraction: DefaultHintFraction, vmsForget: heal.DefaultThresholds().VMS}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RecordSuccess persists a resolution that worked against the live UI.
// A recipe bumps its success counter; a click point becomes a visual hint
// for (name, screenLabel).
func (w *Writer) RecordSuccess(ctx context.Context, name string, res *heal.Result, dims core.Dims, screenLabel string) error {
	if !res.Resolved() {
		return ErrNotResolved
	}

	switch {
	case res.Recipe != nil:
		if err := w.store.Record(ctx, name, *res.Recipe, memory.Success); err != nil {
			return fmt.Errorf("record recipe: %w", err)
		}
	case res.Point != nil:
		if !dims.Valid() {
			logger.Warn("recorder: %s: no screen size, visual hint not recorded", name)
			break
		}
		box := w.hintBox(*res.Point, res.Box, dims)
		if err := w.store.RecordVisualHint(ctx, name, screenLabel, box); err != nil {
			return fmt.Errorf("record visual hint: %w", err)
		}
	}

	w.indexScreen(ctx, name, res, dims)
	return nil
}

// RecordFailure bumps the failure counter of a recipe that did not work
// when replayed.
func (w *Writer) RecordFailure(ctx context.Context, name string, recipe core.Recipe) error {
	if err := w.store.Record(ctx, name, recipe, memory.Failure); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// ForgetScreen drops name's visual-memory resolution for screens similar
// to the given screenshot, after a replayed visual match turned out wrong.
func (w *Writer) ForgetScreen(ctx context.Context, name, screenshotPath string) error {
	if w.index == nil || w.embedder == nil || screenshotPath == "" {
		return nil
	}
	vec, err := w.embedder.Embed(ctx, screenshotPath)
	if err != nil {
		return fmt.Errorf("embed screenshot: %w", err)
	}
	return w.index.Forget(ctx, vec, name, w.vmsForget)
}

// hintBox returns the normalized hint for a click point: the candidate's
// box when known, otherwise a box of hintFraction around the point.
func (w *Writer) hintBox(p core.Point, known *core.Box, dims core.Dims) core.Box {
	if known != nil && !known.IsZero() {
		return known.Normalize(dims.Width, dims.Height)
	}
	bw := w.hintFraction * float64(dims.Width)
	bh := w.hintFraction * float64(dims.Height)
	return core.Box{
		X: float64(p.X) - bw/2,
		Y: float64(p.Y) - bh/2,
		W: bw,
		H: bh,
	}.Normalize(dims.Width, dims.Height)
}

func (w *Writer) indexScreen(ctx context.Context, name string, res *heal.Result, dims core.Dims) {
	if w.index == nil || w.embedder == nil || res.Path == "" {
		return
	}

	var r vms.Resolution
	switch {
	case res.Recipe != nil:
		r = res.IndexResolution()
	case res.Point != nil:
		r = vms.PointResolution(*res.Point, dims)
	}
	if r.IsEmpty() {
		return
	}

	vec, err := w.embedder.Embed(ctx, res.Path)
	if err != nil {
		logger.Warn("recorder: embed %s: %v", res.Path, err)
		return
	}
	if err := w.index.Record(ctx, vec, name, r); err != nil {
		logger.Warn("recorder: index %s: %v", name, err)
	}
}

package heal

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/logger"
)

// Engine runs the cascade. It is safe for concurrent use as long as its
// collaborators are.
type Engine struct {
	deps   Deps
	stages []Stage
}

// Option configures an Engine.
type Option func(*Engine)

// WithStages replaces the cascade.
func WithStages(stages []Stage) Option {
	return func(e *Engine) { e.stages = stages }
}

// NewEngine creates an engine over deps. Zero thresholds take the defaults.
func NewEngine(deps Deps, opts ...Option) *Engine {
	def := DefaultThresholds()
	if deps.Thresholds.VGS == 0 {
		deps.Thresholds.VGS = def.VGS
	}
	if deps.Thresholds.SAM3 == 0 {
		deps.Thresholds.SAM3 = def.SAM3
	}
	if deps.Thresholds.VMS == 0 {
		deps.Thresholds.VMS = def.VMS
	}
	e := &Engine{deps: deps, stages: DefaultStages()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deps returns the engine's collaborators.
func (e *Engine) Deps() Deps { return e.deps }

// Resolve tries each enabled stage once, in order, until one accepts.
// It returns an error only for an invalid request; an exhausted cascade is
// a Result with Resolved() false.
func (e *Engine) Resolve(ctx context.Context, req Request) (*Result, error) {
	if req.Target.Name == "" {
		return nil, core.ErrInvalidTarget
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "heal.Resolve",
		trace.WithAttributes(
			attribute.String("heal.target", req.Target.Name),
			attribute.String("heal.platform", req.Platform),
			attribute.String("heal.run_id", req.RunID),
			attribute.String("heal.step_id", req.StepID),
		),
	)
	defer span.End()

	if req.ScreenshotPath != "" {
		if dims, err := core.ScreenshotDims(req.ScreenshotPath); err == nil {
			req.dims = dims
		} else {
			logger.Debug("heal: screenshot dims for %s: %v", req.ScreenshotPath, err)
		}
	}

	result := &Result{
		Target:   req.Target,
		Attempts: make([]Attempt, 0, len(e.stages)),
		Dims:     req.dims,
		Label:    req.ScreenLabel,
		Path:     req.ScreenshotPath,
	}

	for _, st := range e.stages {
		if !req.enabled(st.Strategy) {
			result.Skipped = append(result.Skipped, st.Strategy)
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Attempts = append(result.Attempts, Attempt{Strategy: st.Strategy, Details: err.Error()})
			break
		}

		out, attempt := e.runStage(ctx, st, &req)
		result.Attempts = append(result.Attempts, attempt)
		if !out.Accepted {
			continue
		}

		result.Strategy = st.Strategy
		result.Recipe = out.Recipe
		result.Point = out.Point
		result.Box = out.Box
		result.Confidence = out.Confidence
		break
	}

	outcome := "exhausted"
	if result.Resolved() {
		outcome = "resolved"
		span.SetAttributes(attribute.String("heal.strategy", string(result.Strategy)))
		span.SetStatus(codes.Ok, "")
		logger.Info("heal: %s resolved by %s in %v", req.Target.Name, result.Summary(), time.Since(start))
	} else {
		span.SetStatus(codes.Error, "cascade exhausted")
		logger.Warn("heal: %s not resolved after %d attempts", req.Target.Name, len(result.Attempts))
	}
	resolveSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return result, nil
}

// runStage executes one stage, turning a panic into a failed attempt.
func (e *Engine) runStage(ctx context.Context, st Stage, req *Request) (out Outcome, attempt Attempt) {
	ctx, span := tracer.Start(ctx, "heal.stage."+string(st.Strategy))
	defer span.End()

	start := time.Now()
	label := "rejected"
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s stage panicked: %v", st.Strategy, r)
			logger.Error("heal: %v", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			out = Outcome{Details: err.Error()}
			label = "panic"
		}

		attempt = Attempt{
			Strategy:   st.Strategy,
			Success:    out.Accepted,
			Confidence: out.Confidence,
			Details:    out.Details,
			Duration:   time.Since(start),
		}
		if out.Accepted {
			label = "accepted"
		}
		attemptsTotal.WithLabelValues(string(st.Strategy), label).Inc()
		if out.Confidence != nil {
			confidence.WithLabelValues(string(st.Strategy)).Observe(*out.Confidence)
			span.SetAttributes(attribute.Float64("heal.confidence", *out.Confidence))
		}
		span.SetAttributes(attribute.Bool("heal.accepted", out.Accepted))
		logger.Debug("heal: %s", attempt.String())
	}()

	deps := e.deps
	out = st.Run(ctx, req, &deps)
	return out, attempt
}

package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/flow"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/logger"
	"github.com/devicelab-dev/selfheal/pkg/recorder"
	"github.com/devicelab-dev/selfheal/pkg/report"
)

// action is what a step does with a resolved target.
type action int

const (
	actionTap action = iota
	actionAssert
)

// FlowRunner executes a single plan.
type FlowRunner struct {
	ctx         context.Context
	flow        *flow.Flow
	detail      *report.FlowDetail
	driver      core.Driver
	engine      *heal.Engine
	writer      *recorder.Writer
	config      RunnerConfig
	indexWriter *report.IndexWriter
	flowWriter  *report.FlowWriter
	flowIdx     int // Current plan index (0-based)
	totalFlows  int // Total number of plans
	// Step counters
	stepsPassed  int
	stepsHealed  int
	stepsFailed  int
	stepsSkipped int
}

// stepResult is the outcome of one step before it is written to the report.
type stepResult struct {
	healed    bool
	element   *report.Element
	err       error
	artifacts report.CommandArtifacts
}

// Run executes the plan and returns the result.
func (fr *FlowRunner) Run() FlowResult {
	flowStart := time.Now()

	fr.flowWriter = report.NewFlowWriter(fr.detail, fr.config.OutputDir, fr.indexWriter)

	if fr.flow.Config.Timeout > 0 {
		var cancel context.CancelFunc
		fr.ctx, cancel = context.WithTimeout(fr.ctx, time.Duration(fr.flow.Config.Timeout)*time.Millisecond)
		defer cancel()
	}

	flowName := fr.detail.Name
	flowFile := filepath.Base(fr.flow.SourcePath)
	if fr.config.OnFlowStart != nil {
		fr.config.OnFlowStart(fr.flowIdx, fr.totalFlows, flowName, flowFile)
	}

	fr.flowWriter.Start()

	flowStatus := report.StatusPassed
	var flowError string

	for i, step := range fr.flow.Steps {
		if err := fr.ctx.Err(); err != nil {
			fr.flowWriter.SkipRemainingCommands(i)
			fr.stepsSkipped += len(fr.flow.Steps) - i
			flowStatus = report.StatusFailed
			flowError = fmt.Sprintf("execution cancelled: %v", err)
			break
		}

		stepStatus, stepError, stepDuration := fr.executeStep(i, step)

		if fr.config.OnStepComplete != nil {
			fr.config.OnStepComplete(i, step.Describe(), stepStatus, stepDuration, stepError)
		}

		switch stepStatus {
		case report.StatusPassed:
			fr.stepsPassed++
		case report.StatusHealed:
			fr.stepsHealed++
		case report.StatusFailed:
			fr.stepsFailed++
		}

		if stepStatus == report.StatusFailed {
			if step.IsOptional() {
				continue
			}
			// Required step failed - skip remaining and fail plan
			fr.flowWriter.SkipRemainingCommands(i + 1)
			fr.stepsSkipped += len(fr.flow.Steps) - i - 1
			flowStatus = report.StatusFailed
			flowError = stepError
			break
		}
	}

	fr.flowWriter.End(flowStatus)

	flowDuration := time.Since(flowStart).Milliseconds()
	if fr.config.OnFlowEnd != nil {
		fr.config.OnFlowEnd(flowName, flowStatus == report.StatusPassed, flowDuration)
	}

	return FlowResult{
		ID:           fr.detail.ID,
		Name:         fr.detail.Name,
		Status:       flowStatus,
		Duration:     flowDuration,
		Error:        flowError,
		StepsTotal:   len(fr.flow.Steps),
		StepsPassed:  fr.stepsPassed,
		StepsHealed:  fr.stepsHealed,
		StepsFailed:  fr.stepsFailed,
		StepsSkipped: fr.stepsSkipped,
	}
}

// executeStep executes a single step and updates the report.
// Returns status, error message, and duration in milliseconds.
func (fr *FlowRunner) executeStep(idx int, step flow.Step) (report.Status, string, int64) {
	stepStart := time.Now()
	fr.flowWriter.CommandStart(idx)

	ctx := fr.ctx
	if base := stepBase(step); base != nil && base.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(base.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	var res stepResult
	switch s := step.(type) {
	case *flow.TapOnStep:
		res = fr.interact(ctx, idx, s.Target, actionTap)
	case *flow.AssertVisibleStep:
		res = fr.interact(ctx, idx, s.Target, actionAssert)
	case *flow.InputTextStep:
		res = fr.executeInputText(ctx, idx, s)
	default:
		res.err = fmt.Errorf("unsupported step type: %s", step.Type())
	}

	stepDuration := time.Since(stepStart).Milliseconds()

	var status report.Status
	var errMsg string
	switch {
	case res.err != nil:
		status = report.StatusFailed
		errMsg = res.err.Error()
		logger.Warn("step %d (%s) failed: %v", idx, step.Describe(), res.err)
	case res.healed:
		status = report.StatusHealed
	default:
		status = report.StatusPassed
	}

	fr.flowWriter.CommandEnd(idx, status, res.element, errorToReport(res.err), res.artifacts)
	return status, errMsg, stepDuration
}

func (fr *FlowRunner) executeInputText(ctx context.Context, idx int, s *flow.InputTextStep) stepResult {
	var res stepResult
	if s.Target != nil {
		res = fr.interact(ctx, idx, *s.Target, actionTap)
		if res.err != nil {
			return res
		}
	}
	if err := fr.driver.InputText(ctx, s.Text); err != nil {
		res.err = err
	}
	return res
}

// interact performs act on target: native lookup first, then healing.
func (fr *FlowRunner) interact(ctx context.Context, idx int, target core.Target, act action) stepResult {
	var res stepResult

	recipe := target.Recipe()
	var nativeErr error = core.ErrElementNotFound.WithMessage(fmt.Sprintf("%q has no native locator", target.Name))
	if !recipe.IsEmpty() {
		el, err := fr.driver.Find(ctx, recipe)
		if err == nil {
			res.element = elementToReport(el)
			res.err = fr.actOnElement(ctx, el, act)
			return res
		}
		if !errors.Is(err, core.ErrElementNotFound) {
			res.err = err
			return res
		}
		nativeErr = err
	}

	if fr.engine == nil {
		res.err = nativeErr
		return res
	}

	logger.Debug("step %d: native lookup for %s failed, healing", idx, target.Name)
	res.element, res.err = fr.heal(ctx, idx, target, act, &res.artifacts)
	res.healed = res.err == nil
	return res
}

// heal resolves target through the engine, applies the result and records
// the outcome. A resolution that fails against the live UI is recorded as a
// failure and re-resolved without the strategy that produced it.
func (fr *FlowRunner) heal(ctx context.Context, idx int, target core.Target, act action, artifacts *report.CommandArtifacts) (*report.Element, error) {
	data, err := fr.driver.Screenshot(ctx)
	if err != nil {
		return nil, core.ErrActionFailed.WithMessage("screenshot for healing failed").WithCause(err)
	}
	rel, abs, err := fr.flowWriter.SaveScreenshot(idx, "heal", data)
	if err != nil {
		return nil, err
	}
	artifacts.Screenshots = append(artifacts.Screenshots, rel)

	req := heal.Request{
		Target:         target,
		ScreenshotPath: abs,
		Platform:       fr.platform(),
		RunID:          fr.config.RunID,
		StepID:         fr.detail.Commands[idx].ID,
		ScreenLabel:    fr.screenLabel(ctx),
		Enabled:        fr.config.Strategies,
	}

	maxReplays := fr.config.MaxReplays
	if maxReplays <= 0 {
		maxReplays = len(heal.AllStrategies) - 1
	}

	for replay := 0; ; replay++ {
		res, err := fr.engine.Resolve(ctx, req)
		if err != nil {
			return nil, err
		}
		fr.flowWriter.AddHeal(idx, res)
		if !res.Resolved() {
			return nil, res.Err()
		}

		el, err := fr.apply(ctx, res, act)
		if err == nil {
			fr.recordSuccess(ctx, target.Name, res, act)
			return el, nil
		}

		logger.Warn("heal: %s via %s did not work: %v", target.Name, res.Summary(), err)
		fr.recordFailure(ctx, target.Name, res)
		if replay >= maxReplays {
			return nil, core.ErrActionFailed.
				WithMessage(fmt.Sprintf("%q resolved by %s but the action failed", target.Name, res.Strategy)).
				WithCause(err)
		}
		req = req.Without(res.Strategy)
	}
}

// apply performs act on a resolution.
func (fr *FlowRunner) apply(ctx context.Context, res *heal.Result, act action) (*report.Element, error) {
	if res.Recipe != nil {
		el, err := fr.driver.Find(ctx, *res.Recipe)
		if err != nil {
			return nil, err
		}
		return elementToReport(el), fr.actOnElement(ctx, el, act)
	}

	p := *res.Point
	if act == actionTap {
		if err := fr.driver.TapPoint(ctx, p); err != nil {
			return nil, err
		}
	}
	return pointToReport(p), nil
}

func (fr *FlowRunner) actOnElement(ctx context.Context, el *core.ElementInfo, act action) error {
	if act == actionTap {
		return fr.driver.Tap(ctx, el)
	}
	return nil
}

// recordSuccess writes a confirmed resolution back to memory. A click point
// that was only asserted, never tapped, is not confirmed.
func (fr *FlowRunner) recordSuccess(ctx context.Context, name string, res *heal.Result, act action) {
	if fr.writer == nil {
		return
	}
	if res.Point != nil && act == actionAssert {
		return
	}
	if err := fr.writer.RecordSuccess(ctx, name, res, res.Dims, res.Label); err != nil {
		logger.Warn("heal: record %s: %v", name, err)
	}
}

func (fr *FlowRunner) recordFailure(ctx context.Context, name string, res *heal.Result) {
	if fr.writer == nil {
		return
	}
	if res.Recipe != nil {
		if err := fr.writer.RecordFailure(ctx, name, *res.Recipe); err != nil {
			logger.Warn("heal: record failure for %s: %v", name, err)
		}
	}
	if res.Strategy == heal.StrategyVMS {
		if err := fr.writer.ForgetScreen(ctx, name, res.Path); err != nil {
			logger.Warn("heal: forget %s: %v", name, err)
		}
	}
}

func (fr *FlowRunner) platform() string {
	if info := fr.driver.GetPlatformInfo(); info != nil && info.Platform != "" {
		return info.Platform
	}
	return fr.flow.Config.Platform
}

func (fr *FlowRunner) screenLabel(ctx context.Context) string {
	if label := fr.driver.ScreenLabel(ctx); label != "" {
		return label
	}
	return fr.flow.Config.Screen
}

func stepBase(step flow.Step) *flow.BaseStep {
	switch s := step.(type) {
	case *flow.TapOnStep:
		return &s.BaseStep
	case *flow.InputTextStep:
		return &s.BaseStep
	case *flow.AssertVisibleStep:
		return &s.BaseStep
	}
	return nil
}

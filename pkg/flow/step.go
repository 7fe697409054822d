package flow

import (
	"fmt"

	"github.com/devicelab-dev/selfheal/pkg/core"
)

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	StepTapOn         StepType = "tapOn"
	StepInputText     StepType = "inputText"
	StepAssertVisible StepType = "assertVisible"
)

// Step is the interface for all plan steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
	// TargetOf returns the element the step acts on, if any.
	TargetOf() (core.Target, bool)
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
	TimeoutMs int      `yaml:"timeout"`
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// TargetOf reports no target.
func (b *BaseStep) TargetOf() (core.Target, bool) { return core.Target{}, false }

// TapOnStep taps on a target.
type TapOnStep struct {
	BaseStep `yaml:",inline"`
	Target   core.Target `yaml:"-"`
}

// TargetOf returns the tapped target.
func (s *TapOnStep) TargetOf() (core.Target, bool) { return s.Target, true }

// Describe returns a human-readable description.
func (s *TapOnStep) Describe() string {
	return fmt.Sprintf("tapOn: %s", s.Target.Name)
}

// InputTextStep types text, optionally tapping a target first to focus it.
type InputTextStep struct {
	BaseStep `yaml:",inline"`
	Text     string       `yaml:"text"`
	Target   *core.Target `yaml:"-"`
}

// TargetOf returns the field to focus, if any.
func (s *InputTextStep) TargetOf() (core.Target, bool) {
	if s.Target == nil {
		return core.Target{}, false
	}
	return *s.Target, true
}

// Describe returns a human-readable description.
func (s *InputTextStep) Describe() string {
	if s.Target != nil {
		return fmt.Sprintf("inputText: %q into %s", s.Text, s.Target.Name)
	}
	return fmt.Sprintf("inputText: %q", s.Text)
}

// AssertVisibleStep checks that a target can be resolved on screen.
type AssertVisibleStep struct {
	BaseStep `yaml:",inline"`
	Target   core.Target `yaml:"-"`
}

// TargetOf returns the asserted target.
func (s *AssertVisibleStep) TargetOf() (core.Target, bool) { return s.Target, true }

// Describe returns a human-readable description.
func (s *AssertVisibleStep) Describe() string {
	return fmt.Sprintf("assertVisible: %s", s.Target.Name)
}

package executor

import (
	"errors"
	"strings"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/report"
)

// elementToReport converts core.ElementInfo to report.Element.
func elementToReport(el *core.ElementInfo) *report.Element {
	if el == nil {
		return nil
	}
	return &report.Element{
		Found: true,
		ID:    el.ID,
		Text:  el.Text,
		Role:  el.Role,
		Bounds: &report.Bounds{
			X:      el.Bounds.X,
			Y:      el.Bounds.Y,
			Width:  el.Bounds.Width,
			Height: el.Bounds.Height,
		},
	}
}

// pointToReport describes a raw coordinate tap.
func pointToReport(p core.Point) *report.Element {
	return &report.Element{Found: true, Point: &report.Point{X: p.X, Y: p.Y}}
}

// errorToReport converts a step error to report.Error.
func errorToReport(err error) *report.Error {
	if err == nil {
		return nil
	}

	out := &report.Error{Type: "unknown", Message: err.Error()}

	var execErr *core.ExecutionError
	if !errors.As(err, &execErr) {
		return out
	}
	out.Type = execErr.Category.String()

	if attempts, ok := execErr.Details["attempts"].([]string); ok && len(attempts) > 0 {
		out.Details = strings.Join(attempts, "\n")
	}
	switch {
	case errors.Is(err, core.ErrTargetNotResolved):
		out.Suggestion = "add a testId to the element, or check that the vision services are reachable"
	case errors.Is(err, core.ErrElementNotFound):
		out.Suggestion = "enable healing strategies to resolve targets without a stable locator"
	}
	return out
}

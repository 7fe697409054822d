// Package core provides the shared model types for selfheal.
package core

import (
	"math"
	"strings"
)

// Target describes what a step wants to interact with.
// Name is the unique key used by locator memory; the remaining fields are
// optional hints a driver may use to find the element natively.
type Target struct {
	Name           string `yaml:"name" json:"name"`
	TestID         string `yaml:"testId" json:"testId,omitempty"`
	Role           string `yaml:"role" json:"role,omitempty"`
	Text           string `yaml:"text" json:"text,omitempty"`
	SemanticsLabel string `yaml:"semanticsLabel" json:"semanticsLabel,omitempty"`
}

// Recipe returns the structural recipe carried by the target itself.
// The result is empty when the target only has a name.
func (t Target) Recipe() Recipe {
	return Recipe{
		TestID:         t.TestID,
		Role:           t.Role,
		Text:           t.Text,
		SemanticsLabel: t.SemanticsLabel,
	}
}

// DisplayName returns the most human-readable description of the target.
func (t Target) DisplayName() string {
	switch {
	case t.Text != "":
		return t.Text
	case t.SemanticsLabel != "":
		return t.SemanticsLabel
	default:
		return Humanize(t.Name)
	}
}

// Humanize turns identifiers like "deal_again_button" or "dealAgainButton"
// into "deal again button".
func Humanize(name string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.':
			b.WriteByte(' ')
			prevLower = false
			continue
		case r >= 'A' && r <= 'Z':
			if prevLower {
				b.WriteByte(' ')
			}
			b.WriteRune(r + ('a' - 'A'))
			prevLower = false
			continue
		}
		b.WriteRune(r)
		prevLower = r >= 'a' && r <= 'z' || r >= '0' && r <= '9'
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Recipe is one concrete, replayable way to find an element.
type Recipe struct {
	TestID         string `yaml:"testId,omitempty" json:"testId,omitempty"`
	Role           string `yaml:"role,omitempty" json:"role,omitempty"`
	Text           string `yaml:"text,omitempty" json:"text,omitempty"`
	SemanticsLabel string `yaml:"semanticsLabel,omitempty" json:"semanticsLabel,omitempty"`
}

// IsEmpty returns true if no recipe field is set.
func (r Recipe) IsEmpty() bool {
	return r.TestID == "" && r.Role == "" && r.Text == "" && r.SemanticsLabel == ""
}

// Key returns a canonical identity for the recipe. Two recipes with the
// same key are the same recipe for counting purposes.
func (r Recipe) Key() string {
	return strings.Join([]string{
		"testId=" + r.TestID,
		"role=" + r.Role,
		"text=" + r.Text,
		"semanticsLabel=" + r.SemanticsLabel,
	}, "\x1f")
}

// Describe returns a human-readable description like testId="x" role="button".
func (r Recipe) Describe() string {
	var parts []string
	if r.TestID != "" {
		parts = append(parts, "testId=\""+r.TestID+"\"")
	}
	if r.Role != "" {
		parts = append(parts, "role=\""+r.Role+"\"")
	}
	if r.Text != "" {
		parts = append(parts, "text=\""+r.Text+"\"")
	}
	if r.SemanticsLabel != "" {
		parts = append(parts, "semanticsLabel=\""+r.SemanticsLabel+"\"")
	}
	return strings.Join(parts, " ")
}

// Point is a location in screenshot-pixel space.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Box is an axis-aligned rectangle. Depending on context it is either in
// pixels (detector output) or normalized to [0,1] (visual hints).
type Box struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// Center returns the rounded center point of a pixel box.
func (b Box) Center() Point {
	return Point{
		X: int(math.Round(b.X + b.W/2)),
		Y: int(math.Round(b.Y + b.H/2)),
	}
}

// Normalize converts a pixel box into [0,1] coordinates for a screen of the given size.
func (b Box) Normalize(width, height int) Box {
	if width <= 0 || height <= 0 {
		return Box{}
	}
	w, h := float64(width), float64(height)
	return Box{X: b.X / w, Y: b.Y / h, W: b.W / w, H: b.H / h}.Clamp()
}

// Denormalize converts a normalized box back into pixels.
func (b Box) Denormalize(width, height int) Box {
	w, h := float64(width), float64(height)
	return Box{X: b.X * w, Y: b.Y * h, W: b.W * w, H: b.H * h}
}

// Clamp restricts a normalized box to the unit square.
func (b Box) Clamp() Box {
	if b.X >= 0 && b.Y >= 0 && b.X+b.W <= 1 && b.Y+b.H <= 1 {
		return b
	}
	x0 := clamp01(b.X)
	y0 := clamp01(b.Y)
	x1 := clamp01(b.X + b.W)
	y1 := clamp01(b.Y + b.H)
	return Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Contains checks if a pixel point lies within the box.
func (b Box) Contains(p Point) bool {
	x, y := float64(p.X), float64(p.Y)
	return x >= b.X && x < b.X+b.W && y >= b.Y && y < b.Y+b.H
}

// IsZero returns true for the zero box.
func (b Box) IsZero() bool {
	return b.W == 0 && b.H == 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

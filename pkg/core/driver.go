package core

import (
	"context"
	"time"
)

// Driver defines the interface for acting on a device or page.
// Implementations: web (rod), mock. Native mobile bindings live outside this repo.
// The executor decides what to do; the Driver just performs single actions.
type Driver interface {
	// Find locates an element by recipe. Returns ErrElementNotFound when absent.
	Find(ctx context.Context, recipe Recipe) (*ElementInfo, error)

	// Tap taps a previously found element.
	Tap(ctx context.Context, el *ElementInfo) error

	// TapPoint taps raw screenshot-pixel coordinates.
	TapPoint(ctx context.Context, p Point) error

	// InputText types into the focused element.
	InputText(ctx context.Context, text string) error

	// Screenshot captures the current screen as PNG
	Screenshot(ctx context.Context) ([]byte, error)

	// ScreenLabel returns a coarse identifier of the current screen
	// (URL path, activity name). Used to key visual hints.
	ScreenLabel(ctx context.Context) string

	// GetPlatformInfo returns device/platform information
	GetPlatformInfo() *PlatformInfo
}

// ElementInfo represents information about a UI element
type ElementInfo struct {
	ID                 string            `json:"id,omitempty"`
	Text               string            `json:"text,omitempty"`
	Role               string            `json:"role,omitempty"`
	Bounds             Bounds            `json:"bounds"`
	Visible            bool              `json:"visible"`
	Enabled            bool              `json:"enabled"`
	AccessibilityLabel string            `json:"accessibilityLabel,omitempty"`
	Attributes         map[string]string `json:"attributes,omitempty"`
}

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.X && p.X < b.X+b.Width && p.Y >= b.Y && p.Y < b.Y+b.Height
}

// Box converts bounds to a pixel Box.
func (b Bounds) Box() Box {
	return Box{X: float64(b.X), Y: float64(b.Y), W: float64(b.Width), H: float64(b.Height)}
}

// PlatformInfo contains device and platform details
type PlatformInfo struct {
	Platform     string `json:"platform"`               // web, ios, android, mock
	OSVersion    string `json:"osVersion,omitempty"`    // e.g., "17.0", "14"
	DeviceName   string `json:"deviceName"`             // e.g., "chromium", "Pixel 8"
	DeviceID     string `json:"deviceId"`               // Unique device identifier
	ScreenWidth  int    `json:"screenWidth,omitempty"`  // Screen width in pixels
	ScreenHeight int    `json:"screenHeight,omitempty"` // Screen height in pixels
	AppID        string `json:"appId,omitempty"`        // Bundle ID / Package name / origin
}

// Dims is a screenshot size in pixels.
type Dims struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid returns true if both dimensions are positive.
func (d Dims) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// LogEntry represents a single log message captured during execution
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`  // debug, info, warn, error
	Source    string    `json:"source"` // driver, heal, executor
	Message   string    `json:"message"`
}

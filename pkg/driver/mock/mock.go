// Package mock provides a fixture-driven driver for testing without a real
// device or browser.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/selfheal/pkg/core"
)

// Element is one element on a fixture screen.
type Element struct {
	TestID         string      `yaml:"testId"`
	Role           string      `yaml:"role"`
	Text           string      `yaml:"text"`
	SemanticsLabel string      `yaml:"semanticsLabel"`
	Bounds         core.Bounds `yaml:"bounds"`
	// Hidden elements are drawn but invisible to Find, like widgets
	// rendered into a canvas.
	Hidden bool `yaml:"hidden"`
}

// Screen is a fixture screen.
type Screen struct {
	Label    string    `yaml:"label"`
	Width    int       `yaml:"width"`
	Height   int       `yaml:"height"`
	Elements []Element `yaml:"elements"`
	// Screenshot is an optional PNG served instead of a generated image.
	Screenshot string `yaml:"screenshot"`
}

// Config configures mock driver behavior.
type Config struct {
	Screen Screen
	// ActionDelay adds artificial delay per action
	ActionDelay time.Duration
	// Platform info to report
	Platform string
	DeviceID string
}

// Driver is a mock implementation of core.Driver for testing.
type Driver struct {
	Config Config

	mu     sync.Mutex
	finds  int
	taps   int
	shots  int
	typed  []string
	tapped []core.Point
}

// New creates a new mock driver.
func New(cfg Config) *Driver {
	if cfg.Platform == "" {
		cfg.Platform = "mock"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "mock-device"
	}
	if cfg.Screen.Width == 0 {
		cfg.Screen.Width = 400
	}
	if cfg.Screen.Height == 0 {
		cfg.Screen.Height = 800
	}
	return &Driver{Config: cfg}
}

// LoadScreen reads a YAML screen fixture.
func LoadScreen(path string) (Screen, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- fixture path from test or CLI
	if err != nil {
		return Screen{}, fmt.Errorf("read screen fixture: %w", err)
	}
	var s Screen
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Screen{}, fmt.Errorf("parse screen fixture: %w", err)
	}
	return s, nil
}

// SetScreen swaps the current screen, e.g. to simulate a UI change between runs.
func (d *Driver) SetScreen(s Screen) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Config.Screen = s
}

// Find returns the first visible element matching every field set in recipe.
func (d *Driver) Find(ctx context.Context, recipe core.Recipe) (*core.ElementInfo, error) {
	d.delay()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finds++

	if recipe.IsEmpty() {
		return nil, core.ErrInvalidRecipe
	}
	for _, el := range d.Config.Screen.Elements {
		if el.Hidden || !matches(el, recipe) {
			continue
		}
		return el.info(), nil
	}
	return nil, core.ErrElementNotFound.WithMessage("element not found: " + recipe.Describe())
}

// Tap taps a previously found element.
func (d *Driver) Tap(ctx context.Context, el *core.ElementInfo) error {
	if el == nil {
		return core.ErrActionFailed.WithMessage("tap: no element")
	}
	return d.TapPoint(ctx, el.Bounds.Center())
}

// TapPoint succeeds only when p lands inside an element on the current screen.
func (d *Driver) TapPoint(ctx context.Context, p core.Point) error {
	d.delay()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.taps++

	for _, el := range d.Config.Screen.Elements {
		if el.Bounds.Contains(p) {
			d.tapped = append(d.tapped, p)
			return nil
		}
	}
	return core.ErrActionFailed.WithMessage(fmt.Sprintf("tap at (%d,%d) hit nothing", p.X, p.Y))
}

// InputText records typed text.
func (d *Driver) InputText(ctx context.Context, text string) error {
	d.delay()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed = append(d.typed, text)
	return nil
}

// Screenshot returns the fixture image, or a generated PNG with each
// element painted as a filled rectangle.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shots++

	s := d.Config.Screen
	if s.Screenshot != "" {
		return os.ReadFile(s.Screenshot)
	}
	return render(s)
}

// ScreenLabel returns the fixture's label.
func (d *Driver) ScreenLabel(ctx context.Context) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Config.Screen.Label
}

// GetPlatformInfo returns mock platform info.
func (d *Driver) GetPlatformInfo() *core.PlatformInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &core.PlatformInfo{
		Platform:     d.Config.Platform,
		DeviceID:     d.Config.DeviceID,
		DeviceName:   "Mock Device",
		OSVersion:    "1.0",
		ScreenWidth:  d.Config.Screen.Width,
		ScreenHeight: d.Config.Screen.Height,
	}
}

// FindCalls returns the number of Find calls.
func (d *Driver) FindCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finds
}

// TapCalls returns the number of tap attempts, successful or not.
func (d *Driver) TapCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.taps
}

// ScreenshotCalls returns the number of screenshots taken.
func (d *Driver) ScreenshotCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shots
}

// Tapped returns the points of successful taps.
func (d *Driver) Tapped() []core.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.Point(nil), d.tapped...)
}

// Typed returns all text typed so far.
func (d *Driver) Typed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.typed...)
}

func (d *Driver) delay() {
	if d.Config.ActionDelay > 0 {
		time.Sleep(d.Config.ActionDelay)
	}
}

func (el Element) info() *core.ElementInfo {
	return &core.ElementInfo{
		ID:                 el.TestID,
		Text:               el.Text,
		Role:               el.Role,
		Bounds:             el.Bounds,
		Visible:            true,
		Enabled:            true,
		AccessibilityLabel: el.SemanticsLabel,
	}
}

func matches(el Element, r core.Recipe) bool {
	if r.TestID != "" && el.TestID != r.TestID {
		return false
	}
	if r.Role != "" && !strings.EqualFold(el.Role, r.Role) {
		return false
	}
	if r.Text != "" && !strings.EqualFold(strings.TrimSpace(el.Text), strings.TrimSpace(r.Text)) {
		return false
	}
	if r.SemanticsLabel != "" && !strings.EqualFold(el.SemanticsLabel, r.SemanticsLabel) {
		return false
	}
	return true
}

func render(s Screen) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	for i := range img.Pix {
		img.Pix[i] = 0xf0
	}
	for i, el := range s.Elements {
		shade := color.Gray{Y: uint8(40 + (i*53)%160)}
		b := el.Bounds
		for y := b.Y; y < b.Y+b.Height; y++ {
			for x := b.X; x < b.X+b.Width; x++ {
				img.SetGray(x, y, shade)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

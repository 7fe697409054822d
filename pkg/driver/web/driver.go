// Package web implements core.Driver for browser pages.
package web

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/logger"
)

// Default timeouts
const (
	DefaultFindTimeout = 3 * time.Second
	pollInterval       = 200 * time.Millisecond
)

// Node is an element snapshot taken in the page. Rect is in CSS pixels.
type Node struct {
	Tag     string  `json:"tag"`
	TestID  string  `json:"testId"`
	Role    string  `json:"role"`
	Text    string  `json:"text"`
	Label   string  `json:"label"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	W       float64 `json:"w"`
	H       float64 `json:"h"`
	Visible bool    `json:"visible"`
}

// Page defines the browser operations the driver needs.
// Implemented by rodPage. Allows mocking in tests.
type Page interface {
	Query(ctx context.Context, selector string) ([]Node, error)
	// Click clicks at CSS-pixel coordinates.
	Click(ctx context.Context, x, y float64) error
	InsertText(ctx context.Context, text string) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	// PixelRatio is the number of screenshot pixels per CSS pixel.
	PixelRatio(ctx context.Context) (float64, error)
}

// Driver implements core.Driver on top of a Page.
type Driver struct {
	page        Page
	info        *core.PlatformInfo
	findTimeout time.Duration
}

// New creates a web driver for page.
func New(page Page, info *core.PlatformInfo) *Driver {
	if info == nil {
		info = &core.PlatformInfo{Platform: "web", DeviceName: "chromium"}
	}
	return &Driver{page: page, info: info, findTimeout: DefaultFindTimeout}
}

// SetFindTimeout sets how long Find polls before giving up.
func (d *Driver) SetFindTimeout(t time.Duration) {
	d.findTimeout = t
}

// Find polls the page for the first visible element matching recipe.
func (d *Driver) Find(ctx context.Context, recipe core.Recipe) (*core.ElementInfo, error) {
	if recipe.IsEmpty() {
		return nil, core.ErrInvalidRecipe
	}
	selector := BuildSelector(recipe)
	deadline := time.Now().Add(d.findTimeout)

	for {
		node, err := d.findOnce(ctx, selector, recipe.Text)
		if err != nil {
			return nil, err
		}
		if node != nil {
			return d.toElement(ctx, *node), nil
		}
		if time.Now().After(deadline) {
			return nil, core.ErrElementNotFound.WithMessage("element not found: " + recipe.Describe())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// findOnce returns nil when nothing matches yet. Text-filtered matches pick
// the last node in document order, which is the innermost one.
func (d *Driver) findOnce(ctx context.Context, selector, text string) (*Node, error) {
	nodes, err := d.page.Query(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	var found *Node
	for i := range nodes {
		n := nodes[i]
		if !n.Visible || n.W <= 0 || n.H <= 0 {
			continue
		}
		if text == "" {
			return &n, nil
		}
		if textMatches(n.Text, text) {
			found = &n
		}
	}
	return found, nil
}

// Tap clicks the center of a found element.
func (d *Driver) Tap(ctx context.Context, el *core.ElementInfo) error {
	if el == nil {
		return core.ErrActionFailed.WithMessage("tap: no element")
	}
	return d.TapPoint(ctx, el.Bounds.Center())
}

// TapPoint clicks at screenshot-pixel coordinates.
func (d *Driver) TapPoint(ctx context.Context, p core.Point) error {
	ratio := d.ratio(ctx)
	x, y := float64(p.X)/ratio, float64(p.Y)/ratio
	logger.Debug("web: click (%d,%d) -> css (%.1f,%.1f)", p.X, p.Y, x, y)
	if err := d.page.Click(ctx, x, y); err != nil {
		return core.ErrActionFailed.WithCause(err)
	}
	return nil
}

// InputText types into the focused element.
func (d *Driver) InputText(ctx context.Context, text string) error {
	if err := d.page.InsertText(ctx, text); err != nil {
		return core.ErrActionFailed.WithCause(err)
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	return d.page.Screenshot(ctx)
}

// ScreenLabel returns the URL path, e.g. "/table".
func (d *Driver) ScreenLabel(ctx context.Context) string {
	raw, err := d.page.URL(ctx)
	if err != nil {
		logger.Warn("web: page url: %v", err)
		return ""
	}
	return screenLabel(raw)
}

// GetPlatformInfo returns browser information.
func (d *Driver) GetPlatformInfo() *core.PlatformInfo {
	return d.info
}

func (d *Driver) ratio(ctx context.Context) float64 {
	r, err := d.page.PixelRatio(ctx)
	if err != nil || r <= 0 || math.IsNaN(r) {
		return 1
	}
	return r
}

func (d *Driver) toElement(ctx context.Context, n Node) *core.ElementInfo {
	r := d.ratio(ctx)
	return &core.ElementInfo{
		ID:   n.TestID,
		Text: n.Text,
		Role: n.Role,
		Bounds: core.Bounds{
			X:      int(math.Round(n.X * r)),
			Y:      int(math.Round(n.Y * r)),
			Width:  int(math.Round(n.W * r)),
			Height: int(math.Round(n.H * r)),
		},
		Visible:            true,
		Enabled:            true,
		AccessibilityLabel: n.Label,
		Attributes:         map[string]string{"tag": n.Tag},
	}
}

func screenLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// ErrClosed is returned by operations on a closed browser.
var ErrClosed = errors.New("web: browser closed")

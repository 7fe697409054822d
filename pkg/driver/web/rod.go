package web

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/logger"
)

// Config configures the browser session.
type Config struct {
	// URL is the page to open.
	URL string
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string
	Headless  bool
	Width     int
	Height    int
	// LoadTimeout bounds the initial navigation. Default: 30s.
	LoadTimeout time.Duration
}

// Session owns the browser process and its page.
type Session struct {
	*Driver
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// Open launches (or connects to) Chrome, opens cfg.URL and returns a
// driver for it. Call Close when done.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Width == 0 {
		cfg.Width = 1280
	}
	if cfg.Height == 0 {
		cfg.Height = 800
	}
	if cfg.LoadTimeout == 0 {
		cfg.LoadTimeout = 30 * time.Second
	}

	s := &Session{}
	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(cfg.Headless).Leakless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("web: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		logger.Info("web: launched local chrome at %s", wsURL)
	}

	s.browser = rod.New().ControlURL(wsURL).Context(ctx)
	if err := s.browser.Connect(); err != nil {
		s.Close()
		return nil, fmt.Errorf("web: connect: %w", err)
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: cfg.URL})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("web: open %s: %w", cfg.URL, err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.Width,
		Height:            cfg.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		logger.Warn("web: set viewport: %v", err)
	}
	if err := page.Timeout(cfg.LoadTimeout).WaitLoad(); err != nil {
		s.Close()
		return nil, fmt.Errorf("web: load %s: %w", cfg.URL, err)
	}

	info := &core.PlatformInfo{
		Platform:     "web",
		DeviceName:   "chromium",
		DeviceID:     string(page.TargetID),
		ScreenWidth:  cfg.Width,
		ScreenHeight: cfg.Height,
		AppID:        cfg.URL,
	}
	s.Driver = New(&rodPage{page: page}, info)
	return s, nil
}

// Close shuts down the browser.
func (s *Session) Close() error {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			logger.Warn("web: close browser: %v", err)
		}
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
	return nil
}

// rodPage adapts *rod.Page to Page.
type rodPage struct {
	page *rod.Page
}

const queryScript = `(sel) => Array.from(document.querySelectorAll(sel)).map(el => {
	const r = el.getBoundingClientRect();
	const st = window.getComputedStyle(el);
	return {
		tag: el.tagName.toLowerCase(),
		testId: el.getAttribute("data-testid") || "",
		role: el.getAttribute("role") || "",
		text: (el.innerText || el.value || "").trim(),
		label: el.getAttribute("aria-label") || "",
		x: r.x, y: r.y, w: r.width, h: r.height,
		visible: st.visibility !== "hidden" && st.display !== "none" && r.width > 0 && r.height > 0,
	};
})`

func (p *rodPage) Query(ctx context.Context, selector string) ([]Node, error) {
	if p.page == nil {
		return nil, ErrClosed
	}
	res, err := p.page.Context(ctx).Eval(queryScript, selector)
	if err != nil {
		return nil, err
	}
	var nodes []Node
	if err := res.Value.Unmarshal(&nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	return nodes, nil
}

func (p *rodPage) Click(ctx context.Context, x, y float64) error {
	if p.page == nil {
		return ErrClosed
	}
	page := p.page.Context(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return err
	}
	return page.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) InsertText(ctx context.Context, text string) error {
	if p.page == nil {
		return ErrClosed
	}
	return p.page.Context(ctx).InsertText(text)
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	if p.page == nil {
		return nil, ErrClosed
	}
	return p.page.Context(ctx).Screenshot(false, nil)
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	if p.page == nil {
		return "", ErrClosed
	}
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) PixelRatio(ctx context.Context) (float64, error) {
	if p.page == nil {
		return 0, ErrClosed
	}
	res, err := p.page.Context(ctx).Eval(`() => window.devicePixelRatio`)
	if err != nil {
		return 0, err
	}
	return res.Value.Num(), nil
}

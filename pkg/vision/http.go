package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/logger"
)

// ImageMode selects how a screenshot travels to a service.
type ImageMode string

const (
	// ImageBase64 embeds the PNG bytes in the JSON body.
	ImageBase64 ImageMode = "base64"
	// ImagePath sends only the path; the service must share the filesystem.
	ImagePath ImageMode = "path"
)

// DefaultTimeout bounds each service call when none is configured.
const DefaultTimeout = 20 * time.Second

// maxResponseBytes caps a service reply; anything larger is malformed.
var maxResponseBytes int64 = 4 << 20

// ServiceConfig configures one HTTP vision service.
type ServiceConfig struct {
	BaseURL   string
	Timeout   time.Duration
	ImageMode ImageMode
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// serviceClient is the shared JSON transport for the three services.
type serviceClient struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	mode    ImageMode
	name    string
}

func newServiceClient(name string, cfg ServiceConfig) *serviceClient {
	c := &serviceClient{
		http:    cfg.HTTPClient,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		mode:    cfg.ImageMode,
		name:    name,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.mode == "" {
		c.mode = ImageBase64
	}
	return c
}

// imagePayload is embedded in every request body.
type imagePayload struct {
	ImageBase64    string `json:"image_base64,omitempty"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

func (c *serviceClient) image(path string) (imagePayload, error) {
	if c.mode == ImagePath {
		return imagePayload{ScreenshotPath: path}, nil
	}
	data, err := os.ReadFile(path) //#nosec G304 -- screenshot written by the executor
	if err != nil {
		return imagePayload{}, fmt.Errorf("read screenshot: %w", err)
	}
	return imagePayload{ImageBase64: base64.StdEncoding.EncodeToString(data)}, nil
}

// post sends body as JSON to path and decodes the reply into out.
// Every failure is returned as an ExecutionError in the transport category.
func (c *serviceClient) post(ctx context.Context, path string, body, out interface{}) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		logger.Debug("%s POST %s [%v] ERROR: %v", c.name, path, elapsed, err)
		return core.ErrServerUnreachable.WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return core.ErrServerUnreachable.WithCause(fmt.Errorf("read response: %w", err))
	}
	if int64(len(respBody)) > maxResponseBytes {
		return core.ErrServerUnreachable.WithCause(fmt.Errorf("response larger than %d bytes", maxResponseBytes))
	}

	logger.Debug("%s POST %s [%v] %d", c.name, path, elapsed, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(respBody)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return core.ErrServerUnreachable.WithCause(fmt.Errorf("status %d: %s", resp.StatusCode, snippet))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return core.ErrMalformedResponse.WithCause(err)
	}
	return nil
}

// HTTPDetector calls POST {base}/detect.
type HTTPDetector struct {
	c *serviceClient
}

// NewHTTPDetector creates a detection client.
func NewHTTPDetector(cfg ServiceConfig) *HTTPDetector {
	return &HTTPDetector{c: newServiceClient("detector", cfg)}
}

type detectRequest struct {
	imagePayload
}

type detectResponse struct {
	Elements []Candidate `json:"elements"`
}

// Detect returns the candidates found on the screenshot, or an empty list
// on any failure.
func (d *HTTPDetector) Detect(ctx context.Context, screenshotPath string) []Candidate {
	img, err := d.c.image(screenshotPath)
	if err != nil {
		logger.Warn("detector: %v", err)
		return []Candidate{}
	}

	var resp detectResponse
	if err := d.c.post(ctx, "/detect", detectRequest{imagePayload: img}, &resp); err != nil {
		logger.Warn("detector: %v", err)
		return []Candidate{}
	}

	out := make([]Candidate, 0, len(resp.Elements))
	for i, el := range resp.Elements {
		if el.ID == "" {
			el.ID = fmt.Sprintf("el_%d", i+1)
		}
		if el.BBox.W <= 0 || el.BBox.H <= 0 {
			continue
		}
		out = append(out, el)
	}
	return out
}

// HTTPGrounder calls POST {base}/ground.
type HTTPGrounder struct {
	c *serviceClient
}

// NewHTTPGrounder creates a vision-grounding client.
func NewHTTPGrounder(cfg ServiceConfig) *HTTPGrounder {
	return &HTTPGrounder{c: newServiceClient("grounder", cfg)}
}

type groundRequest struct {
	imagePayload
	GroundingRequest
}

// Pick asks the service to choose a candidate. Any failure degrades to the
// first candidate at FallbackConfidence.
func (g *HTTPGrounder) Pick(ctx context.Context, req GroundingRequest) Selection {
	img, err := g.c.image(req.ScreenshotPath)
	if err != nil {
		logger.Warn("grounder: %v", err)
		return FallbackSelection(req.Candidates, err.Error())
	}

	var sel Selection
	if err := g.c.post(ctx, "/ground", groundRequest{imagePayload: img, GroundingRequest: req}, &sel); err != nil {
		logger.Warn("grounder: %v", err)
		return FallbackSelection(req.Candidates, err.Error())
	}
	if sel.SelectedID == "" {
		return FallbackSelection(req.Candidates, "empty selection")
	}
	return sel
}

// HTTPSegmenter calls POST {base}/segment.
type HTTPSegmenter struct {
	c *serviceClient
}

// NewHTTPSegmenter creates a segmentation client.
func NewHTTPSegmenter(cfg ServiceConfig) *HTTPSegmenter {
	return &HTTPSegmenter{c: newServiceClient("segmenter", cfg)}
}

type segmentRequest struct {
	imagePayload
	SegmentRequest
}

type segmentResponse struct {
	ClickPoint *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"click_point"`
	Confidence float64 `json:"confidence"`
}

// Segment asks the service for a click point. Failures return a nil point.
func (s *HTTPSegmenter) Segment(ctx context.Context, req SegmentRequest) Segmentation {
	img, err := s.c.image(req.ScreenshotPath)
	if err != nil {
		logger.Warn("segmenter: %v", err)
		return Segmentation{}
	}

	var resp segmentResponse
	if err := s.c.post(ctx, "/segment", segmentRequest{imagePayload: img, SegmentRequest: req}, &resp); err != nil {
		logger.Warn("segmenter: %v", err)
		return Segmentation{}
	}

	out := Segmentation{Confidence: resp.Confidence}
	if resp.ClickPoint != nil {
		pt := core.Box{X: resp.ClickPoint.X, Y: resp.ClickPoint.Y}.Center()
		out.ClickPoint = &pt
	}
	return out
}

package core

import (
	"fmt"
	"image"
	_ "image/jpeg" // register decoder for ScreenshotDims
	_ "image/png"  // register decoder for ScreenshotDims
	"os"
	"path/filepath"
)

// Attachment represents a debug artifact captured during step execution
type Attachment struct {
	Name        string `json:"name"`        // Descriptive name: screenshot
	ContentType string `json:"contentType"` // MIME type: image/png
	Path        string `json:"path"`        // File path relative to output directory
}

// Screenshot attachment name and type.
const (
	AttachmentScreenshot = "screenshot"
	ContentTypePNG       = "image/png"
)

// SaveScreenshot writes PNG data under dir and returns the attachment and
// the absolute path the healing engine should read from.
func SaveScreenshot(dir, name string, data []byte) (Attachment, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Attachment{}, "", fmt.Errorf("create artifacts dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Attachment{}, "", fmt.Errorf("write screenshot: %w", err)
	}
	return Attachment{
		Name:        AttachmentScreenshot,
		ContentType: ContentTypePNG,
		Path:        name,
	}, path, nil
}

// ScreenshotDims reads the pixel size of a PNG or JPEG without decoding it fully.
func ScreenshotDims(path string) (Dims, error) {
	f, err := os.Open(path) //#nosec G304 -- screenshot written by the executor
	if err != nil {
		return Dims{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Dims{}, fmt.Errorf("decode screenshot header: %w", err)
	}
	return Dims{Width: cfg.Width, Height: cfg.Height}, nil
}

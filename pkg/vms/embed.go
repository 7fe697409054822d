// Package vms is the visual memory: it remembers which resolution worked on
// which screen, keyed by a compact image embedding, so a later step on a
// visually identical screen can replay it without calling a vision service.
package vms

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"math"
	"os"

	"golang.org/x/image/draw"
)

// DefaultEmbedSize is the side length of the grayscale thumbnail.
const DefaultEmbedSize = 16

// Embedder turns a screenshot into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, screenshotPath string) ([]float32, error)
}

// GrayEmbedder downsamples the screenshot to a Size×Size grayscale
// thumbnail, mean-centres it and L2-normalizes the result.
type GrayEmbedder struct {
	Size int
}

// Embed implements Embedder.
func (e GrayEmbedder) Embed(ctx context.Context, screenshotPath string) ([]float32, error) {
	f, err := os.Open(screenshotPath) //#nosec G304 -- screenshot written by the executor
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.EmbedImage(img), nil
}

// EmbedImage embeds an already decoded image.
func (e GrayEmbedder) EmbedImage(img image.Image) []float32 {
	size := e.Size
	if size <= 0 {
		size = DefaultEmbedSize
	}

	thumb := image.NewGray(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Src, nil)

	vec := make([]float32, size*size)
	var mean float64
	for i, p := range thumb.Pix {
		vec[i] = float32(p) / 255
		mean += float64(vec[i])
	}
	mean /= float64(len(vec))
	for i := range vec {
		vec[i] -= float32(mean)
	}
	return normalize(vec)
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths and zero vectors compare as 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	n := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

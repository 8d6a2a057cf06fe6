// Package embeddingtest provides a deterministic embedding model and image
// fixtures for tests.
package embeddingtest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// Fixture colours.
var (
	Red   = color.RGBA{R: 255, A: 255}
	Green = color.RGBA{G: 255, A: 255}
	Blue  = color.RGBA{B: 255, A: 255}
	Black = color.RGBA{A: 255}
)

// ColorModel embeds an image as its mean RGB colour and a text query as the
// colour it names. It is safe for concurrent use.
type ColorModel struct {
	// TextErr and ImageErr, when set, are returned by the matching encoder.
	TextErr  error
	ImageErr error

	mu         sync.Mutex
	textCalls  int
	imageCalls int
}

var palette = map[string][]float32{
	"red":    {1, 0, 0},
	"green":  {0, 1, 0},
	"blue":   {0, 0, 1},
	"yellow": {1, 1, 0},
	"purple": {1, 0, 1},
}

// Name implements embedding.Model.
func (m *ColorModel) Name() string { return "test/color-rgb" }

// Ping implements embedding.Model.
func (m *ColorModel) Ping(context.Context) error { return nil }

// Close implements embedding.Model.
func (m *ColorModel) Close() error { return nil }

// EmbedText maps each text to the first colour word it contains, or grey.
func (m *ColorModel) EmbedText(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.textCalls++
	m.mu.Unlock()
	if m.TextErr != nil {
		return nil, m.TextErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{0.5, 0.5, 0.5}
		for _, word := range strings.Fields(strings.ToLower(t)) {
			if v, ok := palette[word]; ok {
				out[i] = append([]float32(nil), v...)
				break
			}
		}
	}
	return out, nil
}

// EmbedImages returns the mean colour of each image, scaled to [0, 1].
func (m *ColorModel) EmbedImages(_ context.Context, images []image.Image) ([][]float32, error) {
	m.mu.Lock()
	m.imageCalls++
	m.mu.Unlock()
	if m.ImageErr != nil {
		return nil, m.ImageErr
	}
	out := make([][]float32, len(images))
	for i, img := range images {
		if img == nil {
			return nil, errors.New("embeddingtest: nil image")
		}
		b := img.Bounds()
		var r, g, bl, n float64
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				cr, cg, cb, _ := img.At(x, y).RGBA()
				r += float64(cr)
				g += float64(cg)
				bl += float64(cb)
				n++
			}
		}
		out[i] = []float32{float32(r / n / 0xffff), float32(g / n / 0xffff), float32(bl / n / 0xffff)}
	}
	return out, nil
}

// TextCalls reports how many times EmbedText was invoked.
func (m *ColorModel) TextCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textCalls
}

// ImageCalls reports how many times EmbedImages was invoked.
func (m *ColorModel) ImageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.imageCalls
}

// WriteImage writes a 4x4 image filled with c into dir. The encoder is picked
// from the file extension (.png, otherwise JPEG).
func WriteImage(t testing.TB, dir, name string, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(name), ".png") {
		err = png.Encode(f, img)
	} else {
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 100})
	}
	if err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	return path
}

// WriteFile writes raw bytes into dir, e.g. a file that is not a valid image.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

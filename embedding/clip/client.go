// Package clip provides an embedding.Model backed by a CLIP inference server.
//
// The server exposes three endpoints:
//
//	POST /embed/text   {"model": "...", "texts": ["..."]}
//	POST /embed/image  {"model": "...", "images": ["<base64 PNG>"]}
//	GET  /health
//
// Both embed endpoints answer {"embeddings": [[...], ...]} with one vector per
// input in request order. Vectors are returned raw; normalisation happens in
// the embedding package.
package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/amirhf/vibesearch/embedding"
)

// Ensure Client implements the interface.
var _ embedding.Model = (*Client)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:8001"
	DefaultModel   = "openai/clip-vit-base-patch32"
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the CLIP client.
type Config struct {
	// BaseURL is the inference server URL (default: http://localhost:8001).
	BaseURL string

	// Model is the checkpoint the server should use (default: openai/clip-vit-base-patch32).
	Model string

	// Timeout bounds each request (default: 60s).
	Timeout time.Duration

	// RequestsPerSecond limits calls to the server. Zero means unlimited.
	RequestsPerSecond float64
}

// Client talks to a CLIP inference server over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
	model   string
	limiter *rate.Limiter
}

type textRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type imageRequest struct {
	Model  string   `json:"model"`
	Images []string `json:"images"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewClient creates a CLIP client, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Name returns the model checkpoint.
func (c *Client) Name() string { return c.model }

// EmbedText embeds each text with the CLIP text encoder.
func (c *Client) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, "/embed/text", textRequest{Model: c.model, Texts: texts}, len(texts))
}

// EmbedImages embeds each image with the CLIP image encoder. Images are sent
// as base64-encoded PNG.
func (c *Client) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	if len(images) == 0 {
		return nil, nil
	}
	encoded := make([]string, len(images))
	var buf bytes.Buffer
	for i, img := range images {
		buf.Reset()
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode image %d: %w", i, err)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return c.embed(ctx, "/embed/image", imageRequest{Model: c.model, Images: encoded}, len(images))
}

// Ping checks the /health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("clip: failed to create ping request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("clip: ping failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// Close releases resources.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) embed(ctx context.Context, path string, body any, want int) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) != want {
		return nil, fmt.Errorf("clip: server returned %d embeddings for %d inputs", len(out.Embeddings), want)
	}
	return out.Embeddings, nil
}

func statusError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("clip error (status %d): failed to read response", resp.StatusCode)
	}
	return fmt.Errorf("clip error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

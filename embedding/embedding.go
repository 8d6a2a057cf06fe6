// Package embedding turns images and text into unit-length vectors in a shared
// space. The model itself is external and reached through Model.
package embedding

import (
	"context"
	"image"
)

// TextEmbedder encodes text queries. One vector is returned per input, in order.
type TextEmbedder interface {
	EmbedText(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageEmbedder encodes decoded images. One vector is returned per input, in order.
type ImageEmbedder interface {
	EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error)
}

// Model is an image/text model such as CLIP whose two encoders share a space.
type Model interface {
	TextEmbedder
	ImageEmbedder

	// Name returns the model checkpoint, recorded alongside each built index.
	Name() string

	// Ping checks the model is reachable before committing to a build or serve.
	Ping(ctx context.Context) error

	Close() error
}

// EmbedQuery embeds a single query and normalises it the same way image
// vectors are normalised at build time.
func EmbedQuery(ctx context.Context, e TextEmbedder, query string) ([]float32, error) {
	vecs, err := e.EmbedText(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errCount(1, len(vecs))
	}
	return Normalize(vecs[0])
}

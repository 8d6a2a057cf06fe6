// Package search answers text queries against a loaded image index.
package search

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/amirhf/vibesearch/embedding"
	"github.com/amirhf/vibesearch/models"
	"github.com/amirhf/vibesearch/storage"
)

const (
	// DefaultTopK is used when a caller does not ask for a result count.
	DefaultTopK = 5
	// DefaultMaxTopK is the largest top_k accepted unless configured otherwise.
	DefaultMaxTopK = 100
)

// Service is safe for concurrent use. It never mutates the catalog.
type Service struct {
	embedder embedding.TextEmbedder
	catalog  *storage.Catalog
	maxTopK  int
	log      logrus.FieldLogger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxTopK overrides DefaultMaxTopK.
func WithMaxTopK(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTopK = n
		}
	}
}

// WithLogger sets the logger used for search failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a Service over an already loaded catalog.
func NewService(embedder embedding.TextEmbedder, catalog *storage.Catalog, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: no text embedder", models.ErrConfiguration)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: no catalog loaded", models.ErrConfiguration)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		embedder: embedder,
		catalog:  catalog,
		maxTopK:  DefaultMaxTopK,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MaxTopK returns the largest accepted top_k.
func (s *Service) MaxTopK() int { return s.maxTopK }

// Validate checks a query before any embedding work is done.
func (s *Service) Validate(query string, topK int) error {
	if query == "" {
		return &models.ValidationError{Message: "Query cannot be empty."}
	}
	if topK <= 0 {
		return &models.ValidationError{Message: "Top K must be a positive integer."}
	}
	if topK > s.maxTopK {
		return &models.ValidationError{Message: fmt.Sprintf("Top K cannot exceed %d.", s.maxTopK)}
	}
	return nil
}

// Search returns up to topK images closest to query, best first. Fewer results
// are returned when the index holds fewer images.
//
// Validation failures are returned as *models.ValidationError. Any failure of
// the model or the index is logged and reported as models.ErrSearchFailure
// without its cause.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]models.Match, error) {
	if err := s.Validate(query, topK); err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"query": query, "top_k": topK})

	q, err := embedding.EmbedQuery(ctx, s.embedder, query)
	if err != nil {
		log.WithError(err).Error("Failed to embed query")
		return nil, models.ErrSearchFailure
	}

	neighbors, err := s.catalog.Index.Search(ctx, q, topK)
	if err != nil {
		log.WithError(err).Error("Index search failed")
		return nil, models.ErrSearchFailure
	}

	matches := make([]models.Match, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Row < 0 || n.Row >= int64(len(s.catalog.Paths)) {
			continue
		}
		matches = append(matches, models.Match{Path: s.catalog.Paths[n.Row], Distance: n.Distance})
	}
	log.WithField("results", len(matches)).Debug("Search complete")
	return matches, nil
}

// Stats describes the loaded index.
func (s *Service) Stats() models.StatsResponse {
	return models.StatsResponse{
		BuildID:   s.catalog.BuildID.String(),
		Model:     s.catalog.Model,
		Dimension: s.catalog.Index.Dim(),
		Images:    s.catalog.Index.Len(),
		MaxTopK:   s.maxTopK,
	}
}

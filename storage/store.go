// Package storage persists built indexes and loads them for serving.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amirhf/vibesearch/index"
	"github.com/amirhf/vibesearch/models"
)

// Artifacts is the output of one index build.
type Artifacts struct {
	BuildID uuid.UUID
	Model   string
	BuiltAt time.Time
	Index   *index.Flat
	Paths   []string
}

// Catalog is a loaded index and its manifest. It is read-only.
type Catalog struct {
	BuildID uuid.UUID
	Model   string
	Index   index.Searcher
	Paths   []string
}

// Store saves build artifacts and loads them back for serving.
type Store interface {
	// Save persists a complete build. Nothing is written for invalid artifacts.
	Save(ctx context.Context, a *Artifacts) error

	// Load returns the most recently saved build.
	Load(ctx context.Context) (*Catalog, error)

	Close() error
}

// Validate checks that every index row has exactly one path.
func (a *Artifacts) Validate() error {
	if a.Index == nil {
		return fmt.Errorf("%w: no index", models.ErrBuild)
	}
	if a.Index.Len() == 0 {
		return fmt.Errorf("%w: index is empty", models.ErrBuild)
	}
	if a.Index.Len() != len(a.Paths) {
		return fmt.Errorf("%w: index has %d rows but manifest has %d paths", models.ErrBuild, a.Index.Len(), len(a.Paths))
	}
	return nil
}

// Validate checks that every index row has exactly one path.
func (c *Catalog) Validate() error {
	if c.Index == nil {
		return fmt.Errorf("%w: no index loaded", models.ErrConfiguration)
	}
	if c.Index.Len() != len(c.Paths) {
		return fmt.Errorf("%w: index has %d rows but manifest has %d paths", models.ErrConfiguration, c.Index.Len(), len(c.Paths))
	}
	return nil
}

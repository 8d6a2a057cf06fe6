package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/amirhf/vibesearch/index"
	"github.com/amirhf/vibesearch/manifest"
	"github.com/amirhf/vibesearch/models"
)

// FileStore keeps the index as a binary file and the path manifest as a
// SQLite file. Both carry the build ID so a mismatched pair is rejected.
type FileStore struct {
	IndexPath    string
	ManifestPath string
}

// NewFileStore returns a FileStore for the given artifact locations.
func NewFileStore(indexPath, manifestPath string) *FileStore {
	return &FileStore{IndexPath: indexPath, ManifestPath: manifestPath}
}

// Save stages both artifacts as temporary files and only then moves them into
// place. If the manifest cannot be published, the previous index is restored
// so the last good build stays loadable.
func (s *FileStore) Save(ctx context.Context, a *Artifacts) error {
	if err := a.Validate(); err != nil {
		return err
	}
	idxTmp, err := index.Stage(s.IndexPath, a.Index, a.BuildID)
	if err != nil {
		return fmt.Errorf("saving index to %s: %w", s.IndexPath, err)
	}
	defer os.Remove(idxTmp)

	m := &manifest.Manifest{
		BuildID:   a.BuildID,
		Model:     a.Model,
		Dimension: a.Index.Dim(),
		BuiltAt:   a.BuiltAt,
		Paths:     a.Paths,
	}
	manTmp, err := manifest.Stage(ctx, s.ManifestPath, m)
	if err != nil {
		return fmt.Errorf("saving manifest to %s: %w", s.ManifestPath, err)
	}
	defer os.Remove(manTmp)

	return s.publish(idxTmp, manTmp)
}

// publish renames the staged files over the live ones. The live index is
// moved aside first so it can be put back if the manifest rename fails.
func (s *FileStore) publish(idxTmp, manTmp string) error {
	backup := filepath.Join(filepath.Dir(s.IndexPath), "."+filepath.Base(s.IndexPath)+".prev")
	hadIndex := true
	if err := os.Rename(s.IndexPath, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("saving index to %s: %w", s.IndexPath, err)
		}
		hadIndex = false
	}
	restore := func() {
		if hadIndex {
			_ = os.Rename(backup, s.IndexPath)
		} else {
			_ = os.Remove(s.IndexPath)
		}
	}

	if err := os.Rename(idxTmp, s.IndexPath); err != nil {
		restore()
		return fmt.Errorf("saving index to %s: %w", s.IndexPath, err)
	}
	if err := os.Rename(manTmp, s.ManifestPath); err != nil {
		restore()
		return fmt.Errorf("saving manifest to %s: %w", s.ManifestPath, err)
	}
	if hadIndex {
		_ = os.Remove(backup)
	}
	return nil
}

// Load reads both artifacts and checks they belong to the same build.
func (s *FileStore) Load(ctx context.Context) (*Catalog, error) {
	idx, buildID, err := index.ReadFile(s.IndexPath)
	if err != nil {
		return nil, loadError("index", s.IndexPath, err)
	}
	m, err := manifest.Read(ctx, s.ManifestPath)
	if err != nil {
		return nil, loadError("manifest", s.ManifestPath, err)
	}
	if m.BuildID != buildID {
		return nil, fmt.Errorf("%w: index %s belongs to build %s but manifest %s belongs to build %s",
			models.ErrConfiguration, s.IndexPath, buildID, s.ManifestPath, m.BuildID)
	}
	c := &Catalog{BuildID: buildID, Model: m.Model, Index: idx, Paths: m.Paths}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func loadError(what, path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s file %q does not exist", models.ErrConfiguration, what, path)
	}
	return fmt.Errorf("%w: loading %s %q: %v", models.ErrConfiguration, what, path, err)
}

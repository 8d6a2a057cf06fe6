// Package builder embeds a directory of images into a similarity index and
// persists it together with its path manifest.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/amirhf/vibesearch/embedding"
	"github.com/amirhf/vibesearch/index"
	"github.com/amirhf/vibesearch/models"
	"github.com/amirhf/vibesearch/storage"
)

// DefaultBatchSize is the number of images sent to the model per call.
const DefaultBatchSize = 1000

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Builder produces index builds. A Builder is a single writer; run one build
// at a time.
type Builder struct {
	model     embedding.Model
	extractor *embedding.Extractor
	store     storage.Store
	log       logrus.FieldLogger
}

// New creates a Builder that embeds with model and saves to store.
func New(model embedding.Model, store storage.Store, log logrus.FieldLogger) *Builder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Builder{
		model:     model,
		extractor: embedding.NewExtractor(model, log),
		store:     store,
		log:       log,
	}
}

// ListImages returns the JPEG and PNG files directly inside dir, in lexical
// order. Extensions are matched case-insensitively; subdirectories are not
// descended into.
func ListImages(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: image folder %q does not exist", models.ErrConfiguration, dir)
		}
		return nil, fmt.Errorf("%w: image folder %q: %v", models.ErrConfiguration, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: image folder %q is not a directory", models.ErrConfiguration, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading image folder %q: %v", models.ErrConfiguration, dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no valid image files found in %q", models.ErrEmptyInput, dir)
	}
	return paths, nil
}

// Build embeds every image in dir and returns the resulting artifacts without
// persisting them. Images that fail to decode are skipped; the returned
// Paths always has one entry per index row.
func (b *Builder) Build(ctx context.Context, dir string, batchSize int) (*storage.Artifacts, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", models.ErrConfiguration, batchSize)
	}
	paths, err := ListImages(dir)
	if err != nil {
		return nil, err
	}

	totalBatches := (len(paths) + batchSize - 1) / batchSize
	b.log.WithFields(logrus.Fields{
		"image_folder": dir,
		"images":       len(paths),
		"batch_size":   batchSize,
		"batches":      totalBatches,
	}).Info("Found images")

	var (
		flat    *index.Flat
		kept    = make([]string, 0, len(paths))
		started = time.Now()
	)
	for i := 0; i < len(paths); i += batchSize {
		batchNum := i/batchSize + 1
		end := min(i+batchSize, len(paths))

		batch, err := b.extractor.EmbedBatch(ctx, paths[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d: %w", batchNum, totalBatches, err)
		}
		if batch.Len() == 0 {
			b.log.WithField("batch", batchNum).Warn("Skipping batch due to no valid images")
			continue
		}

		if flat == nil {
			if flat, err = index.NewFlat(len(batch.Vectors[0])); err != nil {
				return nil, err
			}
		}
		if err := flat.Add(batch.Vectors); err != nil {
			return nil, fmt.Errorf("batch %d/%d: %w", batchNum, totalBatches, err)
		}
		kept = append(kept, batch.Paths...)

		b.log.WithFields(logrus.Fields{
			"batch":   batchNum,
			"batches": totalBatches,
			"added":   batch.Len(),
			"skipped": end - i - batch.Len(),
			"total":   flat.Len(),
		}).Debug("Processed batch")
	}

	if flat == nil {
		return nil, fmt.Errorf("%w: no embeddings were added to the index; check the image folder", models.ErrBuild)
	}
	if flat.Len() != len(kept) {
		return nil, fmt.Errorf("%w: index has %d rows but %d paths were kept", models.ErrBuild, flat.Len(), len(kept))
	}

	b.log.WithFields(logrus.Fields{
		"embedded": flat.Len(),
		"skipped":  len(paths) - flat.Len(),
		"dim":      flat.Dim(),
		"elapsed":  time.Since(started).Round(time.Millisecond).String(),
	}).Info("Embedded images")

	return &storage.Artifacts{
		BuildID: uuid.New(),
		Model:   b.model.Name(),
		BuiltAt: time.Now(),
		Index:   flat,
		Paths:   kept,
	}, nil
}

// Run builds the index for dir and saves it. Nothing is saved if the build
// fails.
func (b *Builder) Run(ctx context.Context, dir string, batchSize int) (*storage.Artifacts, error) {
	a, err := b.Build(ctx, dir, batchSize)
	if err != nil {
		return nil, err
	}
	if err := b.store.Save(ctx, a); err != nil {
		return nil, err
	}
	b.log.WithFields(logrus.Fields{
		"build_id": a.BuildID.String(),
		"images":   a.Index.Len(),
	}).Info("Index saved")
	return a, nil
}

package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Batch holds the images of one batch that were embedded successfully.
// Paths[i] is the source of Vectors[i].
type Batch struct {
	Paths   []string
	Vectors [][]float32
}

// Len returns the number of embedded images.
func (b *Batch) Len() int { return len(b.Paths) }

// Extractor embeds batches of image files with an ImageEmbedder.
//
// Images that cannot be opened or decoded, or that exceed MaxImagePixels, are
// logged and skipped: they get no vector and do not appear in Batch.Paths.
type Extractor struct {
	model     ImageEmbedder
	log       logrus.FieldLogger
	decoders  int
	maxPixels int
}

// NewExtractor creates an Extractor. Decoding within a batch runs on up to
// GOMAXPROCS goroutines.
func NewExtractor(model ImageEmbedder, log logrus.FieldLogger) *Extractor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{model: model, log: log, decoders: runtime.GOMAXPROCS(0), maxPixels: MaxImagePixels}
}

// EmbedBatch decodes paths, runs the model once over the decoded images and
// returns their normalised vectors in input order.
func (x *Extractor) EmbedBatch(ctx context.Context, paths []string) (*Batch, error) {
	images := make([]image.Image, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.decoders)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := loadImage(p, x.maxPixels)
			if err != nil {
				x.log.WithError(err).WithField("image_path", p).Warn("Failed to process image, skipping")
				return nil
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(paths))
	decoded := make([]image.Image, 0, len(paths))
	for i, img := range images {
		if img == nil {
			continue
		}
		kept = append(kept, paths[i])
		decoded = append(decoded, img)
	}

	batch := &Batch{}
	if len(decoded) == 0 {
		return batch, nil
	}

	vecs, err := x.model.EmbedImages(ctx, decoded)
	if err != nil {
		return nil, fmt.Errorf("embed images: %w", err)
	}
	if len(vecs) != len(decoded) {
		return nil, errCount(len(decoded), len(vecs))
	}

	for i, v := range vecs {
		nv, err := Normalize(v)
		if err != nil {
			x.log.WithError(err).WithField("image_path", kept[i]).Warn("Discarding unusable embedding")
			continue
		}
		batch.Paths = append(batch.Paths, kept[i])
		batch.Vectors = append(batch.Vectors, nv)
	}
	return batch, nil
}

// MaxImagePixels bounds the width*height of an image the extractor will
// decode. Larger images are skipped like undecodable ones.
const MaxImagePixels = 89_478_485

// ErrImageTooLarge is returned for images over the pixel limit.
var ErrImageTooLarge = errors.New("image exceeds the pixel limit")

// LoadImage decodes a JPEG or PNG file and converts it to RGBA.
func LoadImage(path string) (image.Image, error) {
	return loadImage(path, MaxImagePixels)
}

func loadImage(path string, maxPixels int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d, limit %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind image file: %w", err)
	}

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba, nil
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, nil
}

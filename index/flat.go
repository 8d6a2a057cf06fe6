// Package index provides an exact nearest-neighbour index over fixed-dimension
// float32 vectors, identified by row position, with a compact binary format
// for persistence.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// MissingRow is reported for result slots that could not be filled because
// the index holds fewer rows than requested.
const MissingRow int64 = -1

// Neighbor is one kNN result. Distance is the squared L2 distance.
type Neighbor struct {
	Row      int64
	Distance float32
}

// Searcher is the read side of an index.
type Searcher interface {
	// Search returns exactly k neighbours by ascending distance. Slots beyond
	// Len() are filled with MissingRow.
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	Len() int
	Dim() int
}

// Flat is an exact index that scans every row on each query. Rows are
// append-only; row ids are assigned in insertion order starting at 0.
//
// Flat is not safe for concurrent mutation. Freeze it before sharing.
type Flat struct {
	dim  int
	data []float32
}

// NewFlat creates an empty index for vectors of the given dimension.
func NewFlat(dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index: invalid dimension %d", dim)
	}
	return &Flat{dim: dim}, nil
}

// Dim returns the vector dimension.
func (f *Flat) Dim() int { return f.dim }

// Len returns the number of rows.
func (f *Flat) Len() int { return len(f.data) / f.dim }

// Add appends vectors as new rows. Either all vectors are added or none.
func (f *Flat) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("index: vector %d has dimension %d, want %d", i, len(v), f.dim)
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Row returns a copy of the vector stored at row i.
func (f *Flat) Row(i int) []float32 {
	return append([]float32(nil), f.data[i*f.dim:(i+1)*f.dim]...)
}

// Search implements Searcher.
func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("index: k must be positive, got %d", k)
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("index: query dimension %d != index dimension %d", len(query), f.dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := f.Len()
	scored := make([]Neighbor, n)
	for row := 0; row < n; row++ {
		vec := f.data[row*f.dim : (row+1)*f.dim]
		var d float32
		for j, q := range query {
			diff := q - vec[j]
			d += diff * diff
		}
		scored[row] = Neighbor{Row: int64(row), Distance: d}
	}
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].Distance != scored[b].Distance {
			return scored[a].Distance < scored[b].Distance
		}
		return scored[a].Row < scored[b].Row
	})

	out := make([]Neighbor, k)
	for i := range out {
		if i < n {
			out[i] = scored[i]
			continue
		}
		out[i] = Neighbor{Row: MissingRow, Distance: math.MaxFloat32}
	}
	return out, nil
}

// Freeze returns a read-only view. The caller must not Add to f afterwards.
func (f *Flat) Freeze() *Frozen { return &Frozen{flat: f} }

// Frozen is a read-only index handle, safe for concurrent searches.
type Frozen struct {
	flat *Flat
}

// Search implements Searcher.
func (r *Frozen) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	return r.flat.Search(ctx, query, k)
}

// Len implements Searcher.
func (r *Frozen) Len() int { return r.flat.Len() }

// Dim implements Searcher.
func (r *Frozen) Dim() int { return r.flat.Dim() }


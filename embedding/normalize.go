package embedding

import (
	"errors"
	"fmt"
	"math"
)

// ErrZeroNorm is returned for vectors that cannot be scaled to unit length.
var ErrZeroNorm = errors.New("embedding: vector has zero or non-finite norm")

// Normalize returns a copy of v divided by its Euclidean norm.
//
// The norm is accumulated in float32, the precision vectors are stored in, so
// build-time and query-time vectors go through identical arithmetic.
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, errors.New("embedding: empty vector")
	}
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	norm := float32(math.Sqrt(float64(sum)))
	if norm == 0 || math.IsNaN(float64(norm)) || math.IsInf(float64(norm), 0) {
		return nil, ErrZeroNorm
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out, nil
}

func errCount(want, got int) error {
	return fmt.Errorf("embedding: model returned %d vectors for %d inputs", got, want)
}

package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirhf/vibesearch/embedding/embeddingtest"
)

func TestNormalize_UnitLength(t *testing.T) {
	out, err := Normalize([]float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)

	var sum float64
	for _, x := range out {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
}

func TestNormalize_DoesNotModifyInput(t *testing.T) {
	in := []float32{0, 2}
	_, err := Normalize(in)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2}, in)
}

func TestNormalize_ZeroNorm(t *testing.T) {
	_, err := Normalize([]float32{0, 0, 0})
	assert.ErrorIs(t, err, ErrZeroNorm)
}

func TestNormalize_NonFinite(t *testing.T) {
	_, err := Normalize([]float32{float32(math.Inf(1)), 1})
	assert.ErrorIs(t, err, ErrZeroNorm)
}

func TestNormalize_Empty(t *testing.T) {
	_, err := Normalize(nil)
	assert.Error(t, err)
}

func TestEmbedQuery_Normalised(t *testing.T) {
	model := &embeddingtest.ColorModel{}
	vec, err := EmbedQuery(context.Background(), model, "something yellow")
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt2, vec[0], 1e-6)
	assert.InDelta(t, 1/math.Sqrt2, vec[1], 1e-6)
	assert.InDelta(t, 0, vec[2], 1e-6)
}

func TestEmbedQuery_ModelError(t *testing.T) {
	model := &embeddingtest.ColorModel{TextErr: errors.New("boom")}
	_, err := EmbedQuery(context.Background(), model, "red")
	assert.EqualError(t, err, "boom")
}

package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlat(t *testing.T) *Flat {
	t.Helper()
	f, err := NewFlat(2)
	require.NoError(t, err)
	require.NoError(t, f.Add([][]float32{
		{1, 0},
		{0, 1},
		{0.6, 0.8},
	}))
	return f
}

func TestNewFlat_InvalidDimension(t *testing.T) {
	_, err := NewFlat(0)
	assert.Error(t, err)
}

func TestFlat_AddRejectsWrongDimension(t *testing.T) {
	f, err := NewFlat(2)
	require.NoError(t, err)

	err = f.Add([][]float32{{1, 0}, {1, 0, 0}})
	assert.Error(t, err)
	assert.Equal(t, 0, f.Len(), "failed Add must not append a partial batch")
}

func TestFlat_SearchOrdersByDistance(t *testing.T) {
	f := newTestFlat(t)

	got, err := f.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, int64(0), got[0].Row)
	assert.Equal(t, int64(2), got[1].Row)
	assert.Equal(t, int64(1), got[2].Row)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	// |(1,0)-(0.6,0.8)|^2 = 0.16 + 0.64
	assert.InDelta(t, 0.8, got[1].Distance, 1e-6)
	assert.InDelta(t, 2, got[2].Distance, 1e-6)

	assert.True(t, sort.SliceIsSorted(got, func(a, b int) bool { return got[a].Distance < got[b].Distance }))
}

func TestFlat_SearchPadsWithMissingRow(t *testing.T) {
	f := newTestFlat(t)

	got, err := f.Search(context.Background(), []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, int64(1), got[0].Row)
	assert.Equal(t, MissingRow, got[3].Row)
	assert.Equal(t, MissingRow, got[4].Row)
	assert.Equal(t, float32(math.MaxFloat32), got[4].Distance)
}

func TestFlat_SearchTiesBreakByRow(t *testing.T) {
	f, err := NewFlat(1)
	require.NoError(t, err)
	require.NoError(t, f.Add([][]float32{{1}, {-1}, {1}}))

	got, err := f.Search(context.Background(), []float32{0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, []int64{got[0].Row, got[1].Row, got[2].Row})
}

func TestFlat_SearchValidation(t *testing.T) {
	f := newTestFlat(t)

	_, err := f.Search(context.Background(), []float32{1, 0}, 0)
	assert.Error(t, err)

	_, err = f.Search(context.Background(), []float32{1, 0, 0}, 1)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFrozen_DelegatesReads(t *testing.T) {
	f := newTestFlat(t)
	r := f.Freeze()

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 2, r.Dim())
	got, err := r.Search(context.Background(), []float32{0.6, 0.8}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got[0].Row)
}

func TestWriteReadFile_RoundTrip(t *testing.T) {
	f := newTestFlat(t)
	id := uuid.New()
	path := filepath.Join(t.TempDir(), "image_index.bin")

	require.NoError(t, WriteFile(path, f, id))

	loaded, gotID, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, f.Len(), loaded.Len())
	assert.Equal(t, f.Dim(), loaded.Dim())
	assert.Equal(t, f.data, loaded.flat.data)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFile_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	require.NoError(t, WriteFile(path, newTestFlat(t), uuid.New()))

	small, err := NewFlat(2)
	require.NoError(t, err)
	require.NoError(t, small.Add([][]float32{{1, 1}}))
	id := uuid.New()
	require.NoError(t, WriteFile(path, small, id))

	loaded, gotID, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	assert.Equal(t, id, gotID)
}

func TestWriteFile_MissingDirectory(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "nope", "index.bin"), newTestFlat(t), uuid.New())
	assert.Error(t, err)
}

func TestReadFile_Corrupt(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, []byte("definitely not an index file, but long enough"), 0o644))
	_, _, err := ReadFile(bad)
	assert.ErrorIs(t, err, ErrCorrupt)

	good := filepath.Join(dir, "good.bin")
	require.NoError(t, WriteFile(good, newTestFlat(t), uuid.New()))
	data, err := os.ReadFile(good)
	require.NoError(t, err)
	truncated := filepath.Join(dir, "truncated.bin")
	require.NoError(t, os.WriteFile(truncated, data[:len(data)-4], 0o644))
	_, _, err = ReadFile(truncated)
	assert.ErrorIs(t, err, ErrCorrupt)

	short := filepath.Join(dir, "short.bin")
	require.NoError(t, os.WriteFile(short, []byte("VIB"), 0o644))
	_, _, err = ReadFile(short)
	assert.ErrorIs(t, err, ErrCorrupt)

	// A row count whose byte size wraps around must not reach the allocation.
	var huge bytes.Buffer
	require.NoError(t, binary.Write(&huge, binary.LittleEndian, header{
		Magic:   magic,
		Version: formatVersion,
		Dim:     1,
		Rows:    1 << 62,
	}))
	require.Equal(t, headerSize, huge.Len())
	overflow := filepath.Join(dir, "overflow.bin")
	require.NoError(t, os.WriteFile(overflow, huge.Bytes(), 0o644))
	assert.NotPanics(t, func() {
		_, _, err = ReadFile(overflow)
	})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestReadFile_Missing(t *testing.T) {
	_, _, err := ReadFile(filepath.Join(t.TempDir(), "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

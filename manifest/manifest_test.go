package manifest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "image_paths.db")
	in := &Manifest{
		BuildID:   uuid.New(),
		Model:     "openai/clip-vit-base-patch32",
		Dimension: 512,
		BuiltAt:   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Paths:     []string{"images/a.jpg", "images/b.jpg", "images/c.jpg"},
	}

	require.NoError(t, Write(ctx, path, in))

	out, err := Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, in.BuildID, out.BuildID)
	assert.Equal(t, in.Model, out.Model)
	assert.Equal(t, in.Dimension, out.Dimension)
	assert.True(t, in.BuiltAt.Equal(out.BuiltAt))
	assert.Equal(t, in.Paths, out.Paths)
}

func TestWrite_PreservesOrderForManyRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "m.db")
	paths := make([]string, 250)
	for i := range paths {
		// Reverse lexical order so an ORDER BY path would be caught.
		paths[i] = filepath.Join("imgs", string(rune('z'-i%26)), uuid.NewString()+".png")
	}
	require.NoError(t, Write(ctx, path, &Manifest{BuildID: uuid.New(), Dimension: 3, Paths: paths}))

	out, err := Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, paths, out.Paths)
}

func TestWrite_ReplacesExisting(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "m.db")
	require.NoError(t, Write(ctx, path, &Manifest{BuildID: uuid.New(), Dimension: 3, Paths: []string{"a", "b"}}))

	id := uuid.New()
	require.NoError(t, Write(ctx, path, &Manifest{BuildID: id, Dimension: 3, Paths: []string{"c"}}))

	out, err := Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, id, out.BuildID)
	assert.Equal(t, []string{"c"}, out.Paths)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestRead_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := Read(context.Background(), path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, statErr := os.Stat(path)
	assert.ErrorIs(t, statErr, os.ErrNotExist, "Read must not create the file")
}

func TestRead_RowCountMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "m.db")
	require.NoError(t, Write(ctx, path, &Manifest{BuildID: uuid.New(), Dimension: 3, Paths: []string{"a", "b"}}))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM manifest WHERE row_id = 1`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Read(ctx, path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRead_GapInRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "m.db")
	require.NoError(t, Write(ctx, path, &Manifest{BuildID: uuid.New(), Dimension: 3, Paths: []string{"a", "b"}}))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE manifest SET row_id = 5 WHERE row_id = 1`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Read(ctx, path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRead_NotAManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE unrelated (x INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Read(context.Background(), path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

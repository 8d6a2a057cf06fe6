// Package manifest persists the ordered list of image paths that parallels the
// rows of a similarity index. Row i of the index is the image at Paths[i].
//
// A manifest is a small SQLite database with one row per image and a meta
// table recording the build it belongs to.
package manifest

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schema string

// ErrCorrupt is returned when a manifest's rows and metadata disagree.
var ErrCorrupt = errors.New("manifest: corrupt manifest")

// Manifest is the path list of one index build.
type Manifest struct {
	BuildID   uuid.UUID
	Model     string
	Dimension int
	BuiltAt   time.Time
	Paths     []string
}

const (
	keyBuildID   = "build_id"
	keyModel     = "model"
	keyDimension = "dimension"
	keyRowCount  = "row_count"
	keyBuiltAt   = "built_at"
)

// Write stores m at path, replacing any existing manifest atomically.
func Write(ctx context.Context, path string, m *Manifest) error {
	tmp, err := Stage(ctx, path, m)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

// Stage writes m to a new temporary database next to path and returns its
// name. The caller renames it into place or removes it.
func Stage(ctx context.Context, path string, m *Manifest) (name string, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp manifest: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	db, err := sql.Open("sqlite", tmpPath)
	if err != nil {
		return "", fmt.Errorf("opening manifest: %w", err)
	}
	if err = writeDB(ctx, db, m); err != nil {
		db.Close()
		return "", err
	}
	if err = db.Close(); err != nil {
		return "", fmt.Errorf("closing manifest: %w", err)
	}
	return tmpPath, nil
}

func writeDB(ctx context.Context, db *sql.DB, m *Manifest) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating manifest schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO manifest(row_id, path) VALUES(?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, p := range m.Paths {
		if _, err := stmt.ExecContext(ctx, i, p); err != nil {
			return fmt.Errorf("inserting row %d: %w", i, err)
		}
	}

	builtAt := m.BuiltAt
	if builtAt.IsZero() {
		builtAt = time.Now()
	}
	meta := map[string]string{
		keyBuildID:   m.BuildID.String(),
		keyModel:     m.Model,
		keyDimension: strconv.Itoa(m.Dimension),
		keyRowCount:  strconv.Itoa(len(m.Paths)),
		keyBuiltAt:   builtAt.UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)`, k, v); err != nil {
			return fmt.Errorf("inserting meta %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Read loads the manifest at path.
func Read(ctx context.Context, path string) (*Manifest, error) {
	// sql.Open would create a missing file.
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, err
	}

	m := &Manifest{Model: meta[keyModel]}
	if m.BuildID, err = uuid.Parse(meta[keyBuildID]); err != nil {
		return nil, fmt.Errorf("%w: build id: %v", ErrCorrupt, err)
	}
	if m.Dimension, err = strconv.Atoi(meta[keyDimension]); err != nil {
		return nil, fmt.Errorf("%w: dimension: %v", ErrCorrupt, err)
	}
	rowCount, err := strconv.Atoi(meta[keyRowCount])
	if err != nil {
		return nil, fmt.Errorf("%w: row count: %v", ErrCorrupt, err)
	}
	if m.BuiltAt, err = time.Parse(time.RFC3339, meta[keyBuiltAt]); err != nil {
		return nil, fmt.Errorf("%w: built_at: %v", ErrCorrupt, err)
	}

	rows, err := db.QueryContext(ctx, `SELECT row_id, path FROM manifest ORDER BY row_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	m.Paths = make([]string, 0, rowCount)
	for rows.Next() {
		var (
			rowID int
			p     string
		)
		if err := rows.Scan(&rowID, &p); err != nil {
			return nil, err
		}
		if rowID != len(m.Paths) {
			return nil, fmt.Errorf("%w: expected row %d, found %d", ErrCorrupt, len(m.Paths), rowID)
		}
		m.Paths = append(m.Paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(m.Paths) != rowCount {
		return nil, fmt.Errorf("%w: %d rows, meta says %d", ErrCorrupt, len(m.Paths), rowCount)
	}
	return m, nil
}

func readMeta(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

package storage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/amirhf/vibesearch/index"
	"github.com/amirhf/vibesearch/models"
)

// PostgresStore publishes builds to a pgvector table and serves kNN queries
// from it. Each Save replaces the previous build in a single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dbURL. SQLAlchemy-style
// "postgresql+psycopg://" URLs are accepted.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL is required for the postgres store", models.ErrConfiguration)
	}
	if rest, ok := strings.CutPrefix(dbURL, "postgresql+psycopg:"); ok {
		dbURL = "postgres:" + rest
	}
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, a *Artifacts) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("enabling pgvector: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ddl := []string{
		`DROP TABLE IF EXISTS vibe_images`,
		fmt.Sprintf(`CREATE TABLE vibe_images (
			row_id    BIGINT PRIMARY KEY,
			path      TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, a.Index.Dim()),
		`CREATE TABLE IF NOT EXISTS vibe_builds (
			build_id  UUID PRIMARY KEY,
			model     TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			row_count BIGINT NOT NULL,
			built_at  TIMESTAMPTZ NOT NULL
		)`,
		`DELETE FROM vibe_builds`,
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("preparing tables: %w", err)
		}
	}

	batch := &pgx.Batch{}
	for i, p := range a.Paths {
		vec := pgvector.NewVector(a.Index.Row(i))
		batch.Queue(`INSERT INTO vibe_images (row_id, path, embedding) VALUES ($1, $2, $3::vector)`, int64(i), p, vec.String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting images: %w", err)
	}

	builtAt := a.BuiltAt
	if builtAt.IsZero() {
		builtAt = time.Now()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO vibe_builds (build_id, model, dimension, row_count, built_at) VALUES ($1, $2, $3, $4, $5)`,
		a.BuildID.String(), a.Model, a.Index.Dim(), int64(len(a.Paths)), builtAt)
	if err != nil {
		return fmt.Errorf("recording build: %w", err)
	}
	return tx.Commit(ctx)
}

// Load implements Store. Paths are read into memory; vectors stay in Postgres.
func (s *PostgresStore) Load(ctx context.Context) (*Catalog, error) {
	var (
		buildID  string
		model    string
		dim      int
		rowCount int64
	)
	err := s.pool.QueryRow(ctx, `SELECT build_id::text, model, dimension, row_count FROM vibe_builds LIMIT 1`).
		Scan(&buildID, &model, &dim, &rowCount)
	if err != nil {
		return nil, fmt.Errorf("%w: no published build: %v", models.ErrConfiguration, err)
	}
	id, err := uuid.Parse(buildID)
	if err != nil {
		return nil, fmt.Errorf("%w: build id: %v", models.ErrConfiguration, err)
	}

	rows, err := s.pool.Query(ctx, `SELECT row_id, path FROM vibe_images ORDER BY row_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make([]string, 0, rowCount)
	for rows.Next() {
		var (
			rowID int64
			p     string
		)
		if err := rows.Scan(&rowID, &p); err != nil {
			return nil, err
		}
		if rowID != int64(len(paths)) {
			return nil, fmt.Errorf("%w: expected row %d, found %d", models.ErrConfiguration, len(paths), rowID)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if int64(len(paths)) != rowCount {
		return nil, fmt.Errorf("%w: %d rows stored, build says %d", models.ErrConfiguration, len(paths), rowCount)
	}

	c := &Catalog{
		BuildID: id,
		Model:   model,
		Index:   &pgSearcher{pool: s.pool, dim: dim, rows: len(paths)},
		Paths:   paths,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// pgSearcher runs exact kNN in Postgres. The row count is fixed at load time
// since serving never writes.
type pgSearcher struct {
	pool *pgxpool.Pool
	dim  int
	rows int
}

func (p *pgSearcher) Len() int { return p.rows }
func (p *pgSearcher) Dim() int { return p.dim }

// Search implements index.Searcher. <-> is the L2 distance; it is squared so
// scores match the file-backed index.
func (p *pgSearcher) Search(ctx context.Context, query []float32, k int) ([]index.Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("index: k must be positive, got %d", k)
	}
	if len(query) != p.dim {
		return nil, fmt.Errorf("index: query dimension %d != index dimension %d", len(query), p.dim)
	}
	vec := pgvector.NewVector(query)
	rows, err := p.pool.Query(ctx, `
		SELECT row_id, power(embedding <-> $1::vector, 2)
		FROM vibe_images
		ORDER BY embedding <-> $1::vector, row_id
		LIMIT $2`, vec.String(), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]index.Neighbor, 0, k)
	for rows.Next() {
		var (
			rowID int64
			dist  float64
		)
		if err := rows.Scan(&rowID, &dist); err != nil {
			return nil, err
		}
		out = append(out, index.Neighbor{Row: rowID, Distance: float32(dist)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for len(out) < k {
		out = append(out, index.Neighbor{Row: index.MissingRow, Distance: math.MaxFloat32})
	}
	return out, nil
}

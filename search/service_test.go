package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirhf/vibesearch/embedding/embeddingtest"
	"github.com/amirhf/vibesearch/index"
	"github.com/amirhf/vibesearch/models"
	"github.com/amirhf/vibesearch/storage"
)

func newCatalog(t *testing.T) *storage.Catalog {
	t.Helper()
	flat, err := index.NewFlat(3)
	require.NoError(t, err)
	require.NoError(t, flat.Add([][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}))
	return &storage.Catalog{
		BuildID: uuid.New(),
		Model:   "test/color-rgb",
		Index:   flat.Freeze(),
		Paths:   []string{"images/a.jpg", "images/b.jpg", "images/c.jpg"},
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *embeddingtest.ColorModel) {
	t.Helper()
	model := &embeddingtest.ColorModel{}
	log, _ := test.NewNullLogger()
	s, err := NewService(model, newCatalog(t), append([]Option{WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	return s, model
}

func paths(matches []models.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Path
	}
	return out
}

func TestNewService_Errors(t *testing.T) {
	_, err := NewService(nil, newCatalog(t))
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = NewService(&embeddingtest.ColorModel{}, nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	c := newCatalog(t)
	c.Paths = c.Paths[:2]
	_, err = NewService(&embeddingtest.ColorModel{}, c)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestSearch_Validation(t *testing.T) {
	tests := []struct {
		name  string
		query string
		topK  int
		want  string
	}{
		{"empty query", "", 5, "Query cannot be empty."},
		{"zero top_k", "red", 0, "Top K must be a positive integer."},
		{"negative top_k", "red", -3, "Top K must be a positive integer."},
		{"top_k above limit", "red", 101, "Top K cannot exceed 100."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, model := newTestService(t)
			_, err := s.Search(context.Background(), tt.query, tt.topK)
			require.ErrorIs(t, err, models.ErrValidation)
			assert.EqualError(t, err, tt.want)
			assert.Zero(t, model.TextCalls(), "query must not be embedded")
		})
	}
}

func TestSearch_WhitespaceQueryIsEmbedded(t *testing.T) {
	s, model := newTestService(t)

	got, err := s.Search(context.Background(), "   ", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, model.TextCalls())
}

func TestSearch_TopKLimitIsConfigurable(t *testing.T) {
	s, _ := newTestService(t, WithMaxTopK(2))
	assert.Equal(t, 2, s.MaxTopK())

	_, err := s.Search(context.Background(), "red", 3)
	assert.EqualError(t, err, "Top K cannot exceed 2.")

	got, err := s.Search(context.Background(), "red", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearch_ReturnsNearestFirst(t *testing.T) {
	s, model := newTestService(t)

	got, err := s.Search(context.Background(), "something blue", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "images/c.jpg", got[0].Path)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.InDelta(t, 2, got[1].Distance, 1e-6)
	assert.Equal(t, 1, model.TextCalls())
}

func TestSearch_ResultsSortedByDistance(t *testing.T) {
	s, _ := newTestService(t)

	got, err := s.Search(context.Background(), "yellow", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
	assert.Equal(t, "images/c.jpg", got[2].Path)
}

func TestSearch_TopKLargerThanIndex(t *testing.T) {
	s, _ := newTestService(t)

	got, err := s.Search(context.Background(), "red", 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"images/a.jpg", "images/b.jpg", "images/c.jpg"}, paths(got))
	assert.Equal(t, "images/a.jpg", got[0].Path)
}

type stubSearcher struct {
	neighbors []index.Neighbor
	err       error
}

func (s stubSearcher) Search(context.Context, []float32, int) ([]index.Neighbor, error) {
	return s.neighbors, s.err
}
func (s stubSearcher) Len() int { return 2 }
func (s stubSearcher) Dim() int { return 3 }

func TestSearch_SkipsRowsOutsideManifest(t *testing.T) {
	c := &storage.Catalog{
		Index: stubSearcher{neighbors: []index.Neighbor{
			{Row: 1, Distance: 0.1},
			{Row: 7, Distance: 0.2},
			{Row: 0, Distance: 0.3},
			{Row: index.MissingRow, Distance: 1},
		}},
		Paths: []string{"a.jpg", "b.jpg"},
	}
	s, err := NewService(&embeddingtest.ColorModel{}, c)
	require.NoError(t, err)

	got, err := s.Search(context.Background(), "red", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.jpg", "a.jpg"}, paths(got))
}

func TestSearch_FailuresAreOpaque(t *testing.T) {
	cause := errors.New("connection refused to 10.0.0.5")

	t.Run("embedder", func(t *testing.T) {
		log, hook := test.NewNullLogger()
		s, err := NewService(&embeddingtest.ColorModel{TextErr: cause}, newCatalog(t), WithLogger(log))
		require.NoError(t, err)

		_, err = s.Search(context.Background(), "red", 5)
		assert.Equal(t, models.ErrSearchFailure, err)
		assert.NotErrorIs(t, err, cause)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
		assert.Equal(t, cause, hook.LastEntry().Data[logrus.ErrorKey])
	})

	t.Run("index", func(t *testing.T) {
		log, hook := test.NewNullLogger()
		c := &storage.Catalog{Index: stubSearcher{err: cause}, Paths: []string{"a.jpg", "b.jpg"}}
		s, err := NewService(&embeddingtest.ColorModel{}, c, WithLogger(log))
		require.NoError(t, err)

		_, err = s.Search(context.Background(), "red", 5)
		assert.Equal(t, models.ErrSearchFailure, err)
		assert.NotContains(t, err.Error(), "10.0.0.5")
		assert.Len(t, hook.AllEntries(), 1)
	})
}

func TestSearch_Concurrent(t *testing.T) {
	s, _ := newTestService(t)
	queries := []struct {
		query string
		want  string
	}{
		{"red", "images/a.jpg"},
		{"green", "images/b.jpg"},
		{"blue", "images/c.jpg"},
	}

	var wg sync.WaitGroup
	errs := make(chan error, 60)
	for i := 0; i < 60; i++ {
		q := queries[i%len(queries)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Search(context.Background(), q.query, 1)
			if err != nil {
				errs <- err
				return
			}
			if len(got) != 1 || got[0].Path != q.want {
				errs <- fmt.Errorf("query %q: got %v", q.query, got)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestStats(t *testing.T) {
	s, _ := newTestService(t)
	st := s.Stats()
	assert.Equal(t, 3, st.Images)
	assert.Equal(t, 3, st.Dimension)
	assert.Equal(t, "test/color-rgb", st.Model)
	assert.Equal(t, DefaultMaxTopK, st.MaxTopK)
	assert.NotEmpty(t, st.BuildID)
}

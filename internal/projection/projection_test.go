package projection

import (
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/rota/internal/storage"
)

func TestFitRejectsEmptyAndRagged(t *testing.T) {
	_, err := Fit(nil)
	assert.Error(t, err)

	_, err = Fit([][]float32{{1, 2}, {1, 2, 3}})
	assert.Error(t, err)
}

func TestFitSingleSampleProjectsToOrigin(t *testing.T) {
	m, err := Fit([][]float32{{0.3, 0.7, 0.1, 0.9}})
	require.NoError(t, err)
	assert.Equal(t, 1, m.FittedOn)

	c, err := m.Project([]float32{0.3, 0.7, 0.1, 0.9})
	require.NoError(t, err)
	assert.Zero(t, c.X)
	assert.Zero(t, c.Y)
	assert.Zero(t, c.Z)

	// Any other embedding also lands at the origin: the components are zero.
	c, err = m.Project([]float32{5, 5, 5, 5})
	require.NoError(t, err)
	assert.Zero(t, c.X)
}

func TestFitRecoversDominantAxis(t *testing.T) {
	// Points spread along the first axis with tiny noise elsewhere. The first
	// principal component should be close to that axis.
	samples := [][]float32{
		{-2, 0.01, 0, 0},
		{-1, -0.01, 0, 0},
		{0, 0.02, 0, 0},
		{1, -0.02, 0, 0},
		{2, 0.01, 0, 0},
	}
	m, err := Fit(samples)
	require.NoError(t, err)

	first := m.Components[:m.Dims]
	assert.InDelta(t, 1.0, math.Abs(first[0]), 0.05)

	// Sign convention: largest-magnitude entry is positive.
	assert.Positive(t, first[0])

	// Projections preserve ordering along the axis.
	lo, err := m.Project([]float32{-2, 0, 0, 0})
	require.NoError(t, err)
	hi, err := m.Project([]float32{2, 0, 0, 0})
	require.NoError(t, err)
	assert.Less(t, lo.X, hi.X)
}

func TestFitDeterministic(t *testing.T) {
	samples := [][]float32{
		{1, 2, 3, 4},
		{4, 3, 2, 1},
		{2, 2, 2, 2},
		{0, 1, 0, 1},
	}
	a, err := Fit(samples)
	require.NoError(t, err)
	b, err := Fit(samples)
	require.NoError(t, err)
	assert.Equal(t, a.Mean, b.Mean)
	assert.InDeltaSlice(t, a.Components, b.Components, 1e-12)
}

func TestProjectMeanIsOrigin(t *testing.T) {
	samples := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	m, err := Fit(samples)
	require.NoError(t, err)

	c, err := m.Project([]float32{0.25, 0.25, 0.25, 0.25})
	require.NoError(t, err)
	assert.InDelta(t, 0, c.X, 1e-9)
	assert.InDelta(t, 0, c.Y, 1e-9)
	assert.InDelta(t, 0, c.Z, 1e-9)
}

func TestProjectDimsMismatch(t *testing.T) {
	m, err := Fit([][]float32{{1, 2, 3}, {3, 2, 1}})
	require.NoError(t, err)
	_, err = m.Project([]float32{1, 2})
	assert.Error(t, err)
}

type fakeStore struct {
	model      *storage.ProjectionModel
	embeddings [][]float32
	saves      int
}

func (f *fakeStore) GetProjectionModel(context.Context) (storage.ProjectionModel, error) {
	if f.model == nil {
		return storage.ProjectionModel{}, storage.ErrNotFound
	}
	return *f.model, nil
}

func (f *fakeStore) SaveProjectionModel(_ context.Context, m storage.ProjectionModel) error {
	f.model = &m
	f.saves++
	return nil
}

func (f *fakeStore) GetAllEmbeddings(context.Context, int) ([][]float32, error) {
	return f.embeddings, nil
}

func TestProjectorLazyFirstFitOnSeed(t *testing.T) {
	store := &fakeStore{}
	p := New(store, slog.Default())

	c, err := p.Project(context.Background(), []float32{0.1, 0.2, 0.3, 0.4})
	require.NoError(t, err)
	assert.Zero(t, c.X)
	assert.Equal(t, 1, store.saves, "first fit should be persisted")
	require.NotNil(t, store.model)
	assert.Equal(t, 1, store.model.FittedOn)

	// Second call reuses the cached model, no extra save.
	_, err = p.Project(context.Background(), []float32{0.5, 0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
}

func TestProjectorLoadsPersistedModel(t *testing.T) {
	fitted, err := Fit([][]float32{
		{1, 0, 0, 0},
		{-1, 0, 0, 0},
		{0, 1, 0, 0},
	})
	require.NoError(t, err)
	stored := toStored(fitted)
	store := &fakeStore{model: &stored}
	p := New(store, slog.Default())

	_, err = p.Project(context.Background(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.Zero(t, store.saves, "persisted model should not be refitted")
}

func TestProjectorRefitReplacesModel(t *testing.T) {
	store := &fakeStore{
		embeddings: [][]float32{
			{1, 0, 0, 0},
			{-1, 0, 0, 0},
			{2, 0, 0, 0},
			{-2, 0, 0, 0},
		},
	}
	p := New(store, slog.Default())

	n, err := p.Refit(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NotNil(t, store.model)
	assert.Equal(t, 4, store.model.FittedOn)

	// Projection now uses the refitted model without another fit.
	_, err = p.Project(context.Background(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
}

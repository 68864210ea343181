package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/storage"
)

// Store is the subset of storage the projector needs.
type Store interface {
	GetProjectionModel(ctx context.Context) (storage.ProjectionModel, error)
	SaveProjectionModel(ctx context.Context, m storage.ProjectionModel) error
	GetAllEmbeddings(ctx context.Context, limit int) ([][]float32, error)
}

// Projector serves 3-D projections from the shared persisted model. The model
// is fitted lazily on first use and immutable in-process afterwards; Refit
// replaces it offline.
type Projector struct {
	store  Store
	logger *slog.Logger

	mu    sync.RWMutex
	model *Model

	fit singleflight.Group
}

// New creates a projector backed by the shared projection_state row.
func New(store Store, logger *slog.Logger) *Projector {
	return &Projector{store: store, logger: logger}
}

// Project maps an embedding to 3-D coordinates, fitting the model first if no
// fit exists yet. The first fit may be on this single embedding alone; that
// degenerate model is tolerated until a batch refit.
func (p *Projector) Project(ctx context.Context, emb []float32) (model.Coords3D, error) {
	m, err := p.ensureFitted(ctx, emb)
	if err != nil {
		return model.Coords3D{}, err
	}
	return m.Project(emb)
}

// ensureFitted returns the cached model, loading or fitting it when absent.
// Concurrent first calls collapse into a single fit.
func (p *Projector) ensureFitted(ctx context.Context, seed []float32) (*Model, error) {
	p.mu.RLock()
	m := p.model
	p.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	v, err, _ := p.fit.Do("fit", func() (any, error) {
		stored, err := p.store.GetProjectionModel(ctx)
		switch {
		case err == nil:
			return fromStored(stored), nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}

		samples, err := p.store.GetAllEmbeddings(ctx, 0)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			if seed == nil {
				return nil, fmt.Errorf("projection: no embeddings to fit on")
			}
			samples = [][]float32{seed}
		}
		fitted, err := Fit(samples)
		if err != nil {
			return nil, err
		}
		if err := p.store.SaveProjectionModel(ctx, toStored(fitted)); err != nil {
			return nil, err
		}
		p.logger.Info("projection model fitted", "dims", fitted.Dims, "fitted_on", fitted.FittedOn)
		return &fitted, nil
	})
	if err != nil {
		return nil, err
	}
	m = v.(*Model)

	p.mu.Lock()
	if p.model == nil {
		p.model = m
	}
	m = p.model
	p.mu.Unlock()
	return m, nil
}

// Refit fits a fresh model on up to limit stored embeddings, persists it, and
// swaps it in. Returns the number of samples used.
func (p *Projector) Refit(ctx context.Context, limit int) (int, error) {
	samples, err := p.store.GetAllEmbeddings(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, fmt.Errorf("projection: no embeddings to refit on")
	}
	fitted, err := Fit(samples)
	if err != nil {
		return 0, err
	}
	if err := p.store.SaveProjectionModel(ctx, toStored(fitted)); err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.model = &fitted
	p.mu.Unlock()

	p.logger.Info("projection model refitted", "dims", fitted.Dims, "fitted_on", fitted.FittedOn)
	return fitted.FittedOn, nil
}

func fromStored(s storage.ProjectionModel) *Model {
	return &Model{Dims: s.Dims, Mean: s.Mean, Components: s.Components, FittedOn: s.FittedOn}
}

func toStored(m Model) storage.ProjectionModel {
	return storage.ProjectionModel{Dims: m.Dims, Mean: m.Mean, Components: m.Components, FittedOn: m.FittedOn}
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ProjectionModel is the persisted PCA model shared by every service:
// the training mean and a row-major 3 x Dims component matrix.
type ProjectionModel struct {
	Dims       int
	Mean       []float64
	Components []float64 // row-major, 3 rows of Dims values
	FittedOn   int       // number of samples the model was fitted on
	UpdatedAt  time.Time
}

// GetProjectionModel loads the single fitted model row.
func (db *DB) GetProjectionModel(ctx context.Context) (ProjectionModel, error) {
	var (
		m                   ProjectionModel
		meanJSON, compsJSON []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT dims, mean, components, fitted_on, updated_at
		 FROM projection_state WHERE id = 1`,
	).Scan(&m.Dims, &meanJSON, &compsJSON, &m.FittedOn, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ProjectionModel{}, ErrNotFound
		}
		return ProjectionModel{}, fmt.Errorf("storage: get projection model: %w", err)
	}
	if err := json.Unmarshal(meanJSON, &m.Mean); err != nil {
		return ProjectionModel{}, fmt.Errorf("storage: unmarshal projection mean: %w", err)
	}
	if err := json.Unmarshal(compsJSON, &m.Components); err != nil {
		return ProjectionModel{}, fmt.Errorf("storage: unmarshal projection components: %w", err)
	}
	return m, nil
}

// SaveProjectionModel stores the fitted model, replacing any previous fit.
// The first writer of a concurrent lazy-fit race wins; later writers simply
// overwrite with an equivalent model.
func (db *DB) SaveProjectionModel(ctx context.Context, m ProjectionModel) error {
	meanJSON, err := json.Marshal(m.Mean)
	if err != nil {
		return fmt.Errorf("storage: marshal projection mean: %w", err)
	}
	compsJSON, err := json.Marshal(m.Components)
	if err != nil {
		return fmt.Errorf("storage: marshal projection components: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO projection_state (id, dims, mean, components, fitted_on, updated_at)
		 VALUES (1, $1, $2, $3, $4, now())
		 ON CONFLICT (id) DO UPDATE SET
		   dims = EXCLUDED.dims,
		   mean = EXCLUDED.mean,
		   components = EXCLUDED.components,
		   fitted_on = EXCLUDED.fitted_on,
		   updated_at = now()`,
		m.Dims, meanJSON, compsJSON, m.FittedOn,
	)
	if err != nil {
		return fmt.Errorf("storage: save projection model: %w", err)
	}
	return nil
}

// GetAllEmbeddings returns up to limit stored work item embeddings, newest
// first. Used by the offline projection refit.
func (db *DB) GetAllEmbeddings(ctx context.Context, limit int) ([][]float32, error) {
	if limit <= 0 {
		limit = 2000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT embedding FROM work_items
		 WHERE embedding IS NOT NULL
		 ORDER BY created_at DESC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get embeddings: %w", err)
	}
	defer rows.Close()

	var out [][]float32
	for rows.Next() {
		var emb []float32
		if err := rows.Scan(&emb); err != nil {
			return nil, fmt.Errorf("storage: scan embedding: %w", err)
		}
		out = append(out, emb)
	}
	return out, rows.Err()
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/rota/internal/model"
)

const humanColumns = `id, display_name, tracker_account_id, active,
	 coord_x, coord_y, coord_z, created_at`

// UpsertHuman inserts a responder or updates its display name, tracker
// account and active flag. Capability coordinates are owned by the learner
// and not touched here.
func (db *DB) UpsertHuman(ctx context.Context, h model.Human) (model.Human, error) {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO humans (id, display_name, tracker_account_id, active, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   tracker_account_id = EXCLUDED.tracker_account_id,
		   active = EXCLUDED.active`,
		h.ID, h.DisplayName, h.TrackerAccountID, h.Active, h.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// tracker_account_id collided with another human.
			return model.Human{}, ErrDuplicate
		}
		return model.Human{}, fmt.Errorf("storage: upsert human: %w", err)
	}
	return h, nil
}

// GetHuman retrieves a responder by id.
func (db *DB) GetHuman(ctx context.Context, id string) (model.Human, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+humanColumns+` FROM humans WHERE id = $1`, id)
	h, err := scanHuman(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Human{}, ErrNotFound
		}
		return model.Human{}, fmt.Errorf("storage: get human: %w", err)
	}
	return h, nil
}

// ListHumans returns all responders ordered by id.
func (db *DB) ListHumans(ctx context.Context) ([]model.Human, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+humanColumns+` FROM humans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list humans: %w", err)
	}
	defer rows.Close()

	var humans []model.Human
	for rows.Next() {
		h, err := scanHuman(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan human: %w", err)
		}
		humans = append(humans, h)
	}
	return humans, rows.Err()
}

// SetHumanCoords stores the 3-D capability projection for a responder.
func (db *DB) SetHumanCoords(ctx context.Context, humanID string, c model.Coords3D) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE humans SET coord_x = $1, coord_y = $2, coord_z = $3 WHERE id = $4`,
		c.X, c.Y, c.Z, humanID,
	)
	if err != nil {
		return fmt.Errorf("storage: set human coords: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanHuman(row pgx.Row) (model.Human, error) {
	var (
		h       model.Human
		x, y, z *float64
	)
	err := row.Scan(&h.ID, &h.DisplayName, &h.TrackerAccountID, &h.Active,
		&x, &y, &z, &h.CreatedAt)
	if err != nil {
		return model.Human{}, err
	}
	if x != nil && y != nil && z != nil {
		h.Coords = &model.Coords3D{X: *x, Y: *y, Z: *z}
	}
	return h, nil
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/rota/internal/model"
)

// Stat deltas applied by outcome processing, centralized here so every
// write path clamps identically.
const (
	resolvedFitBoost    = 0.10
	reassignFromPenalty = 0.15
	reassignToBoost     = 0.05
	baseFitScore        = 0.5
)

// ProfileRow is one learner profile before tracker enrichment: stored stats
// joined with identity and load. Tracker-derived fields are filled by the
// learner service.
type ProfileRow struct {
	HumanID          string
	DisplayName      string
	TrackerAccountID *string
	Active           bool
	FitScore         float64
	ResolvesCount    int
	TransfersCount   int
	LastResolvedAt   *time.Time
	Pages7d          int
	ActiveItems      int
}

// GetServiceProfiles returns stats rows for a service joined with humans and
// load, restricted to humans whose last resolution is within the window (or
// who have never resolved), ordered by stored fit_score descending.
func (db *DB) GetServiceProfiles(ctx context.Context, service string, window time.Duration) ([]ProfileRow, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT s.human_id, h.display_name, h.tracker_account_id, h.active,
		        s.fit_score, s.resolves_count, s.transfers_count, s.last_resolved_at,
		        COALESCE(l.pages_7d, 0), COALESCE(l.active_items, 0)
		 FROM human_service_stats s
		 JOIN humans h ON h.id = s.human_id
		 LEFT JOIN human_load l ON l.human_id = s.human_id
		 WHERE s.service = $1
		   AND (s.last_resolved_at IS NULL OR s.last_resolved_at > now() - $2::interval)
		 ORDER BY s.fit_score DESC, s.human_id`,
		service, window,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: service profiles: %w", err)
	}
	defer rows.Close()
	return scanProfileRows(rows)
}

// GetKnownHumansForService returns every active human who has ever touched
// the service: a stats row, a resolved edge on one of its work items, or a
// transfer. Used as the degraded candidate source when profile reads fail.
func (db *DB) GetKnownHumansForService(ctx context.Context, service string) ([]model.Human, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT h.id, h.display_name, h.tracker_account_id, h.active,
		        h.coord_x, h.coord_y, h.coord_z, h.created_at
		 FROM humans h
		 WHERE h.id IN (
		     SELECT human_id FROM human_service_stats WHERE service = $1
		     UNION
		     SELECT r.human_id FROM resolved_edges r
		     JOIN work_items w ON w.id = r.work_item_id WHERE w.service = $1
		 )
		 ORDER BY h.id`,
		service,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: known humans for service: %w", err)
	}
	defer rows.Close()

	var humans []model.Human
	for rows.Next() {
		h, err := scanHuman(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan known human: %w", err)
		}
		humans = append(humans, h)
	}
	return humans, rows.Err()
}

// GetHumanStats returns all stats rows for one human plus the load view.
func (db *DB) GetHumanStats(ctx context.Context, humanID string) ([]model.HumanServiceStats, *model.HumanLoad, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT human_id, service, fit_score, resolves_count, transfers_count,
		        last_resolved_at, updated_at
		 FROM human_service_stats WHERE human_id = $1 ORDER BY service`,
		humanID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: human stats: %w", err)
	}
	defer rows.Close()

	var stats []model.HumanServiceStats
	for rows.Next() {
		var s model.HumanServiceStats
		if err := rows.Scan(&s.HumanID, &s.Service, &s.FitScore, &s.ResolvesCount,
			&s.TransfersCount, &s.LastResolvedAt, &s.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("storage: scan human stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var load model.HumanLoad
	err = db.pool.QueryRow(ctx,
		`SELECT human_id, pages_7d, active_items, last_updated
		 FROM human_load WHERE human_id = $1`, humanID,
	).Scan(&load.HumanID, &load.Pages7d, &load.ActiveItems, &load.LastUpdated)
	if err != nil {
		if err == pgx.ErrNoRows {
			return stats, nil, nil
		}
		return nil, nil, fmt.Errorf("storage: human load: %w", err)
	}
	return stats, &load, nil
}

// GetStatsRow returns the single (human, service) stats row.
func (db *DB) GetStatsRow(ctx context.Context, humanID, service string) (model.HumanServiceStats, error) {
	var s model.HumanServiceStats
	err := db.pool.QueryRow(ctx,
		`SELECT human_id, service, fit_score, resolves_count, transfers_count,
		        last_resolved_at, updated_at
		 FROM human_service_stats WHERE human_id = $1 AND service = $2`,
		humanID, service,
	).Scan(&s.HumanID, &s.Service, &s.FitScore, &s.ResolvesCount,
		&s.TransfersCount, &s.LastResolvedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.HumanServiceStats{}, ErrNotFound
		}
		return model.HumanServiceStats{}, fmt.Errorf("storage: stats row: %w", err)
	}
	return s, nil
}

// ApplyResolvedOutcome applies a resolved event in one transaction: dedupe,
// stats boost, resolved edge, load decrement. Returns false without touching
// state when the event id was already processed.
func (db *DB) ApplyResolvedOutcome(ctx context.Context, o model.Outcome) (bool, error) {
	applied := false
	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		fresh, err := claimOutcomeTx(ctx, tx, o.EventID)
		if err != nil || !fresh {
			return err
		}
		if err := ensureHumanTx(ctx, tx, o.ActorID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO human_service_stats
			   (human_id, service, fit_score, resolves_count, last_resolved_at, updated_at)
			 VALUES ($1, $2, LEAST(1.0, $3 + $4), 1, $5, now())
			 ON CONFLICT (human_id, service) DO UPDATE SET
			   fit_score = LEAST(1.0, GREATEST(0.0, human_service_stats.fit_score + $4)),
			   resolves_count = human_service_stats.resolves_count + 1,
			   last_resolved_at = $5,
			   updated_at = now()`,
			o.ActorID, o.Service, baseFitScore, resolvedFitBoost, o.OccurredAt,
		); err != nil {
			return fmt.Errorf("storage: resolved stats update: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO resolved_edges (human_id, work_item_id, resolved_at)
			 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			o.ActorID, o.WorkItemID, o.OccurredAt,
		); err != nil {
			return fmt.Errorf("storage: insert resolved edge: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO human_load (human_id, pages_7d, active_items, last_updated)
			 VALUES ($1, 0, 0, now())
			 ON CONFLICT (human_id) DO UPDATE SET
			   active_items = GREATEST(0, human_load.active_items - 1),
			   last_updated = now()`,
			o.ActorID,
		); err != nil {
			return fmt.Errorf("storage: resolved load update: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// ApplyReassignedOutcome applies a reassigned (or escalated, with from == to)
// event in one transaction. fromID may be empty when the original assignee is
// unknown; only the new-assignee boost is applied then.
func (db *DB) ApplyReassignedOutcome(ctx context.Context, o model.Outcome, fromID, toID string) (bool, error) {
	applied := false
	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		fresh, err := claimOutcomeTx(ctx, tx, o.EventID)
		if err != nil || !fresh {
			return err
		}
		if fromID != "" {
			if err := ensureHumanTx(ctx, tx, fromID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO human_service_stats
				   (human_id, service, fit_score, transfers_count, updated_at)
				 VALUES ($1, $2, GREATEST(0.0, $3 - $4), 1, now())
				 ON CONFLICT (human_id, service) DO UPDATE SET
				   fit_score = LEAST(1.0, GREATEST(0.0, human_service_stats.fit_score - $4)),
				   transfers_count = human_service_stats.transfers_count + 1,
				   updated_at = now()`,
				fromID, o.Service, baseFitScore, reassignFromPenalty,
			); err != nil {
				return fmt.Errorf("storage: reassign from-stats update: %w", err)
			}
		}
		if toID != "" {
			if err := ensureHumanTx(ctx, tx, toID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO human_service_stats
				   (human_id, service, fit_score, updated_at)
				 VALUES ($1, $2, LEAST(1.0, $3 + $4), now())
				 ON CONFLICT (human_id, service) DO UPDATE SET
				   fit_score = LEAST(1.0, GREATEST(0.0, human_service_stats.fit_score + $4)),
				   updated_at = now()`,
				toID, o.Service, baseFitScore, reassignToBoost,
			); err != nil {
				return fmt.Errorf("storage: reassign to-stats update: %w", err)
			}
		}
		if fromID != "" && toID != "" {
			if _, err := tx.Exec(ctx,
				`INSERT INTO transferred_edges (work_item_id, from_human_id, to_human_id, transferred_at)
				 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
				o.WorkItemID, fromID, toID, o.OccurredAt,
			); err != nil {
				return fmt.Errorf("storage: insert transferred edge: %w", err)
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

// claimOutcomeTx inserts the event id into the dedupe table. Returns false
// when the id was already claimed; the surrounding transaction then commits
// nothing else.
func claimOutcomeTx(ctx context.Context, tx pgx.Tx, eventID string) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO outcomes_dedupe (event_id, processed_at) VALUES ($1, now())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID,
	)
	if err != nil {
		return false, fmt.Errorf("storage: claim outcome: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ensureHumanTx creates a stub responder row so stats FKs hold for actors
// the registry has not seen yet.
func ensureHumanTx(ctx context.Context, tx pgx.Tx, humanID string) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO humans (id, display_name) VALUES ($1, $1)
		 ON CONFLICT (id) DO NOTHING`,
		humanID,
	); err != nil {
		return fmt.Errorf("storage: ensure human %s: %w", humanID, err)
	}
	return nil
}

// UpsertCapability stores the capability centroid for (human, service).
func (db *DB) UpsertCapability(ctx context.Context, humanID, service string, embedding pgvector.Vector) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO human_capabilities (human_id, service, embedding, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (human_id, service) DO UPDATE SET
		   embedding = EXCLUDED.embedding, updated_at = now()`,
		humanID, service, embedding,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert capability: %w", err)
	}
	return nil
}

// GetCapability returns the stored capability centroid for (human, service).
func (db *DB) GetCapability(ctx context.Context, humanID, service string) ([]float32, error) {
	var emb []float32
	err := db.pool.QueryRow(ctx,
		`SELECT embedding FROM human_capabilities WHERE human_id = $1 AND service = $2`,
		humanID, service,
	).Scan(&emb)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get capability: %w", err)
	}
	return emb, nil
}

// SetHumanLoad overwrites the load view for a responder. Used by admin and
// seed paths; outcome processing adjusts load incrementally.
func (db *DB) SetHumanLoad(ctx context.Context, l model.HumanLoad) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO human_load (human_id, pages_7d, active_items, last_updated)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (human_id) DO UPDATE SET
		   pages_7d = EXCLUDED.pages_7d,
		   active_items = EXCLUDED.active_items,
		   last_updated = now()`,
		l.HumanID, l.Pages7d, l.ActiveItems,
	)
	if err != nil {
		return fmt.Errorf("storage: set human load: %w", err)
	}
	return nil
}

func scanProfileRows(rows pgx.Rows) ([]ProfileRow, error) {
	var out []ProfileRow
	for rows.Next() {
		var p ProfileRow
		if err := rows.Scan(&p.HumanID, &p.DisplayName, &p.TrackerAccountID, &p.Active,
			&p.FitScore, &p.ResolvesCount, &p.TransfersCount, &p.LastResolvedAt,
			&p.Pages7d, &p.ActiveItems); err != nil {
			return nil, fmt.Errorf("storage: scan profile row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

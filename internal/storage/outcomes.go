package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/rota/internal/model"
)

// RecordOutcomeAudit persists the ingest-side copy of an outcome event.
// Idempotent on event_id: replays return the stored row unchanged.
func (db *DB) RecordOutcomeAudit(ctx context.Context, o model.Outcome) (model.Outcome, bool, error) {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO outcomes
		   (event_id, work_item_id, decision_id, type, actor_id, new_assignee_id,
		    service, occurred_at, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (event_id) DO NOTHING`,
		o.EventID, o.WorkItemID, o.DecisionID, o.Type, o.ActorID, o.NewAssigneeID,
		o.Service, o.OccurredAt, o.RecordedAt,
	)
	if err != nil {
		return model.Outcome{}, false, fmt.Errorf("storage: record outcome audit: %w", err)
	}
	return o, tag.RowsAffected() == 1, nil
}

// CountOutcomesSince returns how many outcome events were recorded after the
// cutoff. Used by the routing-health view.
func (db *DB) CountOutcomesSince(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outcomes WHERE recorded_at >= $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count outcomes: %w", err)
	}
	return n, nil
}

// IsOutcomeProcessed reports whether the learner has applied the event.
func (db *DB) IsOutcomeProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM outcomes_dedupe WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: outcome processed check: %w", err)
	}
	return exists, nil
}

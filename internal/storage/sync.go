package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SyncRecord is one historical resolution pulled from the tracker.
type SyncRecord struct {
	HumanID    string
	WorkItemID string
	Service    string
	ResolvedAt time.Time
}

// ApplySyncBatch bulk-applies historical resolutions: COPY into a temp
// table, insert the edges idempotently, then bump stats only for edges that
// were actually new. Replaying the same batch is a no-op. Returns the number
// of new edges.
func (db *DB) ApplySyncBatch(ctx context.Context, records []SyncRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var applied int64
	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`CREATE TEMP TABLE _sync_batch
			   (human_id text, work_item_id text, service text, resolved_at timestamptz)
			 ON COMMIT DROP`,
		); err != nil {
			return fmt.Errorf("storage: create sync temp table: %w", err)
		}

		rows := make([][]any, len(records))
		for i, r := range records {
			rows[i] = []any{r.HumanID, r.WorkItemID, r.Service, r.ResolvedAt}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"_sync_batch"},
			[]string{"human_id", "work_item_id", "service", "resolved_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("storage: copy into sync temp table: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO humans (id, display_name)
			 SELECT DISTINCT human_id, human_id FROM _sync_batch
			 ON CONFLICT (id) DO NOTHING`,
		); err != nil {
			return fmt.Errorf("storage: ensure sync humans: %w", err)
		}

		// Materialize the edges that were actually new so the stats bump
		// and the caller's count see the same set.
		if _, err := tx.Exec(ctx,
			`CREATE TEMP TABLE _sync_new ON COMMIT DROP AS
			 WITH ins AS (
			     INSERT INTO resolved_edges (human_id, work_item_id, resolved_at)
			     SELECT human_id, work_item_id, resolved_at FROM _sync_batch
			     ON CONFLICT DO NOTHING
			     RETURNING human_id, work_item_id
			 )
			 SELECT human_id, work_item_id FROM ins`,
		); err != nil {
			return fmt.Errorf("storage: insert sync edges: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`WITH new_counts AS (
			     SELECT b.human_id, b.service,
			            COUNT(*)::int AS n,
			            MAX(b.resolved_at) AS last_at
			     FROM _sync_batch b
			     JOIN _sync_new i ON i.human_id = b.human_id AND i.work_item_id = b.work_item_id
			     GROUP BY b.human_id, b.service
			 )
			 INSERT INTO human_service_stats
			   (human_id, service, fit_score, resolves_count, last_resolved_at, updated_at)
			 SELECT human_id, service,
			        LEAST(1.0, $1 + $2 * n),
			        n, last_at, now()
			 FROM new_counts
			 ON CONFLICT (human_id, service) DO UPDATE SET
			   fit_score = LEAST(1.0, human_service_stats.fit_score + $2 * EXCLUDED.resolves_count),
			   resolves_count = human_service_stats.resolves_count + EXCLUDED.resolves_count,
			   last_resolved_at = GREATEST(
			       COALESCE(human_service_stats.last_resolved_at, EXCLUDED.last_resolved_at),
			       EXCLUDED.last_resolved_at),
			   updated_at = now()`,
			baseFitScore, resolvedFitBoost,
		); err != nil {
			return fmt.Errorf("storage: apply sync stats: %w", err)
		}

		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM _sync_new`).Scan(&applied); err != nil {
			return fmt.Errorf("storage: count sync edges: %w", err)
		}
		return nil
	})
	return applied, err
}

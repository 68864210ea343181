package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ResolvedEdgeRecord is one historical resolution used by the sync path.
type ResolvedEdgeRecord struct {
	HumanID    string
	WorkItemID string
	ResolvedAt time.Time
}

// BulkInsertResolvedEdges loads a batch of resolved edges, skipping
// duplicates. COPY into a temp table, then an idempotent insert: the same
// pattern as one-row ON CONFLICT DO NOTHING but one round trip for the
// whole batch. Returns the number of edges that were new.
func (db *DB) BulkInsertResolvedEdges(ctx context.Context, edges []ResolvedEdgeRecord) (int64, error) {
	if len(edges) == 0 {
		return 0, nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: begin edge bulk insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`CREATE TEMP TABLE _sync_edges
		   (LIKE resolved_edges INCLUDING DEFAULTS)
		 ON COMMIT DROP`,
	); err != nil {
		return 0, fmt.Errorf("storage: create edge temp table: %w", err)
	}

	rows := make([][]any, len(edges))
	for i, e := range edges {
		rows[i] = []any{e.HumanID, e.WorkItemID, e.ResolvedAt}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"_sync_edges"},
		[]string{"human_id", "work_item_id", "resolved_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return 0, fmt.Errorf("storage: copy into edge temp table: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO resolved_edges SELECT * FROM _sync_edges ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("storage: insert from edge temp table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: commit edge bulk insert: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResolvedItem is a resolved work item with its description, used to build
// capability centroids.
type ResolvedItem struct {
	WorkItemID  string
	Description string
	ResolvedAt  time.Time
}

// GetRecentResolvedItems returns up to limit most recent resolutions by one
// human in one service, newest first, with the item descriptions.
func (db *DB) GetRecentResolvedItems(ctx context.Context, humanID, service string, limit int) ([]ResolvedItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT r.work_item_id, w.description, r.resolved_at
		 FROM resolved_edges r
		 JOIN work_items w ON w.id = r.work_item_id
		 WHERE r.human_id = $1 AND w.service = $2
		 ORDER BY r.resolved_at DESC
		 LIMIT $3`,
		humanID, service, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent resolved items: %w", err)
	}
	defer rows.Close()

	var out []ResolvedItem
	for rows.Next() {
		var it ResolvedItem
		if err := rows.Scan(&it.WorkItemID, &it.Description, &it.ResolvedAt); err != nil {
			return nil, fmt.Errorf("storage: scan resolved item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CountResolvedEdges returns how many resolved edges exist for one human and
// work item pair. Used in tests to assert append-only dedupe.
func (db *DB) CountResolvedEdges(ctx context.Context, humanID, workItemID string) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM resolved_edges WHERE human_id = $1 AND work_item_id = $2`,
		humanID, workItemID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count resolved edges: %w", err)
	}
	return n, nil
}

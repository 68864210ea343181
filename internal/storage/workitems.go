package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/rota/internal/model"
)

const workItemColumns = `id, type, service, severity, description, raw_log,
	 story_points, impact, embed_x, embed_y, embed_z, external_ticket_key,
	 origin_system, creator_id, created_at`

// CreateWorkItem inserts a work item and, in the same transaction, enqueues
// a search outbox row so the nearest-neighbor index converges. Returns
// ErrDuplicate on an id collision.
func (db *DB) CreateWorkItem(ctx context.Context, w model.WorkItem) (model.WorkItem, error) {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}

	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		var x, y, z *float64
		if w.Coords != nil {
			x, y, z = &w.Coords.X, &w.Coords.Y, &w.Coords.Z
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO work_items (id, type, service, severity, description, raw_log,
			 story_points, impact, embedding, embed_x, embed_y, embed_z,
			 origin_system, creator_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			w.ID, w.Type, w.Service, w.Severity, w.Description, w.RawLog,
			w.StoryPoints, w.Impact, w.Embedding, x, y, z,
			w.OriginSystem, w.CreatorID, w.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("storage: create work item: %w", err)
		}
		if w.Embedding != nil {
			if err := enqueueOutboxTx(ctx, tx, OutboxKindWorkItem, w.ID, w.Service); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.WorkItem{}, err
	}
	return w, nil
}

// GetWorkItem retrieves a work item by id.
func (db *DB) GetWorkItem(ctx context.Context, id string) (model.WorkItem, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id)
	w, err := scanWorkItem(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.WorkItem{}, ErrNotFound
		}
		return model.WorkItem{}, fmt.Errorf("storage: get work item: %w", err)
	}
	return w, nil
}

// GetWorkItemByTicketKey retrieves a work item by its external ticket key.
func (db *DB) GetWorkItemByTicketKey(ctx context.Context, key string) (model.WorkItem, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE external_ticket_key = $1`, key)
	w, err := scanWorkItem(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.WorkItem{}, ErrNotFound
		}
		return model.WorkItem{}, fmt.Errorf("storage: get work item by ticket key: %w", err)
	}
	return w, nil
}

// GetWorkItemEmbedding returns the stored dense embedding for a work item,
// or nil when none was persisted.
func (db *DB) GetWorkItemEmbedding(ctx context.Context, id string) ([]float32, error) {
	var emb []float32
	err := db.pool.QueryRow(ctx,
		`SELECT embedding FROM work_items WHERE id = $1`, id).Scan(&emb)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get work item embedding: %w", err)
	}
	return emb, nil
}

// ListWorkItems returns work items matching the filters, newest first.
func (db *DB) ListWorkItems(ctx context.Context, f model.WorkItemFilters) ([]model.WorkItem, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE 1=1`
	args := []any{}
	if f.Service != "" {
		args = append(args, f.Service)
		query += fmt.Sprintf(" AND service = $%d", len(args))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list work items: %w", err)
	}
	defer rows.Close()

	var items []model.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan work item: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// SetExternalTicketKey records the tracker ticket created for a work item.
// Written once by the executor; a second write is a no-op.
func (db *DB) SetExternalTicketKey(ctx context.Context, workItemID, ticketKey string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE work_items SET external_ticket_key = $1
		 WHERE id = $2 AND external_ticket_key IS NULL`,
		ticketKey, workItemID,
	)
	if err != nil {
		return fmt.Errorf("storage: set external ticket key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		db.logger.Debug("storage: external ticket key already set or work item missing",
			"work_item_id", workItemID)
	}
	return nil
}

// WorkItemsForIndex returns the id, service, severity, resolver (when a
// resolved edge exists) and embedding for the given work items. Items
// without embeddings are omitted. Used by the search outbox worker.
type WorkItemForIndex struct {
	ID         string
	Service    string
	Severity   string
	ResolverID *string
	Embedding  []float32
}

// GetWorkItemsForIndex fetches index-ready rows for the outbox worker.
func (db *DB) GetWorkItemsForIndex(ctx context.Context, ids []string) ([]WorkItemForIndex, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT w.id, w.service, w.severity, w.embedding,
		        (SELECT r.human_id FROM resolved_edges r
		         WHERE r.work_item_id = w.id
		         ORDER BY r.resolved_at DESC LIMIT 1)
		 FROM work_items w
		 WHERE w.id = ANY($1) AND w.embedding IS NOT NULL`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: work items for index: %w", err)
	}
	defer rows.Close()

	var out []WorkItemForIndex
	for rows.Next() {
		var w WorkItemForIndex
		if err := rows.Scan(&w.ID, &w.Service, &w.Severity, &w.Embedding, &w.ResolverID); err != nil {
			return nil, fmt.Errorf("storage: scan work item for index: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorkItem(row pgx.Row) (model.WorkItem, error) {
	var (
		w       model.WorkItem
		x, y, z *float64
	)
	err := row.Scan(
		&w.ID, &w.Type, &w.Service, &w.Severity, &w.Description, &w.RawLog,
		&w.StoryPoints, &w.Impact, &x, &y, &z, &w.ExternalTicketKey,
		&w.OriginSystem, &w.CreatorID, &w.CreatedAt,
	)
	if err != nil {
		return model.WorkItem{}, err
	}
	if x != nil && y != nil && z != nil {
		w.Coords = &model.Coords3D{X: *x, Y: *y, Z: *z}
	}
	return w, nil
}

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Outbox row kinds. Each kind maps to one nearest-neighbor collection.
const (
	OutboxKindWorkItem   = "work_item"
	OutboxKindCapability = "capability"
)

// OutboxEntry is one pending nearest-neighbor sync row.
type OutboxEntry struct {
	ID       int64
	Kind     string
	EntityID string
	Service  string
	Attempts int
}

// EnqueueOutbox inserts an outbox row outside any caller transaction.
func (db *DB) EnqueueOutbox(ctx context.Context, kind, entityID, service string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO search_outbox (kind, entity_id, service) VALUES ($1, $2, $3)`,
		kind, entityID, service,
	)
	if err != nil {
		return fmt.Errorf("storage: enqueue outbox: %w", err)
	}
	return nil
}

// enqueueOutboxTx inserts an outbox row inside the caller's transaction so
// the index mirror commits atomically with the entity.
func enqueueOutboxTx(ctx context.Context, tx pgx.Tx, kind, entityID, service string) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO search_outbox (kind, entity_id, service) VALUES ($1, $2, $3)`,
		kind, entityID, service,
	); err != nil {
		return fmt.Errorf("storage: enqueue outbox: %w", err)
	}
	return nil
}

// ClaimOutboxBatch selects and locks up to batchSize pending entries for the
// worker. Locked rows are invisible to other workers until lockFor expires.
func (db *DB) ClaimOutboxBatch(ctx context.Context, batchSize, maxAttempts int, lockSeconds int) ([]OutboxEntry, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin outbox claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id, kind, entity_id, service, attempts
		 FROM search_outbox
		 WHERE (locked_until IS NULL OR locked_until < now())
		   AND attempts < $1
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		maxAttempts, batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: select outbox pending: %w", err)
	}

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.EntityID, &e.Service, &e.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if _, err := tx.Exec(ctx,
		`UPDATE search_outbox SET locked_until = now() + $1 * interval '1 second' WHERE id = ANY($2)`,
		lockSeconds, ids,
	); err != nil {
		return nil, fmt.Errorf("storage: lock outbox entries: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit outbox claim: %w", err)
	}
	return entries, nil
}

// DeleteOutboxEntries removes successfully synced entries.
func (db *DB) DeleteOutboxEntries(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := db.pool.Exec(ctx,
		`DELETE FROM search_outbox WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("storage: delete outbox entries: %w", err)
	}
	return nil
}

// FailOutboxEntries increments attempts and backs the entries off
// exponentially, capped at 5 minutes.
func (db *DB) FailOutboxEntries(ctx context.Context, ids []int64, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := db.pool.Exec(ctx,
		`UPDATE search_outbox
		 SET attempts = attempts + 1,
		     last_error = $1,
		     locked_until = now() + LEAST(POWER(2, attempts + 1), 300) * interval '1 second'
		 WHERE id = ANY($2)`,
		errMsg, ids,
	); err != nil {
		return fmt.Errorf("storage: fail outbox entries: %w", err)
	}
	return nil
}

// CleanupOutboxDeadLetters removes entries that exhausted their attempts more
// than seven days ago. Returns how many were deleted.
func (db *DB) CleanupOutboxDeadLetters(ctx context.Context, maxAttempts int) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM search_outbox
		 WHERE attempts >= $1
		   AND created_at < now() - interval '7 days'`,
		maxAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup outbox dead-letters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountOutboxPending returns the number of entries still awaiting sync.
func (db *DB) CountOutboxPending(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM search_outbox WHERE attempts < $1`, maxAttempts).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count outbox pending: %w", err)
	}
	return n, nil
}

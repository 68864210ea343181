package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/rota/internal/model"
)

// spoolSchema is the durable outcome queue. event_id is unique so a webhook
// replay never spools twice; delivered rows are kept briefly for inspection
// and pruned by the forwarder.
const spoolSchema = `
CREATE TABLE IF NOT EXISTS outcome_spool (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id     TEXT NOT NULL UNIQUE,
	payload      TEXT NOT NULL,
	enqueued_at  TEXT NOT NULL,
	delivered_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_spool_pending
	ON outcome_spool (seq) WHERE delivered_at IS NULL;
`

// Spool is the sqlite-backed outcome queue.
type Spool struct {
	db *sql.DB
}

// OpenSpool opens or creates the spool database at path.
func OpenSpool(path string) (*Spool, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("relay: open spool: %w", err)
	}
	// sqlite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(spoolSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("relay: init spool schema: %w", err)
	}
	return &Spool{db: db}, nil
}

// Close closes the underlying database.
func (s *Spool) Close() error {
	return s.db.Close()
}

// Append spools an outcome. Idempotent on event_id.
func (s *Spool) Append(ctx context.Context, o model.Outcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("relay: marshal outcome: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outcome_spool (event_id, payload, enqueued_at)
		 VALUES (?, ?, ?) ON CONFLICT (event_id) DO NOTHING`,
		o.EventID, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("relay: append outcome: %w", err)
	}
	return nil
}

// spoolEntry is one pending outcome in queue order.
type spoolEntry struct {
	Seq     int64
	Outcome model.Outcome
}

// Pending returns undelivered outcomes in append order.
func (s *Spool) Pending(ctx context.Context, limit int) ([]spoolEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, payload FROM outcome_spool
		 WHERE delivered_at IS NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("relay: pending: %w", err)
	}
	defer rows.Close()

	var entries []spoolEntry
	for rows.Next() {
		var (
			e       spoolEntry
			payload string
		)
		if err := rows.Scan(&e.Seq, &payload); err != nil {
			return nil, fmt.Errorf("relay: scan pending: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Outcome); err != nil {
			return nil, fmt.Errorf("relay: unmarshal spooled outcome: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkDelivered checkpoints one delivered entry.
func (s *Spool) MarkDelivered(ctx context.Context, seq int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outcome_spool SET delivered_at = ? WHERE seq = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), seq)
	if err != nil {
		return fmt.Errorf("relay: mark delivered: %w", err)
	}
	return nil
}

// Prune deletes delivered entries older than the retention window.
func (s *Spool) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM outcome_spool WHERE delivered_at IS NOT NULL AND delivered_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("relay: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Depth returns the number of undelivered entries.
func (s *Spool) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outcome_spool WHERE delivered_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("relay: depth: %w", err)
	}
	return n, nil
}

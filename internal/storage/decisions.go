package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/rota/internal/model"
)

// CreateDecisionAudit persists a decision with its full audit trail in one
// transaction: the decision row, one candidate row per considered human,
// and one row per evaluated constraint. A concurrent decide on the same
// work item loses the unique-key race and gets ErrDuplicate; the caller
// recovers it into a read.
func (db *DB) CreateDecisionAudit(
	ctx context.Context,
	d model.Decision,
	candidates []model.DecisionCandidate,
	constraints []model.ConstraintResult,
) (model.Decision, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	backups, err := json.Marshal(d.BackupHumanIDs)
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: marshal backups: %w", err)
	}

	err = db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO decisions (id, work_item_id, primary_human_id, backup_human_ids,
			 confidence, content_hash, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			d.ID, d.WorkItemID, d.PrimaryHumanID, backups, d.Confidence, d.ContentHash, d.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("storage: insert decision: %w", err)
		}
		if err := insertAuditRowsTx(ctx, tx, candidates, constraints); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return model.Decision{}, err
	}
	return d, nil
}

// CreateRejectedAudit persists candidate and constraint audit rows for a
// decide attempt that ended with every candidate vetoed. No decision row is
// written; the work item stays decidable.
func (db *DB) CreateRejectedAudit(
	ctx context.Context,
	candidates []model.DecisionCandidate,
	constraints []model.ConstraintResult,
) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		return insertAuditRowsTx(ctx, tx, candidates, constraints)
	})
}

func insertAuditRowsTx(ctx context.Context, tx pgx.Tx, candidates []model.DecisionCandidate, constraints []model.ConstraintResult) error {
	for _, c := range candidates {
		breakdown, err := json.Marshal(c.Breakdown)
		if err != nil {
			return fmt.Errorf("storage: marshal breakdown: %w", err)
		}
		if c.Breakdown == nil {
			breakdown = []byte("{}")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO decision_candidates
			   (decision_id, human_id, score, rank, filtered, filter_reason, score_breakdown)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (decision_id, human_id) DO NOTHING`,
			c.DecisionID, c.HumanID, c.Score, c.Rank, c.Filtered, c.FilterReason, breakdown,
		); err != nil {
			return fmt.Errorf("storage: insert candidate: %w", err)
		}
	}
	for _, cr := range constraints {
		if _, err := tx.Exec(ctx,
			`INSERT INTO constraint_results (decision_id, constraint_name, passed, reason)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (decision_id, constraint_name) DO NOTHING`,
			cr.DecisionID, cr.ConstraintName, cr.Passed, cr.Reason,
		); err != nil {
			return fmt.Errorf("storage: insert constraint result: %w", err)
		}
	}
	return nil
}

// GetDecisionByWorkItem retrieves the decision for a work item.
func (db *DB) GetDecisionByWorkItem(ctx context.Context, workItemID string) (model.Decision, error) {
	return db.getDecision(ctx, `work_item_id`, workItemID)
}

// GetDecision retrieves a decision by its own id.
func (db *DB) GetDecision(ctx context.Context, id string) (model.Decision, error) {
	return db.getDecision(ctx, `id`, id)
}

func (db *DB) getDecision(ctx context.Context, column, value string) (model.Decision, error) {
	var (
		d       model.Decision
		backups []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, work_item_id, primary_human_id, backup_human_ids, confidence, content_hash, created_at
		 FROM decisions WHERE `+column+` = $1`, value,
	).Scan(&d.ID, &d.WorkItemID, &d.PrimaryHumanID, &backups, &d.Confidence, &d.ContentHash, &d.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Decision{}, ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("storage: get decision: %w", err)
	}
	if err := json.Unmarshal(backups, &d.BackupHumanIDs); err != nil {
		return model.Decision{}, fmt.Errorf("storage: unmarshal backups: %w", err)
	}
	if d.BackupHumanIDs == nil {
		d.BackupHumanIDs = []string{}
	}
	return d, nil
}

// GetDecisionCandidates returns the audit candidate rows ordered by rank.
func (db *DB) GetDecisionCandidates(ctx context.Context, decisionID string) ([]model.DecisionCandidate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT decision_id, human_id, score, rank, filtered, filter_reason, score_breakdown
		 FROM decision_candidates WHERE decision_id = $1 ORDER BY rank`,
		decisionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get candidates: %w", err)
	}
	defer rows.Close()

	var out []model.DecisionCandidate
	for rows.Next() {
		var (
			c         model.DecisionCandidate
			breakdown []byte
		)
		if err := rows.Scan(&c.DecisionID, &c.HumanID, &c.Score, &c.Rank,
			&c.Filtered, &c.FilterReason, &breakdown); err != nil {
			return nil, fmt.Errorf("storage: scan candidate: %w", err)
		}
		if err := json.Unmarshal(breakdown, &c.Breakdown); err != nil {
			return nil, fmt.Errorf("storage: unmarshal breakdown: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConstraintResults returns the constraint audit rows for a decision.
func (db *DB) GetConstraintResults(ctx context.Context, decisionID string) ([]model.ConstraintResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT decision_id, constraint_name, passed, reason
		 FROM constraint_results WHERE decision_id = $1 ORDER BY constraint_name`,
		decisionID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get constraint results: %w", err)
	}
	defer rows.Close()

	var out []model.ConstraintResult
	for rows.Next() {
		var cr model.ConstraintResult
		if err := rows.Scan(&cr.DecisionID, &cr.ConstraintName, &cr.Passed, &cr.Reason); err != nil {
			return nil, fmt.Errorf("storage: scan constraint result: %w", err)
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

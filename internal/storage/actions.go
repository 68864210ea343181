package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/rota/internal/model"
)

// CreateExecutedAction persists the execution record for a decision. The
// unique key on decision_id guarantees at most one action per decision:
// the losing writer of a concurrent race gets ErrDuplicate and reads the
// winner's row back.
func (db *DB) CreateExecutedAction(ctx context.Context, a model.ExecutedAction) (model.ExecutedAction, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	backups, err := json.Marshal(a.BackupHumanIDs)
	if err != nil {
		return model.ExecutedAction{}, fmt.Errorf("storage: marshal action backups: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO executed_actions
		   (id, decision_id, external_ticket_key, external_ticket_id,
		    assigned_human_id, backup_human_ids, fallback_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.DecisionID, a.ExternalTicketKey, a.ExternalTicketID,
		a.AssignedHumanID, backups, a.FallbackMessage, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ExecutedAction{}, ErrDuplicate
		}
		return model.ExecutedAction{}, fmt.Errorf("storage: create executed action: %w", err)
	}
	return a, nil
}

// GetExecutedActionByDecision retrieves the action for a decision.
func (db *DB) GetExecutedActionByDecision(ctx context.Context, decisionID string) (model.ExecutedAction, error) {
	var (
		a       model.ExecutedAction
		backups []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, decision_id, external_ticket_key, external_ticket_id,
		        assigned_human_id, backup_human_ids, fallback_message, created_at
		 FROM executed_actions WHERE decision_id = $1`, decisionID,
	).Scan(&a.ID, &a.DecisionID, &a.ExternalTicketKey, &a.ExternalTicketID,
		&a.AssignedHumanID, &backups, &a.FallbackMessage, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.ExecutedAction{}, ErrNotFound
		}
		return model.ExecutedAction{}, fmt.Errorf("storage: get executed action: %w", err)
	}
	if err := json.Unmarshal(backups, &a.BackupHumanIDs); err != nil {
		return model.ExecutedAction{}, fmt.Errorf("storage: unmarshal action backups: %w", err)
	}
	if a.BackupHumanIDs == nil {
		a.BackupHumanIDs = []string{}
	}
	return a, nil
}

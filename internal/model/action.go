package model

import (
	"fmt"
	"strings"
	"time"
)

// ExecutedAction records the outcome of one execute attempt for a decision.
// Exactly one of ExternalTicketKey and FallbackMessage is set: either the
// tracker ticket was created, or the fully rendered text was persisted so
// the forward path is never lost.
type ExecutedAction struct {
	ID                string    `json:"id"`
	DecisionID        string    `json:"decision_id"`
	ExternalTicketKey *string   `json:"external_ticket_key,omitempty"`
	ExternalTicketID  *string   `json:"external_ticket_id,omitempty"`
	AssignedHumanID   string    `json:"assigned_human_id"`
	BackupHumanIDs    []string  `json:"backup_human_ids"`
	FallbackMessage   *string   `json:"fallback_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Fallback reports whether ticket creation failed and the rendered text was
// persisted instead.
func (a ExecutedAction) Fallback() bool {
	return a.FallbackMessage != nil
}

// ExecuteRequest is the request body for POST /v1/execute. Evidence is
// optional; execution proceeds with an empty bullet list when the explain
// step failed.
type ExecuteRequest struct {
	DecisionID     string           `json:"decision_id"`
	WorkItemID     string           `json:"work_item_id"`
	PrimaryHumanID string           `json:"primary_human_id"`
	BackupHumanIDs []string         `json:"backup_human_ids,omitempty"`
	Evidence       []EvidenceBullet `json:"evidence,omitempty"`
}

func (r ExecuteRequest) Validate() error {
	if strings.TrimSpace(r.DecisionID) == "" {
		return fmt.Errorf("decision_id is required")
	}
	if strings.TrimSpace(r.WorkItemID) == "" {
		return fmt.Errorf("work_item_id is required")
	}
	if strings.TrimSpace(r.PrimaryHumanID) == "" {
		return fmt.Errorf("primary_human_id is required")
	}
	return nil
}

// ExecuteResponse wraps the persisted action with the success/fallback
// verdict the caller acts on.
type ExecuteResponse struct {
	Action   ExecutedAction `json:"action"`
	Success  bool           `json:"success"`
	Fallback bool           `json:"fallback"`
	Existing bool           `json:"existing"`
}

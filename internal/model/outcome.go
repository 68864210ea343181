package model

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeType classifies an observed downstream event.
type OutcomeType string

const (
	OutcomeResolved   OutcomeType = "resolved"
	OutcomeReassigned OutcomeType = "reassigned"
	OutcomeEscalated  OutcomeType = "escalated"
)

// ValidOutcomeType reports whether t is a known outcome type.
func ValidOutcomeType(t OutcomeType) bool {
	switch t {
	case OutcomeResolved, OutcomeReassigned, OutcomeEscalated:
		return true
	}
	return false
}

// Outcome is an observed event feeding the learning loop. EventID is the
// global dedupe key: the learner applies each event at most once.
type Outcome struct {
	EventID       string      `json:"event_id"`
	WorkItemID    string      `json:"work_item_id"`
	DecisionID    *string     `json:"decision_id,omitempty"`
	Type          OutcomeType `json:"type"`
	ActorID       string      `json:"actor_id"`
	NewAssigneeID *string     `json:"new_assignee_id,omitempty"`
	Service       string      `json:"service"`
	OccurredAt    time.Time   `json:"timestamp"`
	RecordedAt    time.Time   `json:"recorded_at,omitempty"`
}

// Validate checks required fields and the closed type set. OccurredAt
// defaults to now upstream when zero.
func (o Outcome) Validate() error {
	if strings.TrimSpace(o.EventID) == "" {
		return fmt.Errorf("event_id is required")
	}
	if strings.TrimSpace(o.WorkItemID) == "" {
		return fmt.Errorf("work_item_id is required")
	}
	if !ValidOutcomeType(o.Type) {
		return fmt.Errorf("type must be one of resolved, reassigned, escalated (got %q)", o.Type)
	}
	if strings.TrimSpace(o.ActorID) == "" {
		return fmt.Errorf("actor_id is required")
	}
	if strings.TrimSpace(o.Service) == "" {
		return fmt.Errorf("service is required")
	}
	return nil
}

// ProcessOutcomeResult reports what the learner did with an event.
type ProcessOutcomeResult struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
	Applied   bool   `json:"applied"`
}

// SyncClosedRequest is the request body for POST /v1/sync/closed.
type SyncClosedRequest struct {
	DaysBack int     `json:"days_back"`
	Project  *string `json:"project,omitempty"`
}

// SyncClosedResult summarizes one historical backfill run.
type SyncClosedResult struct {
	Fetched int `json:"fetched"`
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

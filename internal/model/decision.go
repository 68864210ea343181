package model

import (
	"time"
)

// Score breakdown component names. Stored as the keys of the
// decision_candidates.score_breakdown JSON object.
const (
	BreakdownFitScore         = "fit_score"
	BreakdownSeverityMatch    = "severity_match"
	BreakdownCapacity         = "capacity"
	BreakdownVectorSimilarity = "vector_similarity"
	BreakdownFinalScore       = "final_score"
)

// ScoreBreakdown maps component names to their values. Filtered candidates
// carry an empty breakdown.
type ScoreBreakdown map[string]float64

// Decision records the selection of a primary responder and up to two
// ordered backups for one work item. One decision per work item, ever.
type Decision struct {
	ID             string    `json:"id"`
	WorkItemID     string    `json:"work_item_id"`
	PrimaryHumanID string    `json:"primary_human_id"`
	BackupHumanIDs []string  `json:"backup_human_ids"`
	Confidence     float64   `json:"confidence"`
	ContentHash    string    `json:"content_hash,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DecisionCandidate is the audit row for one considered human. Survivors
// carry a populated breakdown and dense ranks starting at 1; filtered
// candidates follow with score 0 and a filter reason.
type DecisionCandidate struct {
	DecisionID   string         `json:"decision_id"`
	HumanID      string         `json:"human_id"`
	Score        float64        `json:"score"`
	Rank         int            `json:"rank"`
	Filtered     bool           `json:"filtered"`
	FilterReason *string        `json:"filter_reason,omitempty"`
	Breakdown    ScoreBreakdown `json:"score_breakdown"`
}

// Constraint names recorded per decision.
const (
	ConstraintAvailability = "availability"
	ConstraintCapacity     = "capacity"
)

// ConstraintResult is the audit row for one constraint evaluated across the
// candidate set.
type ConstraintResult struct {
	DecisionID     string  `json:"decision_id"`
	ConstraintName string  `json:"constraint_name"`
	Passed         bool    `json:"passed"`
	Reason         *string `json:"reason,omitempty"`
}

// DecideRequest is the request body for POST /v1/decide.
type DecideRequest struct {
	WorkItemID string `json:"work_item_id"`
}

// DecideResponse is the wire shape returned by POST /v1/decide and
// GET /v1/decisions/{work_item_id}.
type DecideResponse struct {
	Decision Decision `json:"decision"`
	Existing bool     `json:"existing"`
}

// DecisionAudit is the full audit trail for one decision: every considered
// candidate with its breakdown, every constraint verdict, and the
// tamper-evidence over the stored rows.
type DecisionAudit struct {
	Decision    Decision            `json:"decision"`
	Candidates  []DecisionCandidate `json:"candidates"`
	Constraints []ConstraintResult  `json:"constraints"`
	HashOK      bool                `json:"hash_ok"`
	MerkleRoot  string              `json:"merkle_root,omitempty"`
}

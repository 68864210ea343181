package model

import (
	"fmt"
	"strings"
	"time"
)

// Human is a responder identity. The tracker account id links the human to
// the external ticketing system; when both are set the mapping is one-to-one.
type Human struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"display_name"`
	TrackerAccountID *string   `json:"tracker_account_id,omitempty"`
	Active           bool      `json:"active"`
	Coords           *Coords3D `json:"coords,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// CreateHumanRequest is the request body for POST /v1/humans.
type CreateHumanRequest struct {
	ID               string  `json:"id"`
	DisplayName      string  `json:"display_name"`
	TrackerAccountID *string `json:"tracker_account_id,omitempty"`
	Active           *bool   `json:"active,omitempty"`
}

func (r CreateHumanRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(r.DisplayName) == "" {
		return fmt.Errorf("display_name is required")
	}
	return nil
}

// HumanServiceStats is the learned fit of one human for one service.
// Updated only by the learner; fit_score is clamped to [0,1] on every write.
type HumanServiceStats struct {
	HumanID        string     `json:"human_id"`
	Service        string     `json:"service"`
	FitScore       float64    `json:"fit_score"`
	ResolvesCount  int        `json:"resolves_count"`
	TransfersCount int        `json:"transfers_count"`
	LastResolvedAt *time.Time `json:"last_resolved_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HumanLoad holds short-window load signals for one human.
type HumanLoad struct {
	HumanID     string    `json:"human_id"`
	Pages7d     int       `json:"pages_7d"`
	ActiveItems int       `json:"active_items"`
	LastUpdated time.Time `json:"last_updated"`
}

// CandidateProfile is the wire shape the learner serves to the decision
// engine: stored stats joined with load, tracker workload, and severity
// history. Tracker-derived fields degrade to defaults when the tracker is
// unreachable (on_call false, max 21 / current 0 points, empty histogram).
type CandidateProfile struct {
	HumanID            string           `json:"human_id"`
	DisplayName        string           `json:"display_name"`
	Service            string           `json:"service"`
	FitScore           float64          `json:"fit_score"`
	ResolvesCount      int              `json:"resolves_count"`
	TransfersCount     int              `json:"transfers_count"`
	LastResolvedAt     *time.Time       `json:"last_resolved_at,omitempty"`
	Active             bool             `json:"active"`
	OnCall             bool             `json:"on_call"`
	Pages7d            int              `json:"pages_7d"`
	ActiveItems        int              `json:"active_items"`
	MaxStoryPoints     int              `json:"max_story_points"`
	CurrentStoryPoints int              `json:"current_story_points"`
	ResolvedBySeverity map[Severity]int `json:"resolved_by_severity,omitempty"`
}

// DefaultMaxStoryPoints is assumed for a human when the tracker cannot
// report a workload.
const DefaultMaxStoryPoints = 21

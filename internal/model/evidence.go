package model

// EvidenceType enumerates the closed set of evidence bullet tags.
type EvidenceType string

const (
	EvidenceRecentResolution EvidenceType = "recent_resolution"
	EvidenceOnCall           EvidenceType = "on_call"
	EvidenceLowLoad          EvidenceType = "low_load"
	EvidenceSimilarIncident  EvidenceType = "similar_incident"
	EvidenceFitScore         EvidenceType = "fit_score"
	EvidenceGeneral          EvidenceType = "general"
)

// ValidEvidenceType reports whether t is in the closed set.
func ValidEvidenceType(t EvidenceType) bool {
	switch t {
	case EvidenceRecentResolution, EvidenceOnCall, EvidenceLowLoad,
		EvidenceSimilarIncident, EvidenceFitScore, EvidenceGeneral:
		return true
	}
	return false
}

// EvidenceBullet is one grounded, time-bounded, sourced claim justifying a
// decision. Claims never reference data outside the candidate features that
// produced them.
type EvidenceBullet struct {
	Type       EvidenceType `json:"type"`
	Text       string       `json:"text"`
	TimeWindow string       `json:"time_window"`
	Source     string       `json:"source"`
}

// Evidence generator tags.
const (
	GeneratedByLLM      = "llm"
	GeneratedByFallback = "fallback"
)

// EvidenceBundle is the explain output for one decision: 3 to 7 bullets and
// a why-not-next-best sentence grounded in numeric comparisons.
type EvidenceBundle struct {
	DecisionID     string           `json:"decision_id"`
	WorkItemID     string           `json:"work_item_id"`
	Bullets        []EvidenceBullet `json:"bullets"`
	WhyNotNextBest string           `json:"why_not_next_best"`
	GeneratedBy    string           `json:"generated_by"`
}

// CandidateFeatures is the feature vector the explain layer is allowed to
// reference: everything known about one candidate at decision time.
type CandidateFeatures struct {
	HumanID              string         `json:"human_id"`
	DisplayName          string         `json:"display_name"`
	FitScore             float64        `json:"fit_score"`
	ResolvesCount        int            `json:"resolves_count"`
	TransfersCount       int            `json:"transfers_count"`
	LastResolvedAt       *string        `json:"last_resolved_at,omitempty"`
	OnCall               bool           `json:"on_call"`
	Pages7d              int            `json:"pages_7d"`
	ActiveItems          int            `json:"active_items"`
	SimilarIncidentScore *float64       `json:"similar_incident_score,omitempty"`
	Breakdown            ScoreBreakdown `json:"score_breakdown,omitempty"`
}

// ExplainRequest is the request body for POST /v1/explain.
type ExplainRequest struct {
	DecisionID  string              `json:"decision_id"`
	WorkItemID  string              `json:"work_item_id"`
	Service     string              `json:"service"`
	Severity    Severity            `json:"severity"`
	Description string              `json:"description"`
	Primary     CandidateFeatures   `json:"primary"`
	Backups     []CandidateFeatures `json:"backups,omitempty"`
	Constraints []ConstraintResult  `json:"constraints,omitempty"`
}

package rota

import "time"

// Decision is the public representation of a routing decision.
// It is a curated view of internal/model.Decision for use in extension
// interfaces. No internal package imports — safe to use from outside the
// module.
type Decision struct {
	ID             string
	WorkItemID     string
	PrimaryHumanID string
	BackupHumanIDs []string
	Confidence     float64
	CreatedAt      time.Time
}

// WorkItem is the public representation of a routed work item.
type WorkItem struct {
	ID                string
	Service           string
	Severity          string
	Type              string
	Description       string
	OriginSystem      string
	ExternalTicketKey *string
	CreatedAt         time.Time
}

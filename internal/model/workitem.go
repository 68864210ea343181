package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Severity levels, most urgent first.
type Severity string

const (
	Sev1 Severity = "sev1"
	Sev2 Severity = "sev2"
	Sev3 Severity = "sev3"
	Sev4 Severity = "sev4"
)

// ValidSeverity reports whether s is one of the four known levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case Sev1, Sev2, Sev3, Sev4:
		return true
	}
	return false
}

// WorkItemType distinguishes alert-born incidents from planned tickets.
type WorkItemType string

const (
	WorkItemIncident WorkItemType = "incident"
	WorkItemTicket   WorkItemType = "ticket"
)

// ValidWorkItemType reports whether t is a known work item type.
func ValidWorkItemType(t WorkItemType) bool {
	return t == WorkItemIncident || t == WorkItemTicket
}

// Field length limits for caller-controlled WorkItem fields. These keep a
// single oversized payload from exhausting the embedding pipeline or filling
// Postgres TEXT columns with garbage.
const (
	MaxDescriptionLen = 32 * 1024 // 32 KB
	MaxRawLogLen      = 256 * 1024
	MaxServiceLen     = 100
	MaxStoryPoints    = 21
)

// WorkItem is the unit of work to be routed. Created by ingest; the external
// ticket key is written once by the executor; rows are never deleted.
type WorkItem struct {
	ID                string           `json:"id"`
	Type              WorkItemType     `json:"type"`
	Service           string           `json:"service"`
	Severity          Severity         `json:"severity"`
	Description       string           `json:"description"`
	RawLog            *string          `json:"raw_log,omitempty"`
	StoryPoints       *int             `json:"story_points,omitempty"`
	Impact            *string          `json:"impact,omitempty"`
	Embedding         *pgvector.Vector `json:"-"`
	Coords            *Coords3D        `json:"embedding_3d,omitempty"`
	ExternalTicketKey *string          `json:"external_ticket_key,omitempty"`
	OriginSystem      string           `json:"origin_system"`
	CreatorID         *string          `json:"creator_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Coords3D is a projected embedding used for visualization. Either all three
// coordinates are stored or none are.
type Coords3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// CreateWorkItemRequest is the request body for POST /v1/workitems.
type CreateWorkItemRequest struct {
	Type         WorkItemType `json:"type"`
	Service      string       `json:"service"`
	Severity     Severity     `json:"severity"`
	Description  string       `json:"description"`
	RawLog       *string      `json:"raw_log,omitempty"`
	StoryPoints  *int         `json:"story_points,omitempty"`
	Impact       *string      `json:"impact,omitempty"`
	OriginSystem string       `json:"origin_system,omitempty"`
	CreatorID    *string      `json:"creator_id,omitempty"`
}

// Validate checks the closed sets and field limits. The description may be
// empty when raw_log is present; normalization derives it.
func (r CreateWorkItemRequest) Validate() error {
	if r.Type == "" {
		r.Type = WorkItemIncident
	}
	if !ValidWorkItemType(r.Type) {
		return fmt.Errorf("type must be one of incident, ticket (got %q)", r.Type)
	}
	if strings.TrimSpace(r.Service) == "" {
		return fmt.Errorf("service is required")
	}
	if len(r.Service) > MaxServiceLen {
		return fmt.Errorf("service exceeds maximum length of %d characters", MaxServiceLen)
	}
	if !ValidSeverity(r.Severity) {
		return fmt.Errorf("severity must be one of sev1, sev2, sev3, sev4 (got %q)", r.Severity)
	}
	if strings.TrimSpace(r.Description) == "" && (r.RawLog == nil || strings.TrimSpace(*r.RawLog) == "") {
		return fmt.Errorf("description or raw_log is required")
	}
	if len(r.Description) > MaxDescriptionLen {
		return fmt.Errorf("description exceeds maximum length of %d bytes", MaxDescriptionLen)
	}
	if r.RawLog != nil && len(*r.RawLog) > MaxRawLogLen {
		return fmt.Errorf("raw_log exceeds maximum length of %d bytes", MaxRawLogLen)
	}
	if r.StoryPoints != nil && (*r.StoryPoints < 1 || *r.StoryPoints > MaxStoryPoints) {
		return fmt.Errorf("story_points must be between 1 and %d", MaxStoryPoints)
	}
	return nil
}

// WorkItemFilters are the query parameters for GET /v1/workitems.
type WorkItemFilters struct {
	Service  string
	Severity Severity
	Limit    int
	Offset   int
}

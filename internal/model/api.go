package model

import (
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeConflict              = "CONFLICT"
	ErrCodeConstraintExhausted   = "CONSTRAINT_EXHAUSTED"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	ErrCodeInternalError         = "INTERNAL_ERROR"
)

// HumanStats is the response for GET /v1/stats?human_id=. One row per
// service the human has stats in, plus the shared load view.
type HumanStats struct {
	HumanID  string              `json:"human_id"`
	Services []HumanServiceStats `json:"services"`
	Load     *HumanLoad          `json:"load,omitempty"`
	Totals   StatsTotals         `json:"totals"`
}

// StatsTotals aggregates counts across services.
type StatsTotals struct {
	Resolves  int     `json:"resolves"`
	Transfers int     `json:"transfers"`
	BestFit   float64 `json:"best_fit"`
}

// AlertWebhook is the inbound alerting payload accepted by
// POST /webhooks/incoming. The shape follows the common pager convention:
// an event wrapper around an incident with urgency and a service reference.
type AlertWebhook struct {
	Event    string        `json:"event"`
	Incident AlertIncident `json:"incident"`
}

// AlertIncident is the incident portion of an alerting webhook.
type AlertIncident struct {
	IncidentNumber int           `json:"incident_number"`
	Title          string        `json:"title"`
	Urgency        string        `json:"urgency"`
	Service        AlertService  `json:"service"`
	Details        *AlertDetails `json:"details,omitempty"`
}

// AlertService names the affected service in an alerting webhook.
type AlertService struct {
	Name string `json:"name"`
}

// AlertDetails carries the free-form body of an alerting webhook.
type AlertDetails struct {
	Body string `json:"body"`
}

// TrackerOutcomeWebhook is the payload accepted by POST /webhooks/tracker:
// an outcome event keyed by the external ticket rather than the work item.
type TrackerOutcomeWebhook struct {
	EventID       string      `json:"event_id"`
	IssueKey      string      `json:"issue_key"`
	Type          OutcomeType `json:"type"`
	ActorID       string      `json:"actor_id"`
	NewAssigneeID *string     `json:"new_assignee_id,omitempty"`
	OccurredAt    *time.Time  `json:"timestamp,omitempty"`
}

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	ServiceName string `json:"service"`
	Postgres    string `json:"postgres"`
	Index       string `json:"index,omitempty"`
	SpoolDepth  int    `json:"spool_depth,omitempty"`
	Uptime      int64  `json:"uptime_seconds"`
}

// RoutingHealth is the response for GET /v1/health/routing: aggregate
// decision quality signals with rule-based gaps.
type RoutingHealth struct {
	Decisions          int      `json:"decisions"`
	AvgConfidence      float64  `json:"avg_confidence"`
	LowConfidence      int      `json:"low_confidence"`
	VeryLowConfidence  int      `json:"very_low_confidence"`
	Executed           int      `json:"executed"`
	Fallbacks          int      `json:"fallbacks"`
	FallbackRate       float64  `json:"fallback_rate"`
	Outcomes7d         int      `json:"outcomes_7d"`
	PendingOutboxDepth int      `json:"pending_outbox_depth"`
	Gaps               []string `json:"gaps"`
	Status             string   `json:"status"`
}

// Routing health status values.
const (
	HealthStatusHealthy          = "healthy"
	HealthStatusNeedsAttention   = "needs_attention"
	HealthStatusInsufficientData = "insufficient_data"
)

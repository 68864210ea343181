package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/storage"
)

// VerifySignature checks an HMAC-SHA256 hex signature over the raw body.
// Constant-time; an empty secret disables verification.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.TrimPrefix(signature, "v1=")))
}

// alertServices maps alerting service names to platform services.
// ROTA_SERVICE_MAP_<NAME> overrides; unknown names fall through lowercased.
var alertServices = map[string]string{
	"api gateway":    "api",
	"frontend app":   "frontend",
	"backend":        "backend",
	"infrastructure": "infrastructure",
	"data pipeline":  "data",
	"mobile app":     "mobile",
}

// ServiceFromAlertName resolves an alerting service name to a platform
// service.
func ServiceFromAlertName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	envKey := "ROTA_SERVICE_MAP_" + strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(n))
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if s, ok := alertServices[n]; ok {
		return s
	}
	return n
}

// severityFromUrgency maps alert urgency to a severity level.
func severityFromUrgency(urgency string) model.Severity {
	switch strings.ToLower(urgency) {
	case "high":
		return model.Sev2
	default:
		return model.Sev3
	}
}

// HandleAlert converts an alerting webhook into the canonical work item path.
// Returns handled=false for event types other than incident creation; the
// handler answers 204 for those.
func (s *Service) HandleAlert(ctx context.Context, hook model.AlertWebhook) (model.WorkItem, bool, error) {
	switch hook.Event {
	case "incident.triggered", "incident.created":
	default:
		return model.WorkItem{}, false, nil
	}

	inc := hook.Incident
	description := strings.TrimSpace(inc.Title)
	if inc.Details != nil && strings.TrimSpace(inc.Details.Body) != "" {
		description = description + "\n\n" + strings.TrimSpace(inc.Details.Body)
	}

	item, err := s.CreateWorkItem(ctx, model.CreateWorkItemRequest{
		Type:         model.WorkItemIncident,
		Service:      ServiceFromAlertName(inc.Service.Name),
		Severity:     severityFromUrgency(inc.Urgency),
		Description:  description,
		OriginSystem: fmt.Sprintf("ALERT-%d", inc.IncidentNumber),
	})
	if err != nil {
		return model.WorkItem{}, true, err
	}
	return item, true, nil
}

// HandleTrackerOutcome resolves the tracker payload to a work item and enters
// the canonical record path. Unknown ticket keys are a 404.
func (s *Service) HandleTrackerOutcome(ctx context.Context, hook model.TrackerOutcomeWebhook) (model.Outcome, error) {
	item, err := s.db.GetWorkItemByTicketKey(ctx, hook.IssueKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Outcome{}, apperr.Newf(apperr.KindNotFound, "no work item for ticket %q", hook.IssueKey)
		}
		return model.Outcome{}, apperr.Wrap(apperr.KindInternal, "resolve ticket key", err)
	}

	occurredAt := time.Now().UTC()
	if hook.OccurredAt != nil {
		occurredAt = hook.OccurredAt.UTC()
	}

	return s.RecordOutcome(ctx, model.Outcome{
		EventID:       hook.EventID,
		WorkItemID:    item.ID,
		Type:          hook.Type,
		ActorID:       hook.ActorID,
		NewAssigneeID: hook.NewAssigneeID,
		Service:       item.Service,
		OccurredAt:    occurredAt,
	})
}

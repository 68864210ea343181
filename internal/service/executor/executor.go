// Package executor turns a routing decision into a tracker ticket. Ticket
// creation goes through a circuit breaker and a bounded retry loop; when the
// tracker stays down the fully rendered ticket text is persisted as a
// fallback action so the assignment is never lost.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/storage"
	"github.com/ashita-ai/rota/internal/telemetry"
	"github.com/ashita-ai/rota/internal/tracker"
)

const breakerName = "tracker"

// Service executes decisions against the tracker.
type Service struct {
	db      *storage.DB
	tracker tracker.Client
	breaker *gobreaker.CircuitBreaker
	retry   RetryPolicy
	logger  *slog.Logger

	executed metric.Int64Counter
	duration metric.Float64Histogram
}

// New constructs the executor. The breaker opens after five consecutive
// tracker failures and half-opens after 30 seconds.
func New(db *storage.DB, tr tracker.Client, logger *slog.Logger) *Service {
	meter := telemetry.Meter("rota/executor")
	executed, _ := meter.Int64Counter("rota.execute.total",
		metric.WithDescription("Executed actions by result"))
	duration, _ := meter.Float64Histogram("rota.execute.duration",
		metric.WithDescription("Execute latency in seconds"),
		metric.WithUnit("s"))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    breakerName,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Service{
		db:       db,
		tracker:  tr,
		breaker:  breaker,
		retry:    DefaultRetryPolicy(),
		logger:   logger,
		executed: executed,
		duration: duration,
	}
}

// Execute creates the tracker ticket for a decision, or persists a fallback
// action when creation fails. Idempotent per decision: a repeat call returns
// the already-persisted action with Existing set.
func (s *Service) Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecuteResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return model.ExecuteResponse{}, apperr.Wrap(apperr.KindInvalidInput, "invalid execute request", err)
	}

	if existing, err := s.db.GetExecutedActionByDecision(ctx, req.DecisionID); err == nil {
		s.count(ctx, "existing")
		return responseFor(existing, true), nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.ExecuteResponse{}, apperr.Wrap(apperr.KindInternal, "load executed action", err)
	}

	item, err := s.db.GetWorkItem(ctx, req.WorkItemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ExecuteResponse{}, apperr.Newf(apperr.KindNotFound, "work item %q not found", req.WorkItemID)
		}
		return model.ExecuteResponse{}, apperr.Wrap(apperr.KindInternal, "load work item", err)
	}

	primary, err := s.db.GetHuman(ctx, req.PrimaryHumanID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ExecuteResponse{}, apperr.Newf(apperr.KindNotFound, "human %q not found", req.PrimaryHumanID)
		}
		return model.ExecuteResponse{}, apperr.Wrap(apperr.KindInternal, "load primary human", err)
	}
	if primary.TrackerAccountID == nil || *primary.TrackerAccountID == "" {
		return model.ExecuteResponse{}, apperr.Newf(apperr.KindInvalidInput,
			"human %q has no tracker account id; cannot assign ticket", primary.ID)
	}

	body := Render(item, primary.DisplayName, s.backupNames(ctx, req.BackupHumanIDs), req.Evidence)

	issue := tracker.CreateIssueRequest{
		Project:           tracker.ProjectForService(item.Service),
		Summary:           Summary(item.Description),
		Description:       body,
		IssueType:         issueTypeFor(item.Type),
		Priority:          tracker.PriorityForSeverity(string(item.Severity)),
		AssigneeAccountID: *primary.TrackerAccountID,
		StoryPoints:       item.StoryPoints,
	}

	created, createErr := s.createWithRetry(ctx, issue)

	action := model.ExecutedAction{
		ID:              model.NewActionID(),
		DecisionID:      req.DecisionID,
		AssignedHumanID: req.PrimaryHumanID,
		BackupHumanIDs:  backupsOrEmpty(req.BackupHumanIDs),
		CreatedAt:       time.Now().UTC(),
	}
	if createErr == nil {
		action.ExternalTicketKey = &created.Key
		action.ExternalTicketID = &created.ID
	} else {
		action.FallbackMessage = &body
	}

	stored, err := s.db.CreateExecutedAction(ctx, action)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			existing, getErr := s.db.GetExecutedActionByDecision(ctx, req.DecisionID)
			if getErr != nil {
				return model.ExecuteResponse{}, apperr.Wrap(apperr.KindInternal, "read back executed action", getErr)
			}
			s.count(ctx, "existing")
			return responseFor(existing, true), nil
		}
		return model.ExecuteResponse{}, apperr.Wrap(apperr.KindInternal, "persist executed action", err)
	}

	if createErr == nil {
		if err := s.db.SetExternalTicketKey(ctx, item.ID, created.Key); err != nil {
			s.logger.Warn("set external ticket key failed",
				"work_item_id", item.ID, "ticket_key", created.Key, "error", err)
		}
		s.count(ctx, "created")
		s.logger.Info("ticket created",
			"decision_id", req.DecisionID,
			"work_item_id", item.ID,
			"ticket_key", created.Key,
			"assignee", primary.ID)
	} else {
		s.count(ctx, "fallback")
		s.logger.Warn("ticket creation failed, fallback action persisted",
			"decision_id", req.DecisionID,
			"work_item_id", item.ID,
			"error", createErr)
	}

	s.duration.Record(ctx, time.Since(start).Seconds())
	return responseFor(stored, false), nil
}

// GetAction retrieves the executed action for a decision.
func (s *Service) GetAction(ctx context.Context, decisionID string) (model.ExecutedAction, error) {
	a, err := s.db.GetExecutedActionByDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ExecutedAction{}, apperr.Newf(apperr.KindNotFound, "no executed action for decision %q", decisionID)
		}
		return model.ExecutedAction{}, apperr.Wrap(apperr.KindInternal, "get executed action", err)
	}
	return a, nil
}

// createWithRetry drives CreateIssue through the breaker and the retry
// policy. An open breaker or a permanent tracker status ends the loop early.
func (s *Service) createWithRetry(ctx context.Context, issue tracker.CreateIssueRequest) (tracker.CreatedIssue, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		if delay := s.retry.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return tracker.CreatedIssue{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := s.breaker.Execute(func() (interface{}, error) {
			return s.tracker.CreateIssue(ctx, issue)
		})
		if err == nil {
			return out.(tracker.CreatedIssue), nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.Warn("circuit breaker open, skipping tracker", "attempt", attempt)
			return tracker.CreatedIssue{}, err
		}
		if !Retryable(err) {
			return tracker.CreatedIssue{}, err
		}
		s.logger.Warn("create issue attempt failed",
			"attempt", attempt, "max_attempts", s.retry.MaxAttempts, "error", err)
	}
	return tracker.CreatedIssue{}, lastErr
}

// backupNames resolves display names for the ticket body. A lookup failure
// falls back to the raw id; execution never blocks on backup metadata.
func (s *Service) backupNames(ctx context.Context, ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		h, err := s.db.GetHuman(ctx, id)
		if err != nil {
			names = append(names, id)
			continue
		}
		names = append(names, h.DisplayName)
	}
	return names
}

func (s *Service) count(ctx context.Context, result string) {
	s.executed.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func issueTypeFor(t model.WorkItemType) string {
	if t == model.WorkItemTicket {
		return "Task"
	}
	return "Incident"
}

func backupsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func responseFor(a model.ExecutedAction, existing bool) model.ExecuteResponse {
	return model.ExecuteResponse{
		Action:   a,
		Success:  !a.Fallback(),
		Fallback: a.Fallback(),
		Existing: existing,
	}
}

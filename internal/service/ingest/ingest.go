// Package ingest is the front door of the forward path: it turns inbound
// events into durable work items with embeddings and 3-D projections, fires
// the best-effort decide trigger, and is the single entry point for outcome
// events returning from the tracker.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/projection"
	"github.com/ashita-ai/rota/internal/service/embedding"
	"github.com/ashita-ai/rota/internal/storage"
	"github.com/ashita-ai/rota/internal/telemetry"
)

// decideTimeout bounds the post-commit decide trigger.
const decideTimeout = 10 * time.Second

// OutcomeSink receives recorded outcomes for delivery to the learner. The
// relay implements it with a durable spool; the all-in-one topology wires the
// learner directly.
type OutcomeSink interface {
	Enqueue(ctx context.Context, o model.Outcome) error
}

// DecideFunc triggers a routing decision for a committed work item.
type DecideFunc func(ctx context.Context, workItemID string) error

// Service handles work item creation and outcome recording.
type Service struct {
	db         *storage.DB
	embedder   embedding.Provider
	projector  *projection.Projector
	normalizer *Normalizer
	sink       OutcomeSink
	decide     DecideFunc
	logger     *slog.Logger

	itemsCreated     metric.Int64Counter
	outcomesRecorded metric.Int64Counter
}

// New constructs the ingest service. sink and decide may be nil; outcome
// forwarding and the decide trigger are then skipped with a warning.
func New(db *storage.DB, embedder embedding.Provider, projector *projection.Projector,
	normalizer *Normalizer, sink OutcomeSink, decide DecideFunc, logger *slog.Logger) *Service {

	meter := telemetry.Meter("rota/ingest")
	itemsCreated, _ := meter.Int64Counter("rota.ingest.workitems",
		metric.WithDescription("Work items created"))
	outcomesRecorded, _ := meter.Int64Counter("rota.ingest.outcomes",
		metric.WithDescription("Outcome events recorded"))

	return &Service{
		db:               db,
		embedder:         embedder,
		projector:        projector,
		normalizer:       normalizer,
		sink:             sink,
		decide:           decide,
		logger:           logger,
		itemsCreated:     itemsCreated,
		outcomesRecorded: outcomesRecorded,
	}
}

// CreateWorkItem normalizes, embeds, projects, and persists a work item,
// then fires the decide trigger. The row is committed before the trigger;
// embedding and projection failures degrade rather than fail the create.
func (s *Service) CreateWorkItem(ctx context.Context, req model.CreateWorkItemRequest) (model.WorkItem, error) {
	if req.Type == "" {
		req.Type = model.WorkItemIncident
	}
	if err := req.Validate(); err != nil {
		return model.WorkItem{}, apperr.Wrap(apperr.KindInvalidInput, "invalid work item", err)
	}

	description := s.normalizer.Normalize(ctx, req.Description, req.RawLog)
	if description == "" {
		return model.WorkItem{}, apperr.New(apperr.KindInvalidInput, "description is empty after normalization")
	}

	w := model.WorkItem{
		ID:           model.NewWorkItemID(time.Now()),
		Type:         req.Type,
		Service:      req.Service,
		Severity:     req.Severity,
		Description:  description,
		RawLog:       req.RawLog,
		StoryPoints:  req.StoryPoints,
		Impact:       req.Impact,
		OriginSystem: req.OriginSystem,
		CreatorID:    req.CreatorID,
		CreatedAt:    time.Now().UTC(),
	}
	if w.OriginSystem == "" {
		w.OriginSystem = "api"
	}

	if vec, err := s.embedder.Embed(ctx, description); err != nil {
		s.logger.Warn("embedding failed, work item stored without vector",
			"service", w.Service, "error", err)
	} else {
		w.Embedding = &vec
		if coords, err := s.projector.Project(ctx, vec.Slice()); err != nil {
			s.logger.Warn("projection failed", "error", err)
		} else {
			w.Coords = &coords
		}
	}

	stored, err := s.db.CreateWorkItem(ctx, w)
	if err != nil {
		return model.WorkItem{}, apperr.Wrap(apperr.KindInternal, "persist work item", err)
	}

	s.itemsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", stored.Service),
		attribute.String("severity", string(stored.Severity)),
	))
	s.logger.Info("work item created",
		"work_item_id", stored.ID,
		"service", stored.Service,
		"severity", stored.Severity,
		"embedded", stored.Embedding != nil)

	s.triggerDecide(ctx, stored.ID)
	return stored, nil
}

// triggerDecide fires the decision asynchronously. Best-effort: a failure
// leaves the work item persisted and routable later.
func (s *Service) triggerDecide(ctx context.Context, workItemID string) {
	if s.decide == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, decideTimeout)
		defer cancel()
		if err := s.decide(ctx, workItemID); err != nil {
			s.logger.Warn("decide trigger failed, work item remains routable",
				"work_item_id", workItemID, "error", err)
		}
	}()
}

// GetWorkItem retrieves a work item by id.
func (s *Service) GetWorkItem(ctx context.Context, id string) (model.WorkItem, error) {
	w, err := s.db.GetWorkItem(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.WorkItem{}, apperr.Newf(apperr.KindNotFound, "work item %q not found", id)
		}
		return model.WorkItem{}, apperr.Wrap(apperr.KindInternal, "get work item", err)
	}
	return w, nil
}

// ListWorkItems returns work items matching the filters, newest first.
func (s *Service) ListWorkItems(ctx context.Context, f model.WorkItemFilters) ([]model.WorkItem, error) {
	items, err := s.db.ListWorkItems(ctx, f)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list work items", err)
	}
	if items == nil {
		items = []model.WorkItem{}
	}
	return items, nil
}

// RecordOutcome persists the audit row and hands the event to the outcome
// sink. Idempotent on event_id: a replay records nothing and still returns
// the event.
func (s *Service) RecordOutcome(ctx context.Context, o model.Outcome) (model.Outcome, error) {
	if err := o.Validate(); err != nil {
		return model.Outcome{}, apperr.Wrap(apperr.KindInvalidInput, "invalid outcome", err)
	}
	if o.OccurredAt.IsZero() {
		o.OccurredAt = time.Now().UTC()
	}

	recorded, fresh, err := s.db.RecordOutcomeAudit(ctx, o)
	if err != nil {
		return model.Outcome{}, apperr.Wrap(apperr.KindInternal, "record outcome", err)
	}

	if fresh && s.sink != nil {
		if err := s.sink.Enqueue(ctx, recorded); err != nil {
			// Audit row is durable; the relay redelivers from it on restart.
			s.logger.Warn("outcome sink enqueue failed",
				"event_id", recorded.EventID, "error", err)
		}
	}

	s.outcomesRecorded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(recorded.Type)),
		attribute.Bool("duplicate", !fresh),
	))
	s.logger.Info("outcome recorded",
		"event_id", recorded.EventID,
		"work_item_id", recorded.WorkItemID,
		"type", recorded.Type,
		"duplicate", !fresh)
	return recorded, nil
}

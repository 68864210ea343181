// Package learner maintains per-(human, service) capability state: fit
// stats, capability embeddings, and the responder registry. It consumes
// outcome events, serves candidate profiles to the decision engine, and
// backfills history from the tracker.
//
// Tracker-derived profile fields degrade to safe defaults when the tracker is
// unreachable; a tracker outage must never take profile reads down with it.
package learner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/projection"
	"github.com/ashita-ai/rota/internal/service/embedding"
	"github.com/ashita-ai/rota/internal/storage"
	"github.com/ashita-ai/rota/internal/telemetry"
	"github.com/ashita-ai/rota/internal/tracker"
)

const (
	// profileWindow bounds how stale a stats row may be and still surface
	// as a candidate profile.
	profileWindow = 90 * 24 * time.Hour

	// severityHistoryDays bounds the tracker search behind
	// resolved_by_severity.
	severityHistoryDays = 90

	// enrichConcurrency caps parallel tracker calls during profile reads.
	enrichConcurrency = 4

	syncPageSize = 100
)

// Service encapsulates learner business logic shared by HTTP and MCP
// handlers.
type Service struct {
	db        *storage.DB
	tracker   tracker.Client
	embedder  embedding.Provider
	projector *projection.Projector
	logger    *slog.Logger

	outcomesProcessed metric.Int64Counter
	syncDuration      metric.Float64Histogram
}

// New creates a learner Service. trackerClient may be nil when no tracker is
// configured; profile enrichment and sync then degrade to stored state only.
func New(db *storage.DB, trackerClient tracker.Client, embedder embedding.Provider, projector *projection.Projector, logger *slog.Logger) *Service {
	meter := telemetry.Meter("rota/learner")
	outcomes, _ := meter.Int64Counter("rota.learner.outcomes",
		metric.WithDescription("Outcome events processed, by type and applied flag"),
	)
	syncDur, _ := meter.Float64Histogram("rota.learner.sync.duration",
		metric.WithDescription("Time to run a historical sync (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		db:                db,
		tracker:           trackerClient,
		embedder:          embedder,
		projector:         projector,
		logger:            logger,
		outcomesProcessed: outcomes,
		syncDuration:      syncDur,
	}
}

// GetProfiles returns candidate profiles for one service: stored stats with
// the fit score recomputed under time decay, enriched with live tracker
// signals where available. Ordered by recomputed fit descending.
func (s *Service) GetProfiles(ctx context.Context, service string) ([]model.CandidateProfile, error) {
	rows, err := s.db.GetServiceProfiles(ctx, service, profileWindow)
	if err != nil {
		return nil, fmt.Errorf("learner: load profiles: %w", err)
	}

	now := time.Now()
	profiles := make([]model.CandidateProfile, len(rows))
	for i, r := range rows {
		profiles[i] = model.CandidateProfile{
			HumanID:        r.HumanID,
			DisplayName:    r.DisplayName,
			Service:        service,
			FitScore:       ComputeFitScore(r.ResolvesCount, r.TransfersCount, r.LastResolvedAt, now),
			ResolvesCount:  r.ResolvesCount,
			TransfersCount: r.TransfersCount,
			LastResolvedAt: r.LastResolvedAt,
			Active:         r.Active,
			Pages7d:        r.Pages7d,
			ActiveItems:    r.ActiveItems,
			MaxStoryPoints: model.DefaultMaxStoryPoints,
		}
	}

	s.enrichFromTracker(ctx, service, rows, profiles)

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].FitScore != profiles[j].FitScore {
			return profiles[i].FitScore > profiles[j].FitScore
		}
		return profiles[i].HumanID < profiles[j].HumanID
	})
	return profiles, nil
}

// enrichFromTracker fills on_call, workload, and resolved_by_severity from
// the tracker. Failures leave the defaults in place (on_call false, 21/0
// points, no histogram) and are logged, never surfaced.
func (s *Service) enrichFromTracker(ctx context.Context, service string, rows []storage.ProfileRow, profiles []model.CandidateProfile) {
	if s.tracker == nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i := range profiles {
		accountID := rows[i].HumanID
		if rows[i].TrackerAccountID != nil && *rows[i].TrackerAccountID != "" {
			accountID = *rows[i].TrackerAccountID
		}
		p := &profiles[i]
		g.Go(func() error {
			s.enrichProfile(gctx, service, accountID, p)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) enrichProfile(ctx context.Context, service, accountID string, p *model.CandidateProfile) {
	user, err := s.tracker.GetUser(ctx, accountID)
	if err != nil {
		s.logger.Debug("learner: tracker user lookup failed, using defaults",
			"human_id", p.HumanID, "account_id", accountID, "error", err)
	} else {
		p.OnCall = user.OnCall
		if user.MaxStoryPoints > 0 {
			p.MaxStoryPoints = user.MaxStoryPoints
		}
		p.CurrentStoryPoints = user.CurrentStoryPoints
	}

	q := tracker.Query{Expr: tracker.And(
		tracker.Eq("assignee", accountID),
		tracker.Eq("project", tracker.ProjectForService(service)),
		tracker.Eq("status", "Done"),
		tracker.WithinDays("resolved", severityHistoryDays),
	)}
	res, err := s.tracker.SearchIssues(ctx, q, tracker.Page{MaxResults: syncPageSize})
	if err != nil {
		s.logger.Debug("learner: tracker severity history failed, omitting",
			"human_id", p.HumanID, "account_id", accountID, "error", err)
		return
	}
	p.ResolvedBySeverity = severityHistogram(res.Issues)
}

// severityHistogram counts closed issues per severity, mapping tracker
// priority names back through the standard table.
func severityHistogram(issues []tracker.Issue) map[model.Severity]int {
	if len(issues) == 0 {
		return nil
	}
	hist := make(map[model.Severity]int)
	for _, is := range issues {
		sev := model.Severity(tracker.SeverityForPriority(is.Fields.Priority.Name))
		hist[sev]++
	}
	return hist
}

// GetStats returns all stats rows for one human plus load and totals.
func (s *Service) GetStats(ctx context.Context, humanID string) (model.HumanStats, error) {
	stats, load, err := s.db.GetHumanStats(ctx, humanID)
	if err != nil {
		return model.HumanStats{}, fmt.Errorf("learner: load stats: %w", err)
	}
	if len(stats) == 0 && load == nil {
		if _, err := s.db.GetHuman(ctx, humanID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return model.HumanStats{}, apperr.Newf(apperr.KindNotFound, "human %s not found", humanID)
			}
			return model.HumanStats{}, fmt.Errorf("learner: load human: %w", err)
		}
	}

	out := model.HumanStats{HumanID: humanID, Services: stats, Load: load}
	for _, row := range stats {
		out.Totals.Resolves += row.ResolvesCount
		out.Totals.Transfers += row.TransfersCount
		if row.FitScore > out.Totals.BestFit {
			out.Totals.BestFit = row.FitScore
		}
	}
	return out, nil
}

// ProcessOutcome applies one outcome event at most once. Replays of a seen
// event_id report Duplicate without touching state.
func (s *Service) ProcessOutcome(ctx context.Context, o model.Outcome) (model.ProcessOutcomeResult, error) {
	if err := o.Validate(); err != nil {
		return model.ProcessOutcomeResult{}, apperr.Wrap(apperr.KindInvalidInput, "learner: invalid outcome", err)
	}
	if o.OccurredAt.IsZero() {
		o.OccurredAt = time.Now()
	}

	var (
		applied bool
		err     error
	)
	switch o.Type {
	case model.OutcomeResolved:
		applied, err = s.db.ApplyResolvedOutcome(ctx, o)
		if err == nil && applied {
			s.refreshAfterResolve(ctx, o.ActorID, o.Service)
		}
	case model.OutcomeReassigned:
		fromID, toID := s.resolveReassignment(ctx, o)
		applied, err = s.db.ApplyReassignedOutcome(ctx, o, fromID, toID)
	case model.OutcomeEscalated:
		// Responsibility grows without moving: the actor takes both sides.
		applied, err = s.db.ApplyReassignedOutcome(ctx, o, o.ActorID, o.ActorID)
	}
	if err != nil {
		return model.ProcessOutcomeResult{EventID: o.EventID}, fmt.Errorf("learner: apply outcome %s: %w", o.EventID, err)
	}

	s.outcomesProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(o.Type)),
		attribute.Bool("applied", applied),
	))
	return model.ProcessOutcomeResult{
		EventID:   o.EventID,
		Applied:   applied,
		Duplicate: !applied,
	}, nil
}

// resolveReassignment determines the from/to pair for a reassigned event.
// The actor is the original assignee; when the event does not identify one
// (missing, or the actor is the new assignee reassigning to themselves), the
// decision for the work item names the original. With no decision either,
// only the new-assignee boost applies.
func (s *Service) resolveReassignment(ctx context.Context, o model.Outcome) (fromID, toID string) {
	if o.NewAssigneeID != nil {
		toID = *o.NewAssigneeID
	}
	fromID = o.ActorID
	if fromID != "" && fromID != toID {
		return fromID, toID
	}

	d, err := s.db.GetDecisionByWorkItem(ctx, o.WorkItemID)
	switch {
	case err == nil:
		fromID = d.PrimaryHumanID
	case errors.Is(err, storage.ErrNotFound):
		fromID = ""
	default:
		s.logger.Warn("learner: decision lookup for reassignment failed",
			"work_item_id", o.WorkItemID, "error", err)
		fromID = ""
	}
	return fromID, toID
}

// refreshAfterResolve rebuilds the capability centroid inline, best effort.
// The search index catches up through the outbox regardless.
func (s *Service) refreshAfterResolve(ctx context.Context, humanID, service string) {
	if err := s.RefreshCapability(ctx, humanID, service); err != nil {
		s.logger.Warn("learner: capability refresh failed",
			"human_id", humanID, "service", service, "error", err)
	}
}

// SyncClosed backfills resolved edges from the tracker's closed-issue
// history. Safe to re-run: existing edges are skipped and stats are bumped
// only for edges that were new.
func (s *Service) SyncClosed(ctx context.Context, req model.SyncClosedRequest) (model.SyncClosedResult, error) {
	if s.tracker == nil {
		return model.SyncClosedResult{}, apperr.New(apperr.KindDependencyUnavailable, "no tracker configured")
	}
	days := req.DaysBack
	if days <= 0 {
		days = severityHistoryDays
	}

	var projectExpr tracker.Expr
	if req.Project != nil && strings.TrimSpace(*req.Project) != "" {
		projectExpr = tracker.Eq("project", strings.TrimSpace(*req.Project))
	}
	q := tracker.Query{Expr: tracker.And(
		projectExpr,
		tracker.Eq("status", "Done"),
		tracker.WithinDays("resolved", days),
	)}

	start := time.Now()
	accounts := s.accountIndex(ctx)

	var result model.SyncClosedResult
	var records []storage.SyncRecord
	for startAt := 0; ; {
		page, err := s.tracker.SearchIssues(ctx, q, tracker.Page{StartAt: startAt, MaxResults: syncPageSize})
		if err != nil {
			return result, apperr.Wrap(apperr.KindDependencyUnavailable, "learner: tracker search", err)
		}
		result.Fetched += len(page.Issues)
		for _, issue := range page.Issues {
			rec, ok := syncRecordFromIssue(issue, accounts)
			if !ok {
				continue
			}
			records = append(records, rec)
		}
		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			break
		}
	}

	applied, err := s.db.ApplySyncBatch(ctx, records)
	if err != nil {
		return result, fmt.Errorf("learner: apply sync batch: %w", err)
	}
	result.Applied = int(applied)
	result.Skipped = result.Fetched - result.Applied

	s.syncDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s.logger.Info("learner: historical sync complete",
		"fetched", result.Fetched, "applied", result.Applied, "skipped", result.Skipped)
	return result, nil
}

// syncRecordFromIssue maps one closed issue to a sync record. Issues without
// an assignee or a parseable resolution date are skipped.
func syncRecordFromIssue(issue tracker.Issue, accounts map[string]string) (storage.SyncRecord, bool) {
	if issue.Fields.Assignee == nil || issue.Fields.Assignee.AccountID == "" || issue.Key == "" {
		return storage.SyncRecord{}, false
	}
	resolvedAt, err := tracker.ParseIssueTime(issue.Fields.Resolved)
	if err != nil {
		return storage.SyncRecord{}, false
	}

	humanID := accounts[issue.Fields.Assignee.AccountID]
	if humanID == "" {
		humanID = issue.Fields.Assignee.AccountID
	}
	return storage.SyncRecord{
		HumanID:    humanID,
		WorkItemID: issue.Key,
		Service:    tracker.ServiceForProject(issue.Fields.Project.Name),
		ResolvedAt: resolvedAt,
	}, true
}

// accountIndex maps tracker account ids to registered human ids. An empty
// map on failure means synced edges fall back to the account id as the
// human id.
func (s *Service) accountIndex(ctx context.Context) map[string]string {
	humans, err := s.db.ListHumans(ctx)
	if err != nil {
		s.logger.Warn("learner: list humans for sync failed", "error", err)
		return map[string]string{}
	}
	idx := make(map[string]string, len(humans))
	for _, h := range humans {
		if h.TrackerAccountID != nil && *h.TrackerAccountID != "" {
			idx[*h.TrackerAccountID] = h.ID
		}
	}
	return idx
}

// CreateHuman registers or updates a responder identity.
func (s *Service) CreateHuman(ctx context.Context, req model.CreateHumanRequest) (model.Human, error) {
	if err := req.Validate(); err != nil {
		return model.Human{}, apperr.Wrap(apperr.KindInvalidInput, "learner: invalid human", err)
	}
	h := model.Human{
		ID:               strings.TrimSpace(req.ID),
		DisplayName:      strings.TrimSpace(req.DisplayName),
		TrackerAccountID: req.TrackerAccountID,
		Active:           true,
	}
	if req.Active != nil {
		h.Active = *req.Active
	}
	created, err := s.db.UpsertHuman(ctx, h)
	if err != nil {
		return model.Human{}, fmt.Errorf("learner: upsert human: %w", err)
	}
	return created, nil
}

// GetHuman returns one responder.
func (s *Service) GetHuman(ctx context.Context, id string) (model.Human, error) {
	h, err := s.db.GetHuman(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Human{}, apperr.Newf(apperr.KindNotFound, "human %s not found", id)
		}
		return model.Human{}, fmt.Errorf("learner: load human: %w", err)
	}
	return h, nil
}

// ListHumans returns every registered responder.
func (s *Service) ListHumans(ctx context.Context) ([]model.Human, error) {
	humans, err := s.db.ListHumans(ctx)
	if err != nil {
		return nil, fmt.Errorf("learner: list humans: %w", err)
	}
	return humans, nil
}

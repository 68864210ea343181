// Package decision is the routing core: it gathers candidates, applies
// constraint vetoes, scores the survivors, and persists exactly one decision
// per work item with a complete audit trail.
//
// Every dependency except Postgres is allowed to fail: embeddings and
// neighbor lookups degrade to neutral inputs, the learner degrades to known
// humans with neutral fit. Only "no candidates whatsoever" aborts a decide.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/integrity"
	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/search"
	"github.com/ashita-ai/rota/internal/service/embedding"
	"github.com/ashita-ai/rota/internal/storage"
	"github.com/ashita-ai/rota/internal/telemetry"
)

const (
	// neighborLimit bounds the similar-incident lookup.
	neighborLimit = 20

	maxBackups = 2
)

// NotifyChannelDecisions is the Postgres NOTIFY channel for committed
// decisions.
const NotifyChannelDecisions = "rota_decisions"

// ProfileSource serves candidate profiles for a service. The learner
// implements it in-process; the learner HTTP client implements it for the
// split topology.
type ProfileSource interface {
	GetProfiles(ctx context.Context, service string) ([]model.CandidateProfile, error)
}

// Hook receives every committed decision. Hooks run after commit on a
// detached context; a hook error is logged and never affects the decision.
type Hook func(ctx context.Context, dec model.Decision) error

// Service encapsulates decision business logic shared by HTTP and MCP
// handlers.
type Service struct {
	db       *storage.DB
	profiles ProfileSource
	embedder embedding.Provider
	index    search.Index
	logger   *slog.Logger
	hooks    []Hook

	decideDuration metric.Float64Histogram
	decided        metric.Int64Counter
}

// New creates a decision Service. profiles may be nil (degrades to known
// humans), index may be nil (no similar-incident signal), embedder may be
// nil (neutral similarity when no embedding is stored).
func New(db *storage.DB, profiles ProfileSource, embedder embedding.Provider, index search.Index, logger *slog.Logger) *Service {
	meter := telemetry.Meter("rota/decision")
	dur, _ := meter.Float64Histogram("rota.decide.duration",
		metric.WithDescription("Time to produce a decision (ms)"),
		metric.WithUnit("ms"),
	)
	decided, _ := meter.Int64Counter("rota.decide.total",
		metric.WithDescription("Decide calls by result"),
	)
	return &Service{
		db:             db,
		profiles:       profiles,
		embedder:       embedder,
		index:          index,
		logger:         logger,
		decideDuration: dur,
		decided:        decided,
	}
}

// RegisterHook adds a post-commit hook. Not safe to call concurrently with
// Decide; register hooks during composition.
func (s *Service) RegisterHook(h Hook) {
	s.hooks = append(s.hooks, h)
}

// Decide returns the existing decision for the work item or produces and
// persists a new one.
func (s *Service) Decide(ctx context.Context, workItemID string) (model.DecideResponse, error) {
	if strings.TrimSpace(workItemID) == "" {
		return model.DecideResponse{}, apperr.New(apperr.KindInvalidInput, "work_item_id is required")
	}

	start := time.Now()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("rota.work_item_id", workItemID))

	// 1. Idempotence: one decision per work item, ever.
	if existing, err := s.db.GetDecisionByWorkItem(ctx, workItemID); err == nil {
		s.decided.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "existing")))
		return model.DecideResponse{Decision: existing, Existing: true}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.DecideResponse{}, fmt.Errorf("decision: lookup existing: %w", err)
	}

	// 2. The work item must exist.
	item, err := s.db.GetWorkItem(ctx, workItemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.DecideResponse{}, apperr.Newf(apperr.KindNotFound, "work item %s not found", workItemID)
		}
		return model.DecideResponse{}, fmt.Errorf("decision: load work item: %w", err)
	}

	// 3-4. Embedding and neighbors, both degradable.
	emb := s.workItemEmbedding(ctx, item)
	neighbors := s.similarIncidents(ctx, emb, item.Service)

	// 5. Candidates, degradable to known humans with neutral fit.
	profiles, err := s.candidateProfiles(ctx, item.Service)
	if err != nil {
		return model.DecideResponse{}, err
	}

	// 6. Constraints.
	outcome := applyConstraints(profiles, item.StoryPoints)
	if len(outcome.Survivors) == 0 {
		return model.DecideResponse{}, s.rejectAll(ctx, item, outcome)
	}

	// 7. Scoring.
	scored := make([]scoredCandidate, len(outcome.Survivors))
	for i, p := range outcome.Survivors {
		scored[i] = scoreCandidate(p, item.Severity, item.StoryPoints, neighbors)
	}
	rankCandidates(scored)

	// 8-9. Selection and confidence.
	primary := scored[0]
	backupCount := min(maxBackups, len(scored)-1)
	backups := make([]string, backupCount)
	for i := 0; i < backupCount; i++ {
		backups[i] = scored[i+1].Profile.HumanID
	}
	var nextScore float64
	if len(scored) > 1 {
		nextScore = scored[1].Score
	}
	conf := confidence(primary.Score, nextScore, len(scored) > 1, len(profiles), backupCount)

	// 10. Persist atomically with the audit trail and tamper evidence.
	dec := model.Decision{
		ID:             model.NewDecisionID(),
		WorkItemID:     item.ID,
		PrimaryHumanID: primary.Profile.HumanID,
		BackupHumanIDs: backups,
		Confidence:     conf,
		CreatedAt:      time.Now().UTC(),
	}
	dec.ContentHash = integrity.ComputeContentHash(
		dec.ID, dec.WorkItemID, dec.PrimaryHumanID, dec.BackupHumanIDs, dec.Confidence, dec.CreatedAt)

	candidates := buildCandidateRows(dec.ID, scored, outcome.Filtered)
	constraints := make([]model.ConstraintResult, len(outcome.Results))
	for i, cr := range outcome.Results {
		cr.DecisionID = dec.ID
		constraints[i] = cr
	}

	dec, err = s.db.CreateDecisionAudit(ctx, dec, candidates, constraints)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost the unique-key race to a concurrent decide.
			existing, readErr := s.db.GetDecisionByWorkItem(ctx, workItemID)
			if readErr != nil {
				return model.DecideResponse{}, fmt.Errorf("decision: read after duplicate: %w", readErr)
			}
			s.decided.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "existing")))
			return model.DecideResponse{Decision: existing, Existing: true}, nil
		}
		return model.DecideResponse{}, fmt.Errorf("decision: persist: %w", err)
	}

	// Keep the index current; the outbox worker performs the actual upsert.
	if len(emb) > 0 {
		if err := s.db.EnqueueOutbox(ctx, storage.OutboxKindWorkItem, item.ID, item.Service); err != nil {
			s.logger.Warn("decision: enqueue index sync failed", "work_item_id", item.ID, "error", err)
		}
	}

	s.notify(ctx, dec)
	s.fanOut(ctx, dec)

	s.decideDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s.decided.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "decided")))
	s.logger.Info("decision: decided",
		"work_item_id", item.ID,
		"decision_id", dec.ID,
		"primary", dec.PrimaryHumanID,
		"backups", len(dec.BackupHumanIDs),
		"confidence", dec.Confidence,
		"candidates", len(profiles),
	)
	return model.DecideResponse{Decision: dec, Existing: false}, nil
}

// workItemEmbedding prefers the embedding persisted at ingest; falls back to
// embedding the description now; degrades to nil.
func (s *Service) workItemEmbedding(ctx context.Context, item model.WorkItem) []float32 {
	emb, err := s.db.GetWorkItemEmbedding(ctx, item.ID)
	if err == nil && len(emb) > 0 {
		return emb
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("decision: load embedding failed", "work_item_id", item.ID, "error", err)
	}
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, item.Description)
	if err != nil {
		s.logger.Warn("decision: embed failed, similarity degrades to neutral",
			"work_item_id", item.ID, "error", err)
		return nil
	}
	return vec.Slice()
}

// similarIncidents returns up to neighborLimit same-service neighbors;
// degrades to none.
func (s *Service) similarIncidents(ctx context.Context, emb []float32, service string) []search.Neighbor {
	if s.index == nil || len(emb) == 0 {
		return nil
	}
	neighbors, err := s.index.SimilarWorkItems(ctx, emb, service, neighborLimit)
	if err != nil {
		s.logger.Warn("decision: neighbor lookup failed, degrading to none",
			"service", service, "error", err)
		return nil
	}
	return neighbors
}

// candidateProfiles asks the learner first, then falls back to every known
// human for the service with a neutral fit of 0.5 and zero counts.
func (s *Service) candidateProfiles(ctx context.Context, service string) ([]model.CandidateProfile, error) {
	if s.profiles != nil {
		profiles, err := s.profiles.GetProfiles(ctx, service)
		if err != nil {
			s.logger.Warn("decision: learner unreachable, falling back to known humans",
				"service", service, "error", err)
		} else if len(profiles) > 0 {
			return profiles, nil
		}
	}

	humans, err := s.db.GetKnownHumansForService(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("decision: known humans fallback: %w", err)
	}
	if len(humans) == 0 {
		return nil, apperr.Newf(apperr.KindConstraintExhausted, "no candidates for service %s", service)
	}
	profiles := make([]model.CandidateProfile, len(humans))
	for i, h := range humans {
		profiles[i] = model.CandidateProfile{
			HumanID:        h.ID,
			DisplayName:    h.DisplayName,
			Service:        service,
			FitScore:       0.5,
			Active:         h.Active,
			MaxStoryPoints: model.DefaultMaxStoryPoints,
		}
	}
	return profiles, nil
}

// rejectAll persists the audit rows for a decide attempt where every
// candidate was vetoed, then surfaces ConstraintExhausted with per-candidate
// reasons. No decision row is written; the work item stays decidable.
func (s *Service) rejectAll(ctx context.Context, item model.WorkItem, outcome constraintOutcome) error {
	auditID := model.NewDecisionID()
	candidates := buildCandidateRows(auditID, nil, outcome.Filtered)
	constraints := make([]model.ConstraintResult, len(outcome.Results))
	for i, cr := range outcome.Results {
		cr.DecisionID = auditID
		constraints[i] = cr
	}
	if err := s.db.CreateRejectedAudit(ctx, candidates, constraints); err != nil {
		s.logger.Error("decision: persist rejected audit failed",
			"work_item_id", item.ID, "error", err)
	}

	details := make([]map[string]string, len(outcome.Filtered))
	for i, f := range outcome.Filtered {
		details[i] = map[string]string{
			"human_id":      f.Profile.HumanID,
			"filter_reason": f.Reason,
		}
	}
	s.decided.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "exhausted")))
	return apperr.Newf(apperr.KindConstraintExhausted,
		"all %d candidates filtered for work item %s", len(outcome.Filtered), item.ID).
		WithDetails(details)
}

// buildCandidateRows produces the audit rows: survivors ranked densely from
// 1 with their breakdowns, then filtered candidates in veto order with score
// 0 and an empty breakdown.
func buildCandidateRows(decisionID string, scored []scoredCandidate, filtered []filteredCandidate) []model.DecisionCandidate {
	rows := make([]model.DecisionCandidate, 0, len(scored)+len(filtered))
	rank := 1
	for _, c := range scored {
		rows = append(rows, model.DecisionCandidate{
			DecisionID: decisionID,
			HumanID:    c.Profile.HumanID,
			Score:      c.Score,
			Rank:       rank,
			Breakdown:  c.Breakdown,
		})
		rank++
	}
	for _, f := range filtered {
		reason := f.Reason
		rows = append(rows, model.DecisionCandidate{
			DecisionID:   decisionID,
			HumanID:      f.Profile.HumanID,
			Rank:         rank,
			Filtered:     true,
			FilterReason: &reason,
			Breakdown:    model.ScoreBreakdown{},
		})
		rank++
	}
	return rows
}

// notify publishes a compact payload on the decisions channel. Best effort.
func (s *Service) notify(ctx context.Context, dec model.Decision) {
	payload, err := json.Marshal(map[string]any{
		"decision_id":      dec.ID,
		"work_item_id":     dec.WorkItemID,
		"primary_human_id": dec.PrimaryHumanID,
		"confidence":       dec.Confidence,
	})
	if err != nil {
		return
	}
	if err := s.db.Notify(ctx, NotifyChannelDecisions, string(payload)); err != nil {
		s.logger.Warn("decision: notify failed", "decision_id", dec.ID, "error", err)
	}
}

// fanOut runs registered hooks on a detached context so a client disconnect
// cannot abort the forward path of a committed decision.
func (s *Service) fanOut(ctx context.Context, dec model.Decision) {
	if len(s.hooks) == 0 {
		return
	}
	hookCtx := context.WithoutCancel(ctx)
	for _, h := range s.hooks {
		if err := h(hookCtx, dec); err != nil {
			s.logger.Error("decision: hook failed", "decision_id", dec.ID, "error", err)
		}
	}
}

// GetDecision returns the decision for a work item.
func (s *Service) GetDecision(ctx context.Context, workItemID string) (model.Decision, error) {
	dec, err := s.db.GetDecisionByWorkItem(ctx, workItemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Decision{}, apperr.Newf(apperr.KindNotFound, "no decision for work item %s", workItemID)
		}
		return model.Decision{}, fmt.Errorf("decision: get: %w", err)
	}
	return dec, nil
}

// GetAudit returns the full audit trail with recomputed tamper evidence:
// hash_ok over the decision fields and a Merkle root over the candidate rows.
func (s *Service) GetAudit(ctx context.Context, workItemID string) (model.DecisionAudit, error) {
	dec, err := s.GetDecision(ctx, workItemID)
	if err != nil {
		return model.DecisionAudit{}, err
	}
	candidates, err := s.db.GetDecisionCandidates(ctx, dec.ID)
	if err != nil {
		return model.DecisionAudit{}, fmt.Errorf("decision: audit candidates: %w", err)
	}
	constraints, err := s.db.GetConstraintResults(ctx, dec.ID)
	if err != nil {
		return model.DecisionAudit{}, fmt.Errorf("decision: audit constraints: %w", err)
	}

	return model.DecisionAudit{
		Decision:    dec,
		Candidates:  candidates,
		Constraints: constraints,
		HashOK: integrity.VerifyContentHash(dec.ContentHash,
			dec.ID, dec.WorkItemID, dec.PrimaryHumanID, dec.BackupHumanIDs, dec.Confidence, dec.CreatedAt),
		MerkleRoot: candidateMerkleRoot(candidates),
	}, nil
}

// candidateMerkleRoot hashes each candidate row and folds the sorted leaves.
func candidateMerkleRoot(candidates []model.DecisionCandidate) string {
	leaves := make([]string, len(candidates))
	for i, c := range candidates {
		reason := ""
		if c.FilterReason != nil {
			reason = *c.FilterReason
		}
		leaves[i] = integrity.HashCandidateRow(c.DecisionID, c.HumanID, c.Score, c.Rank, c.Filtered, reason)
	}
	sort.Strings(leaves)
	return integrity.BuildMerkleRoot(leaves)
}

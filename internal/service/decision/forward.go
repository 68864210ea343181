package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/storage"
)

// explainTimeout bounds the Explain step of the forward path so a slow LLM
// cannot hold up ticket creation.
const explainTimeout = 30 * time.Second

// Explainer produces grounded evidence for a committed decision. The
// in-process explain service implements it; the explain HTTP client
// implements it for the split topology.
type Explainer interface {
	Explain(ctx context.Context, req model.ExplainRequest) (model.EvidenceBundle, error)
}

// Ticketer makes a committed decision actionable. The in-process executor
// implements it; the execute HTTP client implements it for the split
// topology.
type Ticketer interface {
	Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecuteResponse, error)
}

// Forwarder is the built-in orchestration hook for the forward path:
// Explain the committed decision, then Execute it with the evidence bundle.
// Explain failures degrade to an empty bullet list; the ticket is created
// either way. Register Forward with RegisterHook.
type Forwarder struct {
	db        *storage.DB
	decisions *Service
	profiles  ProfileSource
	explainer Explainer
	ticketer  Ticketer
	logger    *slog.Logger
}

// NewForwarder wires the orchestration hook. profiles may be nil; evidence
// then carries score breakdowns only.
func NewForwarder(db *storage.DB, decisions *Service, profiles ProfileSource, explainer Explainer, ticketer Ticketer, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		db:        db,
		decisions: decisions,
		profiles:  profiles,
		explainer: explainer,
		ticketer:  ticketer,
		logger:    logger,
	}
}

// Forward runs Explain then Execute for one committed decision.
func (f *Forwarder) Forward(ctx context.Context, dec model.Decision) error {
	item, err := f.db.GetWorkItem(ctx, dec.WorkItemID)
	if err != nil {
		return fmt.Errorf("forward decision %s: work item: %w", dec.ID, err)
	}

	var evidence []model.EvidenceBullet
	explainCtx, cancel := context.WithTimeout(ctx, explainTimeout)
	bundle, err := f.explainer.Explain(explainCtx, f.buildExplainRequest(ctx, dec, item))
	cancel()
	if err != nil {
		f.logger.Warn("forward decision: explain failed, executing with empty evidence",
			"decision_id", dec.ID, "error", err)
	} else {
		evidence = bundle.Bullets
	}

	if _, err := f.ticketer.Execute(ctx, model.ExecuteRequest{
		DecisionID:     dec.ID,
		WorkItemID:     dec.WorkItemID,
		PrimaryHumanID: dec.PrimaryHumanID,
		BackupHumanIDs: dec.BackupHumanIDs,
		Evidence:       evidence,
	}); err != nil {
		return fmt.Errorf("forward decision %s: execute: %w", dec.ID, err)
	}
	return nil
}

// buildExplainRequest assembles the feature vectors the explain layer is
// allowed to reference. Audit rows and current profiles are both best
// effort: a partial request still produces valid fallback evidence.
func (f *Forwarder) buildExplainRequest(ctx context.Context, dec model.Decision, item model.WorkItem) model.ExplainRequest {
	req := model.ExplainRequest{
		DecisionID:  dec.ID,
		WorkItemID:  dec.WorkItemID,
		Service:     item.Service,
		Severity:    item.Severity,
		Description: item.Description,
	}

	breakdowns := map[string]model.ScoreBreakdown{}
	if audit, err := f.decisions.GetAudit(ctx, dec.WorkItemID); err != nil {
		f.logger.Warn("forward decision: audit unavailable", "decision_id", dec.ID, "error", err)
	} else {
		for _, c := range audit.Candidates {
			breakdowns[c.HumanID] = c.Breakdown
		}
		req.Constraints = audit.Constraints
	}

	profiles := map[string]model.CandidateProfile{}
	if f.profiles == nil {
		f.logger.Warn("forward decision: no profile source", "decision_id", dec.ID)
	} else if rows, err := f.profiles.GetProfiles(ctx, item.Service); err != nil {
		f.logger.Warn("forward decision: profiles unavailable", "decision_id", dec.ID, "error", err)
	} else {
		for _, p := range rows {
			profiles[p.HumanID] = p
		}
	}

	req.Primary = candidateFeatures(dec.PrimaryHumanID, profiles, breakdowns)
	for _, id := range dec.BackupHumanIDs {
		req.Backups = append(req.Backups, candidateFeatures(id, profiles, breakdowns))
	}
	return req
}

func candidateFeatures(humanID string, profiles map[string]model.CandidateProfile, breakdowns map[string]model.ScoreBreakdown) model.CandidateFeatures {
	f := model.CandidateFeatures{HumanID: humanID}

	if p, ok := profiles[humanID]; ok {
		f.DisplayName = p.DisplayName
		f.FitScore = p.FitScore
		f.ResolvesCount = p.ResolvesCount
		f.TransfersCount = p.TransfersCount
		f.OnCall = p.OnCall
		f.Pages7d = p.Pages7d
		f.ActiveItems = p.ActiveItems
		if p.LastResolvedAt != nil {
			s := p.LastResolvedAt.UTC().Format(time.RFC3339)
			f.LastResolvedAt = &s
		}
	}

	if b, ok := breakdowns[humanID]; ok && len(b) > 0 {
		f.Breakdown = b
		if sim, ok := b[model.BreakdownVectorSimilarity]; ok {
			f.SimilarIncidentScore = &sim
		}
	}
	return f
}

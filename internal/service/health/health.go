// Package health computes the routing-health view: aggregate decision
// confidence, execution fallback rates, and feedback-loop liveness, with
// rule-based gap detection.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/storage"
)

// outcomeWindow is the liveness window for the feedback loop.
const outcomeWindow = 7 * 24 * time.Hour

// maxOutboxAttempts mirrors the search outbox dead-letter threshold; entries
// past it no longer count as pending.
const maxOutboxAttempts = 10

// Service computes routing health metrics.
type Service struct {
	db *storage.DB
}

// New creates a routing health service.
func New(db *storage.DB) *Service {
	return &Service{db: db}
}

// Compute calculates the routing-health snapshot.
func (s *Service) Compute(ctx context.Context) (model.RoutingHealth, error) {
	qs, err := s.db.GetDecisionQualityStats(ctx)
	if err != nil {
		return model.RoutingHealth{}, fmt.Errorf("health: quality stats: %w", err)
	}

	if qs.Total == 0 {
		return model.RoutingHealth{
			Status: model.HealthStatusInsufficientData,
			Gaps:   []string{"No decisions recorded yet. Route a work item to see health metrics."},
		}, nil
	}

	es, err := s.db.GetExecutionStats(ctx)
	if err != nil {
		return model.RoutingHealth{}, fmt.Errorf("health: execution stats: %w", err)
	}

	outcomes, err := s.db.CountOutcomesSince(ctx, time.Now().UTC().Add(-outcomeWindow))
	if err != nil {
		return model.RoutingHealth{}, fmt.Errorf("health: count outcomes: %w", err)
	}

	pending, err := s.db.CountOutboxPending(ctx, maxOutboxAttempts)
	if err != nil {
		return model.RoutingHealth{}, fmt.Errorf("health: outbox depth: %w", err)
	}

	var fallbackRate float64
	if total := es.Executed + es.Fallbacks; total > 0 {
		fallbackRate = float64(es.Fallbacks) / float64(total)
	}

	h := model.RoutingHealth{
		Decisions:          qs.Total,
		AvgConfidence:      qs.AvgConf,
		LowConfidence:      qs.BelowHalf,
		VeryLowConfidence:  qs.BelowThird,
		Executed:           es.Executed,
		Fallbacks:          es.Fallbacks,
		FallbackRate:       fallbackRate,
		Outcomes7d:         outcomes,
		PendingOutboxDepth: int(pending),
	}
	h.Gaps = computeGaps(qs, es, fallbackRate, outcomes, int(pending))
	if len(h.Gaps) > 0 {
		h.Status = model.HealthStatusNeedsAttention
	} else {
		h.Status = model.HealthStatusHealthy
	}
	return h, nil
}

// computeGaps applies the rule list in severity order and returns at most
// three gaps.
func computeGaps(qs storage.DecisionQualityStats, es storage.ExecutionStats,
	fallbackRate float64, outcomes7d, pendingOutbox int) []string {

	var gaps []string

	if qs.AvgConf < 0.5 {
		gaps = append(gaps, fmt.Sprintf(
			"Average decision confidence is %.2f; the candidate pool is likely too thin.", qs.AvgConf))
	}
	if fallbackRate > 0.2 && es.Fallbacks > 0 {
		gaps = append(gaps, fmt.Sprintf(
			"%.0f%% of executions fell back to the database; check tracker connectivity.", fallbackRate*100))
	}
	if outcomes7d == 0 {
		gaps = append(gaps, "No outcome events in the last 7 days; the learning loop is not receiving feedback.")
	}
	if len(gaps) < 3 && qs.BelowThird > 0 {
		gaps = append(gaps, fmt.Sprintf(
			"%d decisions have confidence below 0.33.", qs.BelowThird))
	}
	if len(gaps) < 3 && pendingOutbox > 100 {
		gaps = append(gaps, fmt.Sprintf(
			"%d entries pending in the search outbox; the similarity index is lagging.", pendingOutbox))
	}
	if len(gaps) > 3 {
		gaps = gaps[:3]
	}
	return gaps
}

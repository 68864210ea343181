// Package explain produces grounded evidence for decisions: an LLM-written
// bundle validated against a strict schema, with a deterministic template
// fallback whenever the model is unavailable or returns anything invalid.
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/llm"
	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/telemetry"
)

// Service generates evidence bundles.
type Service struct {
	llm    llm.Client
	logger *slog.Logger

	generated metric.Int64Counter
}

// New creates an explain Service. Pass llm.Disabled{} when no model is
// configured; every request then uses the deterministic fallback.
func New(client llm.Client, logger *slog.Logger) *Service {
	meter := telemetry.Meter("rota/explain")
	generated, _ := meter.Int64Counter("rota.explain.bundles",
		metric.WithDescription("Evidence bundles generated, by generator"),
	)
	return &Service{llm: client, logger: logger, generated: generated}
}

// Explain produces an evidence bundle for a decision. It never fails once
// the request is well-formed: any model problem degrades to the fallback.
func (s *Service) Explain(ctx context.Context, req model.ExplainRequest) (model.EvidenceBundle, error) {
	if strings.TrimSpace(req.DecisionID) == "" || strings.TrimSpace(req.WorkItemID) == "" {
		return model.EvidenceBundle{}, apperr.New(apperr.KindInvalidInput, "decision_id and work_item_id are required")
	}
	if strings.TrimSpace(req.Primary.HumanID) == "" {
		return model.EvidenceBundle{}, apperr.New(apperr.KindInvalidInput, "primary candidate is required")
	}

	bundle, err := s.fromLLM(ctx, req)
	if err != nil {
		if err != llm.ErrUnavailable {
			s.logger.Warn("explain: llm path failed, using fallback",
				"decision_id", req.DecisionID, "error", err)
		}
		bundle = Fallback(req)
	}
	s.generated.Add(ctx, 1, metric.WithAttributes(attribute.String("generator", bundle.GeneratedBy)))
	return bundle, nil
}

// llmBundle is the wire shape the model must return.
type llmBundle struct {
	Bullets        []model.EvidenceBullet `json:"bullets"`
	WhyNotNextBest string                 `json:"why_not_next_best"`
}

func (s *Service) fromLLM(ctx context.Context, req model.ExplainRequest) (model.EvidenceBundle, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return model.EvidenceBundle{}, err
	}

	out, err := s.llm.Complete(ctx, llm.Request{
		System:     systemPrompt,
		Prompt:     prompt,
		JSONObject: true,
	})
	if err != nil {
		return model.EvidenceBundle{}, err
	}

	if err := ValidateBundleJSON([]byte(out)); err != nil {
		return model.EvidenceBundle{}, fmt.Errorf("explain: model output rejected: %w", err)
	}
	var parsed llmBundle
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return model.EvidenceBundle{}, fmt.Errorf("explain: decode model output: %w", err)
	}

	return model.EvidenceBundle{
		DecisionID:     req.DecisionID,
		WorkItemID:     req.WorkItemID,
		Bullets:        parsed.Bullets,
		WhyNotNextBest: parsed.WhyNotNextBest,
		GeneratedBy:    model.GeneratedByLLM,
	}, nil
}

const systemPrompt = `You write evidence for an incident assignment decision.
You receive the exact candidate features as JSON. Every claim you make must be
directly supported by a value in those features; never invent numbers, names,
dates, or events. Respond with a single JSON object of the form
{"bullets": [{"type": "...", "text": "...", "time_window": "...", "source": "..."}, ...],
 "why_not_next_best": "..."}.
Produce between 3 and 7 bullets. Allowed types: recent_resolution, on_call,
low_load, similar_incident, fit_score, general. The why_not_next_best sentence
must compare the primary with the best backup using concrete numbers
(fit_score, resolves_count, transfers_count) from the features.`

func buildPrompt(req model.ExplainRequest) (string, error) {
	features, err := json.MarshalIndent(struct {
		Service  string                    `json:"service"`
		Severity model.Severity            `json:"severity"`
		Summary  string                    `json:"work_item_summary"`
		Primary  model.CandidateFeatures   `json:"primary"`
		Backups  []model.CandidateFeatures `json:"backups,omitempty"`
	}{
		Service:  req.Service,
		Severity: req.Severity,
		Summary:  summarize(req.Description),
		Primary:  req.Primary,
		Backups:  req.Backups,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("explain: marshal features: %w", err)
	}

	var b strings.Builder
	b.WriteString("Candidate features:\n")
	b.Write(features)
	b.WriteString("\n\nExplain why the primary was chosen.")
	return b.String(), nil
}

// summarize bounds the work item description included in the prompt,
// truncating on a rune boundary so the prompt stays valid UTF-8.
func summarize(description string) string {
	const maxLen = 500
	if len(description) <= maxLen {
		return description
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(description[cut]) {
		cut--
	}
	return description[:cut]
}

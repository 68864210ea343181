package explain

import (
	"fmt"

	"github.com/ashita-ai/rota/internal/model"
)

// Fallback builds a deterministic evidence bundle from the primary's
// features: a fixed predicate list evaluated in order, one bullet per match.
// Always returns at least one bullet.
func Fallback(req model.ExplainRequest) model.EvidenceBundle {
	p := req.Primary
	name := p.DisplayName
	if name == "" {
		name = p.HumanID
	}

	var bullets []model.EvidenceBullet
	if p.ResolvesCount > 0 {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       model.EvidenceRecentResolution,
			Text:       fmt.Sprintf("%s resolved %d %s incidents in the recent window", name, p.ResolvesCount, req.Service),
			TimeWindow: "last 90 days",
			Source:     "learner_stats",
		})
	}
	if p.LastResolvedAt != nil && *p.LastResolvedAt != "" {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       model.EvidenceRecentResolution,
			Text:       fmt.Sprintf("%s most recently resolved a %s incident at %s", name, req.Service, *p.LastResolvedAt),
			TimeWindow: "last 90 days",
			Source:     "learner_stats",
		})
	}
	if p.OnCall {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       model.EvidenceOnCall,
			Text:       fmt.Sprintf("%s is currently on call for %s", name, req.Service),
			TimeWindow: "now",
			Source:     "tracker",
		})
	}
	if p.Pages7d == 0 {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       model.EvidenceLowLoad,
			Text:       fmt.Sprintf("%s received no pages in the last 7 days", name),
			TimeWindow: "last 7 days",
			Source:     "load_view",
		})
	}
	if p.SimilarIncidentScore != nil {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       model.EvidenceSimilarIncident,
			Text:       fmt.Sprintf("%s resolved incidents similar to this one (similarity %.2f)", name, *p.SimilarIncidentScore),
			TimeWindow: "recent history",
			Source:     "similarity_index",
		})
	}
	if p.FitScore > 0 {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       model.EvidenceFitScore,
			Text:       fmt.Sprintf("%s has a fit score of %.2f for %s", name, p.FitScore, req.Service),
			TimeWindow: "current",
			Source:     "learner_stats",
		})
	}
	if len(bullets) == 0 {
		bullets = append(bullets, model.EvidenceBullet{
			Type:       model.EvidenceGeneral,
			Text:       fmt.Sprintf("%s was the highest-ranked available candidate for %s", name, req.Service),
			TimeWindow: "current",
			Source:     "decision_engine",
		})
	}
	if len(bullets) > 7 {
		bullets = bullets[:7]
	}

	return model.EvidenceBundle{
		DecisionID:     req.DecisionID,
		WorkItemID:     req.WorkItemID,
		Bullets:        bullets,
		WhyNotNextBest: whyNotNextBest(req),
		GeneratedBy:    model.GeneratedByFallback,
	}
}

// whyNotNextBest compares the primary against the top backup with concrete
// numbers. Deterministic.
func whyNotNextBest(req model.ExplainRequest) string {
	p := req.Primary
	pName := p.DisplayName
	if pName == "" {
		pName = p.HumanID
	}
	if len(req.Backups) == 0 {
		return fmt.Sprintf("%s was the only viable candidate; no backups were available.", pName)
	}

	b := req.Backups[0]
	bName := b.DisplayName
	if bName == "" {
		bName = b.HumanID
	}
	return fmt.Sprintf("%s was chosen over %s: fit score %.2f vs %.2f, %d vs %d resolutions, %d vs %d transfers.",
		pName, bName,
		p.FitScore, b.FitScore,
		p.ResolvesCount, b.ResolvesCount,
		p.TransfersCount, b.TransfersCount)
}

package decision

import (
	"math"
	"sort"

	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/search"
)

// Scoring weights. The severity weight applies to fit·severity_match, not to
// severity_match alone.
const (
	weightFit        = 0.40
	weightSimilarity = 0.30
	weightCapacity   = 0.20
	weightSeverity   = 0.10

	neutralSimilarity = 0.5
	neighborBonusStep = 0.05
	neighborBonusCap  = 0.20
)

// severityWeights are the raw multipliers per severity. For sev1/sev2 the
// effective multiplier is softened by fit: 1 + (w−1)·fit, so a weak candidate
// gets no urgency boost they have not earned.
var severityWeights = map[model.Severity]float64{
	model.Sev1: 1.2,
	model.Sev2: 1.1,
	model.Sev3: 1.0,
	model.Sev4: 0.9,
}

// scoredCandidate is one surviving candidate with its computed breakdown.
type scoredCandidate struct {
	Profile   model.CandidateProfile
	Score     float64
	Breakdown model.ScoreBreakdown
}

// capacityScore maps the remaining capacity fraction after a hypothetical
// assignment onto the piecewise table. Items without a story-point
// requirement always score 1.0.
func capacityScore(maxPoints, currentPoints int, storyPoints *int) float64 {
	if storyPoints == nil {
		return 1.0
	}
	if maxPoints <= 0 {
		return 0.0
	}
	remaining := float64(maxPoints-currentPoints-*storyPoints) / float64(maxPoints)
	switch {
	case remaining >= 0.4:
		return 0.9
	case remaining >= 0.2:
		return 1.0
	case remaining >= 0.1:
		return 0.8
	case remaining > 0:
		return 0.6
	default:
		return 0.0
	}
}

// severityMatch computes the severity multiplier for a candidate.
func severityMatch(severity model.Severity, fit float64) float64 {
	w, ok := severityWeights[severity]
	if !ok {
		w = 1.0
	}
	if severity == model.Sev1 || severity == model.Sev2 {
		return 1 + (w-1)*fit
	}
	return w
}

// vectorSimilarity is the mean similarity over the neighbors this candidate
// resolved, with +0.05 per additional match capped at +0.20. Neutral 0.5
// when the candidate resolved none of them (or there are no neighbors).
func vectorSimilarity(neighbors []search.Neighbor, humanID string) float64 {
	var sum float64
	var matched int
	for _, nb := range neighbors {
		if nb.ResolverID != "" && nb.ResolverID == humanID {
			sum += nb.Similarity
			matched++
		}
	}
	if matched == 0 {
		return neutralSimilarity
	}
	mean := sum / float64(matched)
	bonus := math.Min(neighborBonusCap, neighborBonusStep*float64(matched-1))
	return math.Min(1, mean+bonus)
}

// scoreCandidate computes the weighted score and full breakdown for one
// surviving candidate.
func scoreCandidate(p model.CandidateProfile, severity model.Severity, storyPoints *int, neighbors []search.Neighbor) scoredCandidate {
	fit := p.FitScore
	sim := vectorSimilarity(neighbors, p.HumanID)
	capScore := capacityScore(p.MaxStoryPoints, p.CurrentStoryPoints, storyPoints)
	sevMatch := severityMatch(severity, fit)

	score := clamp01(weightFit*fit +
		weightSimilarity*sim +
		weightCapacity*capScore +
		weightSeverity*fit*sevMatch)

	return scoredCandidate{
		Profile: p,
		Score:   score,
		Breakdown: model.ScoreBreakdown{
			model.BreakdownFitScore:         fit,
			model.BreakdownVectorSimilarity: sim,
			model.BreakdownCapacity:         capScore,
			model.BreakdownSeverityMatch:    sevMatch,
			model.BreakdownFinalScore:       score,
		},
	}
}

// rankCandidates orders scored candidates deterministically: score desc, then
// resolves desc, transfers asc, human_id lexicographic. Retrieval order never
// influences the result.
func rankCandidates(cands []scoredCandidate) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Profile.ResolvesCount != b.Profile.ResolvesCount {
			return a.Profile.ResolvesCount > b.Profile.ResolvesCount
		}
		if a.Profile.TransfersCount != b.Profile.TransfersCount {
			return a.Profile.TransfersCount < b.Profile.TransfersCount
		}
		return a.Profile.HumanID < b.Profile.HumanID
	})
}

// confidence derives decision confidence from the primary's score, the gap
// to the runner-up, and sparsity penalties.
func confidence(primaryScore, nextScore float64, hasNext bool, totalCandidates, backupCount int) float64 {
	conf := primaryScore
	if hasNext {
		switch gap := primaryScore - nextScore; {
		case gap > 0.2:
			conf += 0.15
		case gap > 0.1:
			conf += 0.10
		case gap > 0.05:
			conf += 0.05
		}
	}
	if totalCandidates < 3 {
		conf *= 0.9
	}
	if backupCount == 0 {
		conf *= 0.9
	}
	return clamp01(conf)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

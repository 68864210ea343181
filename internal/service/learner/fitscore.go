package learner

import (
	"math"
	"time"
)

// Fit score shape: resolves push the score up, transfers pull it down, and
// the whole thing decays toward zero the longer a human goes without
// resolving anything in the service.
const (
	fitBase            = 0.5
	fitResolveStep     = 0.05
	fitResolveCap      = 0.5
	fitTransferStep    = 0.10
	fitTransferCap     = 0.3
	fitRecencyBoostMax = 0.2
	fitRecencyWindow   = 90 // days
	fitDailyDecay      = 0.99
)

// ComputeFitScore derives the effective fit of one human for one service from
// the stored counters. Humans who have never resolved anything are treated as
// if their last resolution were a full window ago.
func ComputeFitScore(resolves, transfers int, lastResolvedAt *time.Time, now time.Time) float64 {
	days := float64(fitRecencyWindow)
	if lastResolvedAt != nil {
		days = now.Sub(*lastResolvedAt).Hours() / 24
		if days < 0 {
			days = 0
		}
	}

	raw := fitBase
	raw += math.Min(fitResolveCap, fitResolveStep*float64(resolves))
	raw -= math.Min(fitTransferCap, fitTransferStep*float64(transfers))
	raw += math.Max(0, fitRecencyBoostMax*(1-days/fitRecencyWindow))

	return clamp01(raw * math.Pow(fitDailyDecay, days))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

package decision

import (
	"fmt"

	"github.com/ashita-ai/rota/internal/model"
)

// filteredCandidate is a vetoed candidate kept for the audit trail.
type filteredCandidate struct {
	Profile model.CandidateProfile
	Reason  string
}

// constraintOutcome is the result of running every constraint over the
// candidate set.
type constraintOutcome struct {
	Survivors []model.CandidateProfile
	Filtered  []filteredCandidate
	Results   []model.ConstraintResult
}

// applyConstraints vetoes candidates in constraint order: availability, then
// capacity. A candidate's filter reason names the first constraint that
// failed, but every constraint is evaluated across the whole set so the
// aggregate audit rows carry complete pass counts.
func applyConstraints(profiles []model.CandidateProfile, storyPoints *int) constraintOutcome {
	var out constraintOutcome

	availPassed, capPassed := 0, 0
	for _, p := range profiles {
		available := p.Active
		if available {
			availPassed++
		}

		capacityOK := true
		if storyPoints != nil {
			capacityOK = p.MaxStoryPoints-p.CurrentStoryPoints >= *storyPoints
		}
		if capacityOK {
			capPassed++
		}

		switch {
		case !available:
			out.Filtered = append(out.Filtered, filteredCandidate{
				Profile: p,
				Reason:  "availability: candidate is inactive",
			})
		case !capacityOK:
			out.Filtered = append(out.Filtered, filteredCandidate{
				Profile: p,
				Reason: fmt.Sprintf("capacity: %d of %d points available, need %d",
					p.MaxStoryPoints-p.CurrentStoryPoints, p.MaxStoryPoints, *storyPoints),
			})
		default:
			out.Survivors = append(out.Survivors, p)
		}
	}

	total := len(profiles)
	out.Results = []model.ConstraintResult{
		{
			ConstraintName: model.ConstraintAvailability,
			Passed:         availPassed == total,
			Reason:         countReason(availPassed, total),
		},
		{
			ConstraintName: model.ConstraintCapacity,
			Passed:         capPassed == total,
			Reason:         countReason(capPassed, total),
		},
	}
	return out
}

func countReason(passed, total int) *string {
	s := fmt.Sprintf("%d of %d candidates passed", passed, total)
	return &s
}

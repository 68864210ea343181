package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/rota/internal/model"
)

func TestApplyConstraintsAllPass(t *testing.T) {
	profiles := []model.CandidateProfile{
		profile("h1", 0.8, 5, 0),
		profile("h2", 0.6, 2, 0),
	}
	out := applyConstraints(profiles, nil)

	assert.Len(t, out.Survivors, 2)
	assert.Empty(t, out.Filtered)
	require.Len(t, out.Results, 2)
	assert.Equal(t, model.ConstraintAvailability, out.Results[0].ConstraintName)
	assert.True(t, out.Results[0].Passed)
	assert.Equal(t, model.ConstraintCapacity, out.Results[1].ConstraintName)
	assert.True(t, out.Results[1].Passed)
	assert.Equal(t, "2 of 2 candidates passed", *out.Results[0].Reason)
}

func TestApplyConstraintsCapacityVeto(t *testing.T) {
	h1 := profile("h1", 0.85, 12, 1)
	h1.CurrentStoryPoints = 15 // 6 points free
	h2 := profile("h2", 0.75, 8, 0)
	h2.CurrentStoryPoints = 9 // 12 points free

	out := applyConstraints([]model.CandidateProfile{h1, h2}, ptr(10))

	require.Len(t, out.Survivors, 1)
	assert.Equal(t, "h2", out.Survivors[0].HumanID)
	require.Len(t, out.Filtered, 1)
	assert.Equal(t, "h1", out.Filtered[0].Profile.HumanID)
	assert.Equal(t, "capacity: 6 of 21 points available, need 10", out.Filtered[0].Reason)

	assert.True(t, out.Results[0].Passed, "availability passed for all")
	assert.False(t, out.Results[1].Passed)
	assert.Equal(t, "1 of 2 candidates passed", *out.Results[1].Reason)
}

func TestApplyConstraintsAvailabilityFirst(t *testing.T) {
	h := profile("h1", 0.9, 10, 0)
	h.Active = false
	h.CurrentStoryPoints = 21 // would fail capacity too

	out := applyConstraints([]model.CandidateProfile{h}, ptr(5))

	assert.Empty(t, out.Survivors)
	require.Len(t, out.Filtered, 1)
	assert.Equal(t, "availability: candidate is inactive", out.Filtered[0].Reason)

	// Both constraints are still evaluated for the aggregate rows.
	assert.False(t, out.Results[0].Passed)
	assert.False(t, out.Results[1].Passed)
}

func TestApplyConstraintsAllFiltered(t *testing.T) {
	h1 := profile("h1", 0.85, 12, 1)
	h2 := profile("h2", 0.75, 8, 0)
	out := applyConstraints([]model.CandidateProfile{h1, h2}, ptr(100))

	assert.Empty(t, out.Survivors)
	assert.Len(t, out.Filtered, 2)
	for _, f := range out.Filtered {
		assert.Contains(t, f.Reason, "capacity:")
	}
}

func TestBuildCandidateRows(t *testing.T) {
	scored := []scoredCandidate{
		{Profile: profile("h1", 0.8, 5, 0), Score: 0.81, Breakdown: model.ScoreBreakdown{model.BreakdownFinalScore: 0.81}},
		{Profile: profile("h2", 0.7, 3, 0), Score: 0.74, Breakdown: model.ScoreBreakdown{model.BreakdownFinalScore: 0.74}},
	}
	filtered := []filteredCandidate{
		{Profile: profile("h3", 0.9, 9, 0), Reason: "availability: candidate is inactive"},
	}

	rows := buildCandidateRows("dec-1", scored, filtered)
	require.Len(t, rows, 3)

	assert.Equal(t, []int{1, 2, 3}, []int{rows[0].Rank, rows[1].Rank, rows[2].Rank})
	assert.Equal(t, "h1", rows[0].HumanID)
	assert.False(t, rows[0].Filtered)
	assert.InDelta(t, 0.81, rows[0].Score, 1e-9)

	assert.True(t, rows[2].Filtered)
	assert.Zero(t, rows[2].Score)
	assert.Empty(t, rows[2].Breakdown)
	require.NotNil(t, rows[2].FilterReason)
	assert.Equal(t, "availability: candidate is inactive", *rows[2].FilterReason)
}

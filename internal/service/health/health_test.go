package health

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/rota/internal/storage"
)

func TestComputeGapsHealthy(t *testing.T) {
	qs := storage.DecisionQualityStats{Total: 50, AvgConf: 0.78}
	es := storage.ExecutionStats{Executed: 40, Fallbacks: 2}

	gaps := computeGaps(qs, es, 2.0/42.0, 12, 3)
	assert.Empty(t, gaps)
}

func TestComputeGapsLowConfidence(t *testing.T) {
	qs := storage.DecisionQualityStats{Total: 20, AvgConf: 0.41, BelowHalf: 12, BelowThird: 4}
	es := storage.ExecutionStats{Executed: 18}

	gaps := computeGaps(qs, es, 0, 5, 0)
	assert.GreaterOrEqual(t, len(gaps), 1)
	assert.Contains(t, gaps[0], "Average decision confidence is 0.41")
}

func TestComputeGapsFallbackRate(t *testing.T) {
	qs := storage.DecisionQualityStats{Total: 10, AvgConf: 0.7}
	es := storage.ExecutionStats{Executed: 6, Fallbacks: 4}

	gaps := computeGaps(qs, es, 0.4, 3, 0)
	found := false
	for _, g := range gaps {
		if strings.Contains(g, "fell back to the database") {
			found = true
		}
	}
	assert.True(t, found, "high fallback rate must surface as a gap")
}

func TestComputeGapsStalledFeedback(t *testing.T) {
	qs := storage.DecisionQualityStats{Total: 10, AvgConf: 0.8}
	es := storage.ExecutionStats{Executed: 10}

	gaps := computeGaps(qs, es, 0, 0, 0)
	assert.Len(t, gaps, 1)
	assert.Contains(t, gaps[0], "No outcome events")
}

func TestComputeGapsCapsAtThree(t *testing.T) {
	qs := storage.DecisionQualityStats{Total: 30, AvgConf: 0.3, BelowHalf: 25, BelowThird: 15}
	es := storage.ExecutionStats{Executed: 5, Fallbacks: 10}

	gaps := computeGaps(qs, es, 10.0/15.0, 0, 500)
	assert.LessOrEqual(t, len(gaps), 3)
	assert.GreaterOrEqual(t, len(gaps), 3, "three rules fired, all three slots used")
}

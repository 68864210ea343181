package storage

import (
	"context"
	"fmt"
)

// DecisionQualityStats holds aggregate confidence counts for the
// routing-health view.
type DecisionQualityStats struct {
	Total      int
	AvgConf    float64
	BelowHalf  int // confidence < 0.5
	BelowThird int // confidence < 0.33
}

// GetDecisionQualityStats returns aggregate decision confidence stats.
func (db *DB) GetDecisionQualityStats(ctx context.Context) (DecisionQualityStats, error) {
	var s DecisionQualityStats
	err := db.pool.QueryRow(ctx, `
		SELECT
		    COUNT(*)::int,
		    COALESCE(AVG(confidence), 0),
		    COUNT(*) FILTER (WHERE confidence < 0.5)::int,
		    COUNT(*) FILTER (WHERE confidence < 0.33)::int
		FROM decisions`).Scan(&s.Total, &s.AvgConf, &s.BelowHalf, &s.BelowThird)
	if err != nil {
		return s, fmt.Errorf("storage: decision quality stats: %w", err)
	}
	return s, nil
}

// ExecutionStats holds executed/fallback counts for the routing-health view.
type ExecutionStats struct {
	Executed  int // actions with a ticket key
	Fallbacks int // actions with a fallback message
}

// GetExecutionStats returns executed-vs-fallback counts.
func (db *DB) GetExecutionStats(ctx context.Context) (ExecutionStats, error) {
	var s ExecutionStats
	err := db.pool.QueryRow(ctx, `
		SELECT
		    COUNT(*) FILTER (WHERE external_ticket_key IS NOT NULL)::int,
		    COUNT(*) FILTER (WHERE fallback_message IS NOT NULL)::int
		FROM executed_actions`).Scan(&s.Executed, &s.Fallbacks)
	if err != nil {
		return s, fmt.Errorf("storage: execution stats: %w", err)
	}
	return s, nil
}

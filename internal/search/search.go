// Package search provides the nearest-neighbor index over work item and
// capability vectors. Postgres stays the source of truth; the index is a
// mirror kept in sync through the search_outbox table.
package search

import "context"

// Neighbor is one nearest-neighbor hit for a work item query.
type Neighbor struct {
	WorkItemID string
	ResolverID string // empty when the item has no resolved edge yet
	Similarity float64
}

// WorkItemPoint is the data mirrored into the work item collection.
type WorkItemPoint struct {
	ID         string
	Service    string
	Severity   string
	ResolverID string
	Embedding  []float32
}

// CapabilityPoint is the data mirrored into the capability collection,
// keyed by (human, service).
type CapabilityPoint struct {
	HumanID   string
	Service   string
	Embedding []float32
}

// Index is the nearest-neighbor operations the platform uses.
// Implementations must be safe for concurrent use.
type Index interface {
	UpsertWorkItem(ctx context.Context, p WorkItemPoint) error
	UpsertCapability(ctx context.Context, p CapabilityPoint) error

	// SimilarWorkItems returns up to limit work items nearest to the vector,
	// restricted to the given service when non-empty.
	SimilarWorkItems(ctx context.Context, embedding []float32, service string, limit int) ([]Neighbor, error)

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}

// SimilarityFromDistance converts a cosine distance in [0, 2] to a
// similarity in [0, 1]. Out-of-range distances are clamped first.
func SimilarityFromDistance(d float64) float64 {
	if d < 0 {
		d = 0
	}
	if d > 2 {
		d = 2
	}
	return 1 - d/2
}

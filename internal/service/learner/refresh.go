package learner

import (
	"context"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/rota/internal/storage"
)

// refreshEdgeLimit bounds how many recent resolutions feed a centroid.
const refreshEdgeLimit = 50

// RefreshCapability rebuilds the capability embedding for (human, service):
// a recency-weighted centroid over the descriptions of recent resolutions,
// normalized to unit length. The stored row is the source of truth; the
// search index mirrors it through the outbox.
func (s *Service) RefreshCapability(ctx context.Context, humanID, service string) error {
	items, err := s.db.GetRecentResolvedItems(ctx, humanID, service, refreshEdgeLimit)
	if err != nil {
		return fmt.Errorf("learner: load resolved items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Description
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("learner: embed resolved items: %w", err)
	}

	// Items arrive newest first, so index order doubles as recency order.
	centroid := weightedCentroid(vecs)
	if centroid == nil {
		return nil
	}

	if err := s.db.UpsertCapability(ctx, humanID, service, pgvector.NewVector(centroid)); err != nil {
		return err
	}

	if s.projector != nil {
		coords, err := s.projector.Project(ctx, centroid)
		if err != nil {
			s.logger.Warn("learner: capability projection failed",
				"human_id", humanID, "service", service, "error", err)
		} else if err := s.db.SetHumanCoords(ctx, humanID, coords); err != nil {
			s.logger.Warn("learner: store capability coords failed",
				"human_id", humanID, "service", service, "error", err)
		}
	}

	if err := s.db.EnqueueOutbox(ctx, storage.OutboxKindCapability, humanID, service); err != nil {
		return fmt.Errorf("learner: enqueue capability sync: %w", err)
	}
	return nil
}

// weightedCentroid combines vectors with weights 1/(i+1) and L2-normalizes
// the result. Vectors whose length disagrees with the first are skipped.
// Returns nil when nothing usable remains or the sum is the zero vector.
func weightedCentroid(vecs []pgvector.Vector) []float32 {
	dims := 0
	for _, v := range vecs {
		if n := len(v.Slice()); n > 0 {
			dims = n
			break
		}
	}
	if dims == 0 {
		return nil
	}

	acc := make([]float64, dims)
	for i, v := range vecs {
		sl := v.Slice()
		if len(sl) != dims {
			continue
		}
		w := 1.0 / float64(i+1)
		for j, x := range sl {
			acc[j] += w * float64(x)
		}
	}

	var norm float64
	for _, x := range acc {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil
	}

	out := make([]float32, dims)
	for j, x := range acc {
		out[j] = float32(x / norm)
	}
	return out
}

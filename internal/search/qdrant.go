package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL                  string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey               string
	WorkItemCollection   string
	CapabilityCollection string
	Dims                 uint64
}

// QdrantIndex implements Index backed by Qdrant over gRPC. Work items and
// capabilities live in separate collections with the same vector size.
type QdrantIndex struct {
	client       *qdrant.Client
	workItems    string
	capabilities string
	dims         uint64
	logger       *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error (pointer-to-error, never nil pointer; inner error may be nil)
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex creates a QdrantIndex and connects via gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:       client,
		workItems:    cfg.WorkItemCollection,
		capabilities: cfg.CapabilityCollection,
		dims:         cfg.Dims,
		logger:       logger,
	}, nil
}

// EnsureCollections creates both collections if missing and ensures payload
// indexes are present. CreateFieldIndex is idempotent on Qdrant, so index
// creation is always attempted to backfill indexes added after a collection
// was first created.
func (q *QdrantIndex) EnsureCollections(ctx context.Context) error {
	if err := q.ensureCollection(ctx, q.workItems, []string{"service", "severity", "work_item_id", "resolver_id"}); err != nil {
		return err
	}
	return q.ensureCollection(ctx, q.capabilities, []string{"service", "human_id"})
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, name string, keywordFields []string) error {
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("search: check collection %q exists: %w", name, err)
	}

	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)

		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dims,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return fmt.Errorf("search: create collection %q: %w", name, err)
		}
		q.logger.Info("qdrant: created collection", "collection", name, "dims", q.dims)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range keywordFields {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("search: ensure index on %q.%q: %w", name, field, err)
		}
	}
	return nil
}

// pointID derives a stable Qdrant point UUID from an entity key. Work item
// and human ids are free-form text, so the key is hashed rather than parsed.
func pointID(key string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String())
}

// UpsertWorkItem mirrors one work item into the index.
func (q *QdrantIndex) UpsertWorkItem(ctx context.Context, p WorkItemPoint) error {
	payload := map[string]any{
		"work_item_id": p.ID,
		"service":      p.Service,
		"severity":     p.Severity,
	}
	if p.ResolverID != "" {
		payload["resolver_id"] = p.ResolverID
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.workItems,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      pointID(p.ID),
			Vectors: qdrant.NewVectorsDense(p.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("search: qdrant upsert work item %s: %w", p.ID, err)
	}
	return nil
}

// UpsertCapability mirrors one (human, service) capability vector. The point
// id is derived from the pair, so refreshes replace the previous vector.
func (q *QdrantIndex) UpsertCapability(ctx context.Context, p CapabilityPoint) error {
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.capabilities,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      pointID(p.HumanID + "|" + p.Service),
			Vectors: qdrant.NewVectorsDense(p.Embedding),
			Payload: qdrant.NewValueMap(map[string]any{
				"human_id": p.HumanID,
				"service":  p.Service,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("search: qdrant upsert capability %s/%s: %w", p.HumanID, p.Service, err)
	}
	return nil
}

// SimilarWorkItems returns the nearest work items to the embedding. Qdrant
// reports cosine similarity in [-1, 1]; it is converted to the platform's
// distance-based similarity in [0, 1].
func (q *QdrantIndex) SimilarWorkItems(ctx context.Context, embedding []float32, service string, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		limit = 20
	}

	var filter *qdrant.Filter
	if service != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{
			qdrant.NewMatch("service", service),
		}}
	}

	fetchLimit := uint64(limit) //nolint:gosec // limit is bounded by callers
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.workItems,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         filter,
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant similar work items: %w", err)
	}

	neighbors := make([]Neighbor, 0, len(scored))
	for _, sp := range scored {
		payload := sp.Payload
		n := Neighbor{
			Similarity: SimilarityFromDistance(1 - float64(sp.Score)),
		}
		if v, ok := payload["work_item_id"]; ok {
			n.WorkItemID = v.GetStringValue()
		}
		if v, ok := payload["resolver_id"]; ok {
			n.ResolverID = v.GetStringValue()
		}
		if n.WorkItemID == "" {
			q.logger.Warn("qdrant: point without work_item_id payload", "point", sp.Id.GetUuid())
			continue
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5 seconds
// to avoid hammering the health endpoint on every request. Concurrent calls
// after cache expiry are deduplicated via singleflight so only one gRPC call
// is made; all waiters share its result.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	// Fast path: return the cached result if fresh.
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}

	// Deduplicate concurrent checks. Use context.Background() instead of the
	// caller's ctx because singleflight reuses the first caller's context —
	// if that caller cancels, all waiters would get a stale error.
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := q.client.HealthCheck(checkCtx)
		if err != nil {
			q.storeHealthErr(fmt.Errorf("search: qdrant unhealthy: %w", err))
		} else {
			q.storeHealthErr(nil)
		}
		q.healthAt.Store(time.Now().UnixNano())
		return q.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so we wrap it in a pointer.
func (q *QdrantIndex) storeHealthErr(err error) {
	q.healthErr.Store(&err)
}

// loadHealthErr loads the cached health error.
func (q *QdrantIndex) loadHealthErr() error {
	v := q.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

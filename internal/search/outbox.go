package search

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/rota/internal/storage"
	"github.com/ashita-ai/rota/internal/telemetry"
)

// OutboxStore is the storage surface the outbox worker uses.
type OutboxStore interface {
	ClaimOutboxBatch(ctx context.Context, batchSize, maxAttempts, lockSeconds int) ([]storage.OutboxEntry, error)
	DeleteOutboxEntries(ctx context.Context, ids []int64) error
	FailOutboxEntries(ctx context.Context, ids []int64, errMsg string) error
	CleanupOutboxDeadLetters(ctx context.Context, maxAttempts int) (int64, error)
	CountOutboxPending(ctx context.Context, maxAttempts int) (int64, error)
	GetWorkItemsForIndex(ctx context.Context, ids []string) ([]storage.WorkItemForIndex, error)
	GetCapability(ctx context.Context, humanID, service string) ([]float32, error)
}

// OutboxWorker polls the search_outbox table and mirrors work item and
// capability vectors into the index.
type OutboxWorker struct {
	store        OutboxStore
	index        Index
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started     atomic.Bool
	cancelLoop  context.CancelFunc
	done        chan struct{}
	once        sync.Once
	lastCleanup time.Time
	drainCh     chan context.Context // carries the drain context to pollLoop for the final poll
}

// NewOutboxWorker creates an outbox worker.
func NewOutboxWorker(store OutboxStore, index Index, logger *slog.Logger, pollInterval time.Duration, batchSize int) *OutboxWorker {
	return &OutboxWorker{
		store:        store,
		index:        index,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *OutboxWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("search outbox: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, processes remaining entries, and blocks
// until done or the context expires. The ctx parameter is passed to the final
// poll so it respects the caller's deadline.
func (w *OutboxWorker) Drain(ctx context.Context) {
	// Send the drain context to pollLoop via channel (race-free).
	// Must be sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("search outbox: drain timed out")
	}
}

func (w *OutboxWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain: prefer the drain context (sent by Drain via channel)
			// so the final poll respects the caller's deadline.
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.processBatch(drainCtx)
			} else {
				// Fallback for direct cancellation without Drain (e.g., tests).
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.processBatch(batchCtx)
			cancel()
		}
	}
}

const (
	maxOutboxAttempts = 10

	// Lock must exceed the 30s batch timeout so a second worker cannot pick
	// up entries whose lock expired while the first is still processing.
	outboxLockSeconds = 60
)

func (w *OutboxWorker) processBatch(ctx context.Context) {
	entries, err := w.store.ClaimOutboxBatch(ctx, w.batchSize, maxOutboxAttempts, outboxLockSeconds)
	if err != nil {
		w.logger.Error("search outbox: claim batch", "error", err)
		return
	}
	if len(entries) > 0 {
		var workItems, capabilities []storage.OutboxEntry
		for _, e := range entries {
			switch e.Kind {
			case storage.OutboxKindWorkItem:
				workItems = append(workItems, e)
			case storage.OutboxKindCapability:
				capabilities = append(capabilities, e)
			default:
				w.logger.Warn("search outbox: unknown kind", "kind", e.Kind, "outbox_id", e.ID)
				workItems = append(workItems, e) // fetch finds nothing; entry is dropped as done
			}
		}
		if len(workItems) > 0 {
			w.processWorkItems(ctx, workItems)
		}
		for _, e := range capabilities {
			w.processCapability(ctx, e)
		}
	}

	if time.Since(w.lastCleanup) > time.Hour {
		w.cleanupDeadLetters(ctx)
		w.lastCleanup = time.Now()
	}
}

func (w *OutboxWorker) processWorkItems(ctx context.Context, entries []storage.OutboxEntry) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.EntityID
	}

	items, err := w.store.GetWorkItemsForIndex(ctx, ids)
	if err != nil {
		w.logger.Error("search outbox: fetch work items", "error", err, "count", len(ids))
		w.failEntries(ctx, entries, err.Error())
		return
	}

	for _, item := range items {
		p := WorkItemPoint{
			ID:        item.ID,
			Service:   item.Service,
			Severity:  item.Severity,
			Embedding: item.Embedding,
		}
		if item.ResolverID != nil {
			p.ResolverID = *item.ResolverID
		}
		if err := w.index.UpsertWorkItem(ctx, p); err != nil {
			w.logger.Error("search outbox: upsert work item", "error", err, "work_item_id", item.ID)
			w.failEntries(ctx, entries, err.Error())
			return
		}
	}

	// Entries whose work item vanished or lost its embedding are done too.
	w.succeedEntries(ctx, entries)
	if len(items) > 0 {
		w.logger.Info("search outbox: work items mirrored", "count", len(items))
	}
}

func (w *OutboxWorker) processCapability(ctx context.Context, e storage.OutboxEntry) {
	emb, err := w.store.GetCapability(ctx, e.EntityID, e.Service)
	if err != nil {
		if err == storage.ErrNotFound {
			// Capability row deleted between enqueue and sync.
			w.succeedEntries(ctx, []storage.OutboxEntry{e})
			return
		}
		w.logger.Error("search outbox: fetch capability", "error", err, "human_id", e.EntityID, "service", e.Service)
		w.failEntries(ctx, []storage.OutboxEntry{e}, err.Error())
		return
	}

	if err := w.index.UpsertCapability(ctx, CapabilityPoint{
		HumanID:   e.EntityID,
		Service:   e.Service,
		Embedding: emb,
	}); err != nil {
		w.logger.Error("search outbox: upsert capability", "error", err, "human_id", e.EntityID, "service", e.Service)
		w.failEntries(ctx, []storage.OutboxEntry{e}, err.Error())
		return
	}
	w.succeedEntries(ctx, []storage.OutboxEntry{e})
}

func (w *OutboxWorker) cleanupDeadLetters(ctx context.Context) {
	deleted, err := w.store.CleanupOutboxDeadLetters(ctx, maxOutboxAttempts)
	if err != nil {
		w.logger.Error("search outbox: cleanup dead-letters failed", "error", err)
		return
	}
	if deleted > 0 {
		w.logger.Info("search outbox: cleaned dead-letter entries", "deleted", deleted)
	}
}

func (w *OutboxWorker) succeedEntries(ctx context.Context, entries []storage.OutboxEntry) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := w.store.DeleteOutboxEntries(ctx, ids); err != nil {
		w.logger.Error("search outbox: delete completed entries", "error", err)
	}
}

func (w *OutboxWorker) failEntries(ctx context.Context, entries []storage.OutboxEntry, errMsg string) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := w.store.FailOutboxEntries(ctx, ids, errMsg); err != nil {
		w.logger.Error("search outbox: update failed entries", "error", err)
	}

	// Log dead-letter entries (attempts >= maxOutboxAttempts after increment).
	for _, e := range entries {
		if e.Attempts+1 >= maxOutboxAttempts {
			w.logger.Warn("search outbox: dead-letter entry",
				"outbox_id", e.ID,
				"kind", e.Kind,
				"entity_id", e.EntityID,
				"attempts", e.Attempts+1,
			)
		}
	}
}

// registerMetrics registers an observable OTEL gauge for outbox depth.
func (w *OutboxWorker) registerMetrics() {
	meter := telemetry.Meter("rota/outbox")

	_, _ = meter.Int64ObservableGauge("rota.outbox.depth",
		metric.WithDescription("Number of pending entries in the search outbox"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			count, err := w.store.CountOutboxPending(ctx, maxOutboxAttempts)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(count)
			return nil
		}),
	)
}

// Package relay carries outcome events from ingest to the learner. Events
// land in a local sqlite spool before the handler returns; a forwarder
// goroutine delivers them in order with capped backoff and checkpoints each
// success. Pending rows survive restarts; the learner's event_id dedupe makes
// redelivery safe.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/telemetry"
)

const (
	pollInterval  = 5 * time.Second
	pruneInterval = time.Hour
	retention     = 24 * time.Hour
	batchSize     = 100

	baseBackoff = time.Second
	maxBackoff  = time.Minute
)

// Deliverer applies an outcome at the learner. Satisfied by the learner
// service directly and by its HTTP client in the split topology.
type Deliverer interface {
	ProcessOutcome(ctx context.Context, o model.Outcome) (model.ProcessOutcomeResult, error)
}

// Relay is the durable outcome forwarder. With a nil spool it degrades to
// direct synchronous delivery.
type Relay struct {
	spool   *Spool
	deliver Deliverer
	logger  *slog.Logger
	nudge   chan struct{}
}

// New creates a relay. spool may be nil for direct-forward mode.
func New(spool *Spool, deliver Deliverer, logger *slog.Logger) *Relay {
	r := &Relay{
		spool:   spool,
		deliver: deliver,
		logger:  logger,
		nudge:   make(chan struct{}, 1),
	}
	if spool != nil {
		meter := telemetry.Meter("rota/relay")
		_, _ = meter.Int64ObservableGauge("rota.relay.spool.depth",
			metric.WithDescription("Undelivered outcome events in the spool"),
			metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
				depth, err := spool.Depth(ctx)
				if err != nil {
					return nil // skip this observation
				}
				o.Observe(depth)
				return nil
			}),
		)
	}
	return r
}

// Enqueue accepts an outcome for delivery. Spooled mode returns once the
// event is durable; direct mode delivers synchronously.
func (r *Relay) Enqueue(ctx context.Context, o model.Outcome) error {
	if r.spool == nil {
		if _, err := r.deliver.ProcessOutcome(ctx, o); err != nil {
			return fmt.Errorf("relay: direct deliver: %w", err)
		}
		return nil
	}
	if err := r.spool.Append(ctx, o); err != nil {
		return err
	}
	select {
	case r.nudge <- struct{}{}:
	default:
	}
	return nil
}

// Run drives the forwarder until ctx is canceled. Pending rows from earlier
// runs are delivered first. No-op in direct-forward mode.
func (r *Relay) Run(ctx context.Context) error {
	if r.spool == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	backoff := baseBackoff
	lastPrune := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		delivered, err := r.drain(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			r.logger.Warn("outcome delivery failed, backing off",
				"backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		default:
			backoff = baseBackoff
			if delivered > 0 {
				r.logger.Debug("outcomes forwarded", "count", delivered)
			}
		}

		if time.Since(lastPrune) >= pruneInterval {
			if n, err := r.spool.Prune(ctx, retention); err != nil {
				r.logger.Warn("spool prune failed", "error", err)
			} else if n > 0 {
				r.logger.Debug("spool pruned", "deleted", n)
			}
			lastPrune = time.Now()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.nudge:
		case <-ticker.C:
		}
	}
}

// drain delivers pending entries in order, checkpointing each one. Stops at
// the first failure so ordering holds across retries.
func (r *Relay) drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		entries, err := r.spool.Pending(ctx, batchSize)
		if err != nil {
			return delivered, err
		}
		if len(entries) == 0 {
			return delivered, nil
		}
		for _, e := range entries {
			if _, err := r.deliver.ProcessOutcome(ctx, e.Outcome); err != nil {
				return delivered, fmt.Errorf("deliver event %s: %w", e.Outcome.EventID, err)
			}
			if err := r.spool.MarkDelivered(ctx, e.Seq); err != nil {
				return delivered, err
			}
			delivered++
		}
		if len(entries) < batchSize {
			return delivered, nil
		}
	}
}

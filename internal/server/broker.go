package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashita-ai/rota/internal/storage"
)

// Broker fans out Postgres LISTEN/NOTIFY decision events to SSE subscribers.
// A background goroutine waits on the dedicated notify connection and pushes
// each payload to every active subscriber channel.
type Broker struct {
	db     *storage.DB
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates an SSE broker. Call Start in a goroutine.
func NewBroker(db *storage.DB, logger *slog.Logger) *Broker {
	return &Broker{
		db:          db,
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Start listens on the decisions channel until ctx is canceled.
func (b *Broker) Start(ctx context.Context) {
	if err := b.db.Listen(ctx, storage.ChannelDecisions); err != nil {
		b.logger.Error("broker: listen decisions", "error", err)
		return
	}
	b.logger.Info("broker: listening for decision notifications",
		"channel", storage.ChannelDecisions)

	for {
		channel, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			continue
		}
		b.broadcast(formatSSE(channel, payload))
	}
}

// Subscribe returns a channel receiving SSE-formatted events. The caller
// must Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast delivers an event to every subscriber. A subscriber with a full
// buffer misses the event rather than blocking the rest.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}

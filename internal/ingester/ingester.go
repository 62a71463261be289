// Package ingester drains the chat fan-out into the wide-column store in
// batches. Deliveries are acknowledged only after their batch is written,
// so a crash before the write redelivers the whole batch; the table's
// primary key makes the replay idempotent.
package ingester

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/bus"
	"github.com/chatpulse/chatpulse/internal/event"
	"github.com/chatpulse/chatpulse/internal/store/cassandra"
)

var (
	persistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_ingester_persisted_total",
		Help: "Chat messages written to storage",
	})
	poisonTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_ingester_poison_total",
		Help: "Undecodable or invalid chat events dropped",
	})
	flushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_ingester_flush_failures_total",
		Help: "Batch writes that failed and were returned to the queue",
	})
	batchSizes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatpulse_ingester_batch_size",
		Help:    "Rows per flushed batch",
		Buckets: prometheus.ExponentialBuckets(1, 4, 6),
	})
)

func init() {
	prometheus.MustRegister(persistedTotal)
	prometheus.MustRegister(poisonTotal)
	prometheus.MustRegister(flushFailures)
	prometheus.MustRegister(batchSizes)
}

// ChatStore is the slice of the storage layer the ingester writes.
type ChatStore interface {
	InsertChats(ctx context.Context, chats []cassandra.Chat) error
}

type pendingChat struct {
	row      cassandra.Chat
	delivery bus.Delivery
}

// Ingester accumulates chat events and flushes them by size or age.
// Driven by a single goroutine in Run; not safe for concurrent use.
type Ingester struct {
	store         ChatStore
	batchSize     int
	flushInterval time.Duration
	logger        zerolog.Logger

	pending []pendingChat
}

func New(store ChatStore, batchSize int, flushInterval time.Duration, logger zerolog.Logger) *Ingester {
	return &Ingester{
		store:         store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		pending:       make([]pendingChat, 0, batchSize),
	}
}

// Run consumes the chat stream until the context ends. The prefetch window
// matches the batch size so the broker keeps a full batch in flight.
// Whatever is pending at shutdown stays unacked and redelivers.
func (i *Ingester) Run(ctx context.Context, consumer bus.Consumer) error {
	deliveries, err := consumer.Consume(ctx, bus.Binding{
		Exchange: bus.ExchangeChat,
		Queue:    bus.QueueIngest,
		Prefetch: i.batchSize,
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(i.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ctx.Err()
			}
			i.add(d)
			if len(i.pending) >= i.batchSize {
				i.flush(ctx)
			}
		case <-ticker.C:
			if len(i.pending) > 0 {
				i.flush(ctx)
			}
		}
	}
}

func (i *Ingester) add(d bus.Delivery) {
	var m event.ChatMessage
	if err := json.Unmarshal(d.Body, &m); err != nil {
		i.dropPoison(d, err)
		return
	}
	if err := m.Validate(); err != nil {
		i.dropPoison(d, err)
		return
	}
	i.pending = append(i.pending, pendingChat{row: cassandra.FromEvent(m), delivery: d})
}

func (i *Ingester) dropPoison(d bus.Delivery, cause error) {
	poisonTotal.Inc()
	i.logger.Warn().Err(cause).Msg("Dropping invalid chat event")
	if err := d.Ack(); err != nil {
		i.logger.Error().Err(err).Msg("Ack failed")
	}
}

// flush writes the pending batch. On success every delivery is acked in
// arrival order; on failure every delivery is nacked so the broker
// redelivers the batch intact.
func (i *Ingester) flush(ctx context.Context) {
	rows := make([]cassandra.Chat, len(i.pending))
	for idx, p := range i.pending {
		rows[idx] = p.row
	}

	batchSizes.Observe(float64(len(rows)))
	if err := i.store.InsertChats(ctx, rows); err != nil {
		flushFailures.Inc()
		i.logger.Error().Err(err).
			Int("rows", len(rows)).
			Msg("Chat batch write failed, returning batch to the queue")
		for _, p := range i.pending {
			if err := p.delivery.Nack(); err != nil {
				i.logger.Error().Err(err).Msg("Nack failed")
			}
		}
	} else {
		persistedTotal.Add(float64(len(rows)))
		for _, p := range i.pending {
			if err := p.delivery.Ack(); err != nil {
				i.logger.Error().Err(err).Msg("Ack failed")
			}
		}
	}
	i.pending = i.pending[:0]
}

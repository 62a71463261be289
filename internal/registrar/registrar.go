// Package registrar maintains the relational registry of every streamer
// ever seen live. It consumes the broadcaster fan-out and inserts ids it
// has not seen before; a bloom filter warmed from the registry at startup
// keeps the common case (an already-known streamer) free of database
// round-trips.
package registrar

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/bus"
	"github.com/chatpulse/chatpulse/internal/event"
)

// Filter sizing: an order of magnitude above the platform's streamer
// population, at one part per thousand false positives. A false positive
// leaves a streamer unregistered, which only costs a missing registry row.
const (
	bloomCapacity = 10_000_000
	bloomFPRate   = 0.001
)

var (
	registeredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_registrar_registered_total",
		Help: "Streamers inserted into the registry",
	})
	knownSkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_registrar_known_skips_total",
		Help: "Broadcaster events skipped because the id was already known",
	})
	poisonTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_registrar_poison_total",
		Help: "Undecodable broadcaster events dropped",
	})
)

func init() {
	prometheus.MustRegister(registeredTotal)
	prometheus.MustRegister(knownSkipsTotal)
	prometheus.MustRegister(poisonTotal)
}

// Store is the slice of the relational registry the registrar uses.
type Store interface {
	InsertStreamers(ctx context.Context, ids []int64) error
	StreamerIDs(ctx context.Context) ([]int64, error)
}

// Registrar is driven by a single consumer goroutine; the filter is not
// guarded by a lock.
type Registrar struct {
	store  Store
	filter *bloom.BloomFilter
	logger zerolog.Logger
}

// New warms the bloom filter from the registry so a restart does not
// re-insert the whole known population.
func New(ctx context.Context, store Store, logger zerolog.Logger) (*Registrar, error) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPRate)
	ids, err := store.StreamerIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		filter.Add(filterKey(id))
	}
	logger.Info().Int("known_streamers", len(ids)).Msg("Bloom filter warmed from registry")
	return &Registrar{store: store, filter: filter, logger: logger}, nil
}

func filterKey(id int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(id))
}

// Run consumes the broadcaster stream until the context ends.
func (r *Registrar) Run(ctx context.Context, consumer bus.Consumer) error {
	deliveries, err := consumer.Consume(ctx, bus.Binding{
		Exchange: bus.ExchangeBroadcasters,
		Queue:    bus.QueueRegistrar,
		Prefetch: 1,
	})
	if err != nil {
		return err
	}
	for d := range deliveries {
		r.handle(ctx, d)
	}
	return ctx.Err()
}

func (r *Registrar) handle(ctx context.Context, d bus.Delivery) {
	var ev event.BroadcasterEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		poisonTotal.Inc()
		r.logger.Warn().Err(err).Msg("Dropping undecodable broadcaster event")
		r.ack(d)
		return
	}

	if r.filter.Test(filterKey(ev.BroadcasterID)) {
		knownSkipsTotal.Inc()
		r.ack(d)
		return
	}

	if err := r.store.InsertStreamers(ctx, []int64{ev.BroadcasterID}); err != nil {
		r.logger.Error().Err(err).
			Int64("broadcaster_id", ev.BroadcasterID).
			Msg("Registry insert failed, leaving event for redelivery")
		if err := d.Nack(); err != nil {
			r.logger.Error().Err(err).Msg("Nack failed")
		}
		return
	}

	r.filter.Add(filterKey(ev.BroadcasterID))
	registeredTotal.Inc()
	r.logger.Debug().
		Int64("broadcaster_id", ev.BroadcasterID).
		Str("login", ev.Login).
		Msg("Registered new streamer")
	r.ack(d)
}

func (r *Registrar) ack(d bus.Delivery) {
	if err := d.Ack(); err != nil {
		r.logger.Error().Err(err).Msg("Ack failed")
	}
}

// Package clipper turns anomaly events into platform clips. The platform
// centers a clip on the moment of the request, so the worker only acts on
// fresh anomalies and spaces the create and fetch calls to let the clip
// materialize before its metadata is read.
package clipper

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/bus"
	"github.com/chatpulse/chatpulse/internal/event"
	"github.com/chatpulse/chatpulse/internal/platform"
	"github.com/chatpulse/chatpulse/internal/store/cassandra"
	"github.com/chatpulse/chatpulse/internal/work"
)

var (
	anomaliesConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_clipper_anomalies_consumed_total",
		Help: "Anomaly events read from the queue",
	})
	staleTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_clipper_stale_total",
		Help: "Anomalies dropped for being older than the freshness window",
	})
	poisonTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_clipper_poison_total",
		Help: "Undecodable anomaly events dropped",
	})
	clipsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_clipper_clips_stored_total",
		Help: "Clips created, fetched and written to storage",
	})
	clipFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_clipper_failures_total",
		Help: "Abandoned clip tasks by stage",
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(anomaliesConsumed)
	prometheus.MustRegister(staleTotal)
	prometheus.MustRegister(poisonTotal)
	prometheus.MustRegister(clipsStored)
	prometheus.MustRegister(clipFailures)
}

// ClipStore persists finished clips. *cassandra.Store implements it.
type ClipStore interface {
	InsertClip(ctx context.Context, clip cassandra.Clip) error
}

// Config tunes the clip timing around the platform's behavior.
type Config struct {
	// FreshnessWindow is the maximum anomaly age still worth clipping.
	// The platform clips the very recent past only.
	FreshnessWindow time.Duration
	// CreateDelay runs before the clip request so the surge's peak sits
	// inside the clipped interval.
	CreateDelay time.Duration
	// FetchDelay runs between creating the clip and reading its metadata;
	// the platform materializes clips asynchronously.
	FetchDelay time.Duration
}

type Clipper struct {
	clips  platform.Clipper
	store  ClipStore
	pool   *work.Pool
	cfg    Config
	logger zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a worker around an already started pool; the caller owns the
// pool's lifecycle.
func New(clips platform.Clipper, store ClipStore, pool *work.Pool, cfg Config, logger zerolog.Logger) *Clipper {
	return &Clipper{
		clips:  clips,
		store:  store,
		pool:   pool,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the anomaly queue until the context ends.
func (c *Clipper) Run(ctx context.Context, consumer bus.Consumer) error {
	deliveries, err := consumer.Consume(ctx, bus.Binding{
		Exchange: bus.ExchangeAnomalies,
		Queue:    bus.QueueClipper,
		Prefetch: 1,
	})
	if err != nil {
		return err
	}
	for delivery := range deliveries {
		c.handle(ctx, delivery)
	}
	return ctx.Err()
}

// handle schedules one clip task. The delivery is acked as soon as the
// task is scheduled or the event is judged unusable; a failed clip is not
// redelivered, the moment it would capture is already gone.
func (c *Clipper) handle(ctx context.Context, delivery bus.Delivery) {
	var ev event.AnomalyEvent
	if err := json.Unmarshal(delivery.Body, &ev); err != nil {
		poisonTotal.Inc()
		c.logger.Warn().Err(err).Msg("Dropping invalid anomaly event")
		c.ack(delivery)
		return
	}
	if ev.BroadcasterID <= 0 || ev.Timestamp <= 0 {
		poisonTotal.Inc()
		c.logger.Warn().Int64("broadcaster_id", ev.BroadcasterID).Int64("timestamp", ev.Timestamp).Msg("Dropping malformed anomaly event")
		c.ack(delivery)
		return
	}
	anomaliesConsumed.Inc()

	age := c.now().Unix() - ev.Timestamp
	if age > int64(c.cfg.FreshnessWindow/time.Second) {
		staleTotal.Inc()
		c.logger.Warn().Int64("broadcaster_id", ev.BroadcasterID).Int64("age_seconds", age).Msg("Anomaly too old to clip, dropping")
		c.ack(delivery)
		return
	}

	c.pool.Submit(func() {
		c.makeClip(ctx, ev)
	})
	c.ack(delivery)
}

// makeClip runs the deferred create-wait-fetch-store sequence. Every step
// failure abandons the task.
func (c *Clipper) makeClip(ctx context.Context, ev event.AnomalyEvent) {
	logger := c.logger.With().
		Int64("broadcaster_id", ev.BroadcasterID).
		Int64("anomaly_ts", ev.Timestamp).
		Logger()

	if err := c.sleep(ctx, c.cfg.CreateDelay); err != nil {
		return
	}
	clipID, err := c.clips.CreateClip(ctx, ev.BroadcasterID)
	if err != nil {
		clipFailures.WithLabelValues("create").Inc()
		logger.Warn().Err(err).Msg("Clip creation failed")
		return
	}

	if err := c.sleep(ctx, c.cfg.FetchDelay); err != nil {
		return
	}
	clip, err := c.clips.GetClip(ctx, clipID)
	if err != nil {
		clipFailures.WithLabelValues("fetch").Inc()
		logger.Warn().Err(err).Str("clip_id", clipID).Msg("Clip metadata fetch failed")
		return
	}

	row := cassandra.Clip{
		Timestamp:    ev.Timestamp,
		ClipID:       clip.ID,
		EmbedURL:     clip.EmbedURL,
		ThumbnailURL: clip.ThumbnailURL,
	}
	if err := c.store.InsertClip(ctx, row); err != nil {
		clipFailures.WithLabelValues("store").Inc()
		logger.Error().Err(err).Str("clip_id", clip.ID).Msg("Clip insert failed")
		return
	}

	clipsStored.Inc()
	logger.Info().Str("clip_id", clip.ID).Msg("Clip stored")
}

func (c *Clipper) ack(delivery bus.Delivery) {
	if err := delivery.Ack(); err != nil {
		c.logger.Error().Err(err).Msg("Ack failed")
	}
}

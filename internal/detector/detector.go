// Package detector watches the chat fan-out for per-broadcaster message
// surges. Each broadcaster gets a time-bucketed counter; when a closed
// bucket's count lands far outside the historical distribution, the
// detector publishes an anomaly event for the clip worker, throttled by a
// per-broadcaster cooldown.
package detector

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/bus"
	"github.com/chatpulse/chatpulse/internal/event"
	"github.com/chatpulse/chatpulse/internal/stats"
)

// Bot commands ("!so", "!uptime") arrive in bursts that track moderator
// activity, not audience excitement, so they never reach the counters.
var commandPattern = regexp.MustCompile(`^![A-Za-z0-9]+`)

var (
	processedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_detector_processed_total",
		Help: "Chat events counted into detector state",
	})
	commandsFiltered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_detector_commands_filtered_total",
		Help: "Chat events dropped by the command filter",
	})
	poisonTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_detector_poison_total",
		Help: "Undecodable chat events dropped",
	})
	anomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_detector_anomalies_total",
		Help: "Anomalies published, by broadcaster",
	}, []string{"broadcaster_id"})
	suppressedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_detector_suppressed_total",
		Help: "Anomalies suppressed by the cooldown",
	})
	statesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatpulse_detector_states_active",
		Help: "Broadcaster detector states currently held",
	})
)

func init() {
	prometheus.MustRegister(processedTotal)
	prometheus.MustRegister(commandsFiltered)
	prometheus.MustRegister(poisonTotal)
	prometheus.MustRegister(anomaliesTotal)
	prometheus.MustRegister(suppressedTotal)
	prometheus.MustRegister(statesActive)
}

// Config tunes the detector. All fields must be positive.
type Config struct {
	// BucketSizeSeconds is the counting bucket width.
	BucketSizeSeconds int64
	// ThresholdSigma is the anomaly threshold in standard deviations.
	ThresholdSigma float64
	// MinBuckets gates anomaly evaluation until the distribution has more
	// than this many closed buckets.
	MinBuckets int64
	// CooldownSeconds is the minimum spacing between anomalies for one
	// broadcaster.
	CooldownSeconds int64
	// GapResetBuckets drops a broadcaster's history after a silence of
	// this many buckets.
	GapResetBuckets int64
	// StateMax and StateTTL bound the per-broadcaster state cache.
	StateMax int
	StateTTL time.Duration
}

// state is one broadcaster's detector state. The cooldown clock lives here
// so it is evicted together with the counters.
type state struct {
	buckets     *stats.TimeBuckets
	lastAnomaly int64
}

// Detector is driven by a single consumer goroutine.
type Detector struct {
	publisher bus.Publisher
	states    *expirable.LRU[int64, *state]
	cfg       Config
	logger    zerolog.Logger
}

func New(publisher bus.Publisher, cfg Config, logger zerolog.Logger) *Detector {
	return &Detector{
		publisher: publisher,
		states:    expirable.NewLRU[int64, *state](cfg.StateMax, nil, cfg.StateTTL),
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes the chat stream until the context ends.
func (d *Detector) Run(ctx context.Context, consumer bus.Consumer) error {
	deliveries, err := consumer.Consume(ctx, bus.Binding{
		Exchange: bus.ExchangeChat,
		Queue:    bus.QueueDetector,
		Prefetch: 1,
	})
	if err != nil {
		return err
	}
	for delivery := range deliveries {
		d.handle(ctx, delivery)
	}
	return ctx.Err()
}

// handle processes one chat event. The delivery is acked only after every
// side effect succeeded; a failed anomaly publish leaves it unacked so the
// broker redelivers it.
func (d *Detector) handle(ctx context.Context, delivery bus.Delivery) {
	var m event.ChatMessage
	if err := json.Unmarshal(delivery.Body, &m); err != nil {
		d.dropPoison(delivery, err)
		return
	}
	if err := m.Validate(); err != nil {
		d.dropPoison(delivery, err)
		return
	}
	text, err := event.ExtractText(m.Message)
	if err != nil {
		d.dropPoison(delivery, err)
		return
	}

	if commandPattern.MatchString(text) {
		commandsFiltered.Inc()
		d.ack(delivery)
		return
	}

	tsS := m.Timestamp / 1000
	st := d.stateFor(m.BroadcasterID)
	st.buckets.Append(tsS)
	processedTotal.Inc()

	if st.buckets.Size() > d.cfg.MinBuckets && st.buckets.CheckForAnomaly() {
		if tsS-st.lastAnomaly > d.cfg.CooldownSeconds {
			if err := d.publishAnomaly(ctx, m.BroadcasterID, tsS); err != nil {
				d.logger.Error().Err(err).
					Int64("broadcaster_id", m.BroadcasterID).
					Msg("Anomaly publish failed, leaving chat event unacked")
				return
			}
			st.lastAnomaly = tsS
		} else {
			suppressedTotal.Inc()
			d.logger.Debug().
				Int64("broadcaster_id", m.BroadcasterID).
				Int64("timestamp", tsS).
				Msg("Anomaly suppressed by cooldown")
		}
	}

	d.ack(delivery)
}

func (d *Detector) stateFor(broadcasterID int64) *state {
	if st, ok := d.states.Get(broadcasterID); ok {
		return st
	}
	st := &state{
		buckets: stats.NewTimeBuckets(stats.TimeBucketsConfig{
			BucketSize:      d.cfg.BucketSizeSeconds,
			ThresholdSigma:  d.cfg.ThresholdSigma,
			GapResetBuckets: d.cfg.GapResetBuckets,
		}),
	}
	d.states.Add(broadcasterID, st)
	statesActive.Set(float64(d.states.Len()))
	return st
}

func (d *Detector) publishAnomaly(ctx context.Context, broadcasterID, tsS int64) error {
	body, err := json.Marshal(event.AnomalyEvent{
		BroadcasterID: broadcasterID,
		Timestamp:     tsS,
	})
	if err != nil {
		return err
	}
	if err := d.publisher.Publish(ctx, bus.ExchangeAnomalies, body); err != nil {
		return err
	}
	anomaliesTotal.WithLabelValues(strconv.FormatInt(broadcasterID, 10)).Inc()
	d.logger.Info().
		Int64("broadcaster_id", broadcasterID).
		Int64("timestamp", tsS).
		Msg("Chat surge detected")
	return nil
}

func (d *Detector) dropPoison(delivery bus.Delivery, cause error) {
	poisonTotal.Inc()
	d.logger.Warn().Err(cause).Msg("Dropping invalid chat event")
	d.ack(delivery)
}

func (d *Detector) ack(delivery bus.Delivery) {
	if err := delivery.Ack(); err != nil {
		d.logger.Error().Err(err).Msg("Ack failed")
	}
}

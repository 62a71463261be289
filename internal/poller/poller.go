// Package poller publishes the currently-live broadcaster roster on a
// schedule. Each run lists the top live streams, filters out channels
// that reject clip creation, and fans the rest out to the bus in
// platform order.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/bus"
	"github.com/chatpulse/chatpulse/internal/event"
	"github.com/chatpulse/chatpulse/internal/platform"
)

var (
	pollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_poller_polls_total",
		Help: "Completed poll runs",
	})
	pollsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_poller_polls_skipped_total",
		Help: "Poll ticks skipped because the previous run was still going",
	})
	pollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_poller_errors_total",
		Help: "Poll runs aborted by a platform or publish error",
	})
	probesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatpulse_poller_clip_probes_total",
		Help: "Clip-capability probes by result",
	}, []string{"result"})
	skippedNonClippable = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_poller_skipped_non_clippable_total",
		Help: "Live streams dropped because their channel rejects clips",
	})
	broadcastersPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_poller_broadcasters_published_total",
		Help: "Broadcaster events published to the fanout",
	})
)

func init() {
	prometheus.MustRegister(pollsTotal)
	prometheus.MustRegister(pollsSkipped)
	prometheus.MustRegister(pollErrors)
	prometheus.MustRegister(probesTotal)
	prometheus.MustRegister(skippedNonClippable)
	prometheus.MustRegister(broadcastersPublished)
}

// Config tunes the poll cadence and roster size.
type Config struct {
	// Interval between poll runs.
	Interval time.Duration
	// TopN bounds how many live streams one run lists.
	TopN int
	// ProbeTTL is how long a clip-capability verdict is remembered.
	ProbeTTL time.Duration
}

type Poller struct {
	roster    platform.Roster
	clipper   platform.Clipper
	publisher bus.Publisher
	memo      *gocache.Cache
	cfg       Config
	logger    zerolog.Logger

	// running is try-locked per tick so a slow poll never stacks.
	running sync.Mutex
}

func New(roster platform.Roster, clipper platform.Clipper, publisher bus.Publisher, cfg Config, logger zerolog.Logger) *Poller {
	return &Poller{
		roster:    roster,
		clipper:   clipper,
		publisher: publisher,
		memo:      gocache.New(cfg.ProbeTTL, 10*time.Minute),
		cfg:       cfg,
		logger:    logger,
	}
}

// Run polls once immediately, then on the configured schedule until the
// context ends.
func (p *Poller) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", p.cfg.Interval), func() {
		p.poll(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}

	p.poll(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// poll lists the live roster and publishes every clippable broadcaster.
// Rank is the position among published events, so the listener's cap
// counts only channels it could actually join.
func (p *Poller) poll(ctx context.Context) {
	if !p.running.TryLock() {
		pollsSkipped.Inc()
		p.logger.Warn().Msg("Previous poll still running, skipping tick")
		return
	}
	defer p.running.Unlock()

	streams, err := p.roster.ListLiveStreams(ctx, p.cfg.TopN)
	if err != nil {
		pollErrors.Inc()
		p.logger.Error().Err(err).Msg("Live stream listing failed")
		return
	}

	rank := 0
	for _, stream := range streams {
		if !p.clippable(ctx, stream.BroadcasterID, stream.Login) {
			skippedNonClippable.Inc()
			continue
		}
		body, err := json.Marshal(event.BroadcasterEvent{
			BroadcasterID: stream.BroadcasterID,
			Login:         stream.Login,
			Rank:          rank,
		})
		if err != nil {
			pollErrors.Inc()
			p.logger.Error().Err(err).Int64("broadcaster_id", stream.BroadcasterID).Msg("Broadcaster event marshal failed")
			return
		}
		if err := p.publisher.Publish(ctx, bus.ExchangeBroadcasters, body); err != nil {
			pollErrors.Inc()
			p.logger.Error().Err(err).Int64("broadcaster_id", stream.BroadcasterID).Msg("Broadcaster publish failed, aborting run")
			return
		}
		broadcastersPublished.Inc()
		rank++
	}

	pollsTotal.Inc()
	p.logger.Info().Int("live", len(streams)).Int("published", rank).Msg("Poll complete")
}

// clippable reports whether the broadcaster's channel accepts clip
// creation, probing with a real clip request the first time an id is
// seen and remembering the verdict.
func (p *Poller) clippable(ctx context.Context, broadcasterID int64, login string) bool {
	key := strconv.FormatInt(broadcasterID, 10)
	if verdict, ok := p.memo.Get(key); ok {
		return verdict.(bool)
	}

	_, err := p.clipper.CreateClip(ctx, broadcasterID)
	allowed := err == nil
	switch {
	case allowed:
		probesTotal.WithLabelValues("clippable").Inc()
	case errors.Is(err, platform.ErrClippingDisabled):
		probesTotal.WithLabelValues("disabled").Inc()
		p.logger.Info().Int64("broadcaster_id", broadcasterID).Str("login", login).Msg("Channel has clips disabled")
	default:
		probesTotal.WithLabelValues("error").Inc()
		p.logger.Warn().Err(err).Int64("broadcaster_id", broadcasterID).Str("login", login).Msg("Clip probe failed, treating channel as non-clippable")
	}

	p.memo.Set(key, allowed, gocache.DefaultExpiration)
	return allowed
}

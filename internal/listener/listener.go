// Package listener keeps the platform chat session aligned with the set
// of live broadcasters and republishes every chat line to the bus.
//
// Broadcaster events from the poller drive admissions: new top-ranked
// broadcasters are joined once the rate limiter grants a token, and a
// Redis key with a TTL marks each joined login. The key's expiry event is
// the offline signal that triggers leaving the room.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/bus"
	"github.com/chatpulse/chatpulse/internal/event"
	"github.com/chatpulse/chatpulse/internal/limiter"
	"github.com/chatpulse/chatpulse/internal/platform"
)

// admissionCallerID is the identity this process presents to the rate
// limiter. All joins share one window budget, which is the point: the
// platform caps JOIN throughput per connection, not per broadcaster.
const admissionCallerID = 1

var (
	joinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_listener_joins_total",
		Help: "Chat rooms joined",
	})
	evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_listener_evictions_total",
		Help: "Chat rooms left after presence expiry",
	})
	admissionTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_listener_admission_timeouts_total",
		Help: "Broadcasters skipped because no token arrived in time",
	})
	skippedByRank = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_listener_skipped_by_rank_total",
		Help: "Broadcasters skipped for ranking below the listen cap",
	})
	poisonTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_listener_poison_total",
		Help: "Undecodable broadcaster events dropped",
	})
	invalidMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_listener_invalid_messages_total",
		Help: "Chat lines dropped by validation",
	})
	messagesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatpulse_listener_messages_published_total",
		Help: "Chat events published to the chat exchange",
	})
	onlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatpulse_listener_online_broadcasters",
		Help: "Broadcasters currently joined by this process",
	})
)

func init() {
	prometheus.MustRegister(joinsTotal)
	prometheus.MustRegister(evictionsTotal)
	prometheus.MustRegister(admissionTimeouts)
	prometheus.MustRegister(skippedByRank)
	prometheus.MustRegister(poisonTotal)
	prometheus.MustRegister(invalidMessages)
	prometheus.MustRegister(messagesPublished)
	prometheus.MustRegister(onlineGauge)
}

// TokenSource grants admission tokens. *limiter.Client implements it.
type TokenSource interface {
	WaitForToken(ctx context.Context, id int64, timeout time.Duration) error
}

// PresenceCache tracks joined logins with a TTL and surfaces their expiry.
// *cache.Presence implements it.
type PresenceCache interface {
	SetWithTTL(ctx context.Context, login string, ttl time.Duration) error
	Refresh(ctx context.Context, login string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, login string) error
	SubscribeExpired(ctx context.Context) (<-chan string, error)
}

// Config tunes admission.
type Config struct {
	// ListenCap admits only broadcasters ranked strictly below it.
	ListenCap int
	// AdmissionTimeout bounds the once-per-second token polling.
	AdmissionTimeout time.Duration
	// OnlineTTL is the presence key lifetime; poller ticks refresh it.
	OnlineTTL time.Duration
}

type Listener struct {
	chat      platform.ChatSocket
	publisher bus.Publisher
	cache     PresenceCache
	tokens    TokenSource
	cfg       Config
	logger    zerolog.Logger

	mu     sync.Mutex
	online map[string]struct{}
}

func New(chat platform.ChatSocket, publisher bus.Publisher, cache PresenceCache, tokens TokenSource, cfg Config, logger zerolog.Logger) *Listener {
	return &Listener{
		chat:      chat,
		publisher: publisher,
		cache:     cache,
		tokens:    tokens,
		cfg:       cfg,
		logger:    logger,
		online:    make(map[string]struct{}),
	}
}

// Run wires the chat message path, starts the eviction subscriber and
// consumes broadcaster events until the context ends.
func (l *Listener) Run(ctx context.Context, consumer bus.Consumer) error {
	l.chat.OnMessage(func(pm platform.PrivateMessage) {
		l.publishChat(ctx, pm)
	})

	expired, err := l.cache.SubscribeExpired(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to presence expiry: %w", err)
	}
	go l.evictLoop(ctx, expired)

	deliveries, err := consumer.Consume(ctx, bus.Binding{
		Exchange: bus.ExchangeBroadcasters,
		Queue:    bus.QueueListenerJoin,
		Prefetch: 1,
	})
	if err != nil {
		return err
	}
	for delivery := range deliveries {
		l.handle(ctx, delivery)
	}
	return ctx.Err()
}

// handle admits one broadcaster event. Transient failures (limiter
// transport, redis) leave the delivery unacked for redelivery; platform
// join failures are recovered locally and acked.
func (l *Listener) handle(ctx context.Context, delivery bus.Delivery) {
	var ev event.BroadcasterEvent
	if err := json.Unmarshal(delivery.Body, &ev); err != nil {
		poisonTotal.Inc()
		l.logger.Warn().Err(err).Msg("Dropping invalid broadcaster event")
		l.ack(delivery)
		return
	}
	login := strings.ToLower(ev.Login)
	if login == "" {
		poisonTotal.Inc()
		l.logger.Warn().Int64("broadcaster_id", ev.BroadcasterID).Msg("Dropping broadcaster event without login")
		l.ack(delivery)
		return
	}

	if l.isOnline(login) {
		l.refreshPresence(ctx, login)
		l.ack(delivery)
		return
	}

	if ev.Rank >= l.cfg.ListenCap {
		skippedByRank.Inc()
		l.ack(delivery)
		return
	}

	err := l.tokens.WaitForToken(ctx, admissionCallerID, l.cfg.AdmissionTimeout)
	if errors.Is(err, limiter.ErrAdmissionTimeout) {
		admissionTimeouts.Inc()
		l.logger.Warn().Str("login", login).Int("rank", ev.Rank).Msg("Admission timed out, skipping broadcaster")
		l.ack(delivery)
		return
	}
	if err != nil {
		l.logger.Error().Err(err).Str("login", login).Msg("Rate limiter unavailable, leaving event for redelivery")
		return
	}

	l.setOnline(login, true)
	if err := l.cache.SetWithTTL(ctx, login, l.cfg.OnlineTTL); err != nil {
		l.setOnline(login, false)
		l.logger.Error().Err(err).Str("login", login).Msg("Presence write failed, leaving event for redelivery")
		return
	}
	if err := l.chat.JoinRoom(ctx, login); err != nil {
		l.setOnline(login, false)
		if derr := l.cache.Delete(ctx, login); derr != nil {
			l.logger.Warn().Err(derr).Str("login", login).Msg("Presence rollback failed")
		}
		l.logger.Warn().Err(err).Str("login", login).Msg("Join failed, skipping broadcaster")
		l.ack(delivery)
		return
	}

	joinsTotal.Inc()
	l.logger.Info().Str("login", login).Int64("broadcaster_id", ev.BroadcasterID).Int("rank", ev.Rank).Msg("Joined broadcaster chat")
	// JoinRoom can sit on a slow socket write. Top the key back up so the
	// TTL clock starts at the join, not at the presence write.
	l.refreshPresence(ctx, login)
	l.ack(delivery)
}

// evictLoop leaves rooms whose presence keys expired.
func (l *Listener) evictLoop(ctx context.Context, expired <-chan string) {
	for login := range expired {
		if !l.isOnline(login) {
			continue
		}
		l.setOnline(login, false)
		evictionsTotal.Inc()
		if err := l.chat.LeaveRoom(ctx, login); err != nil {
			l.logger.Warn().Err(err).Str("login", login).Msg("Leave failed after presence expiry")
			continue
		}
		l.logger.Info().Str("login", login).Msg("Broadcaster went offline, left chat")
	}
}

// publishChat normalizes one inbound chat line and publishes it to the
// chat exchange. It runs on the chat session's read-loop goroutine.
func (l *Listener) publishChat(ctx context.Context, pm platform.PrivateMessage) {
	msg, err := normalizeMessage(pm)
	if err != nil {
		invalidMessages.Inc()
		l.logger.Warn().Err(err).Str("channel", pm.Channel).Msg("Dropping invalid chat line")
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		invalidMessages.Inc()
		l.logger.Error().Err(err).Msg("Chat event marshal failed")
		return
	}
	if err := l.publisher.Publish(ctx, bus.ExchangeChat, body); err != nil {
		l.logger.Error().Err(err).Str("channel", pm.Channel).Msg("Chat publish failed, line dropped")
		return
	}
	messagesPublished.Inc()
}

// normalizeMessage turns a platform chat line into the wire ChatMessage.
// The broadcaster id is the room id, the timestamp the platform's
// tmi-sent-ts.
func normalizeMessage(pm platform.PrivateMessage) (event.ChatMessage, error) {
	roomID, err := strconv.ParseInt(pm.Room.RoomID, 10, 64)
	if err != nil {
		return event.ChatMessage{}, fmt.Errorf("room id %q is not numeric", pm.Room.RoomID)
	}
	if pm.User.Name == "" {
		return event.ChatMessage{}, errors.New("chat line has no sender")
	}

	payload, err := event.MessagePayload{
		Text:                       pm.Text,
		IsMe:                       pm.IsMe,
		Bits:                       pm.Bits,
		SentTimestamp:              pm.SentTimestamp,
		ReplyParentMsgID:           pm.ReplyParentMsgID,
		ReplyParentUserID:          pm.ReplyParentUserID,
		ReplyParentUserLogin:       pm.ReplyParentUserLogin,
		ReplyParentDisplayName:     pm.ReplyParentDisplayName,
		ReplyParentMsgBody:         pm.ReplyParentMsgBody,
		ReplyThreadParentMsgID:     pm.ReplyThreadParentMsgID,
		ReplyThreadParentUserLogin: pm.ReplyThreadParentUserLogin,
		Emotes:                     pm.Emotes,
		ID:                         pm.ID,
		Room:                       pm.Room,
		User:                       pm.User,
	}.Serialize()
	if err != nil {
		return event.ChatMessage{}, err
	}

	msg := event.ChatMessage{
		BroadcasterID: roomID,
		Timestamp:     pm.SentTimestamp,
		MessageID:     pm.ID,
		Message:       payload,
	}
	if err := msg.Validate(); err != nil {
		return event.ChatMessage{}, err
	}
	return msg, nil
}

func (l *Listener) isOnline(login string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.online[login]
	return ok
}

func (l *Listener) setOnline(login string, online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if online {
		l.online[login] = struct{}{}
	} else {
		delete(l.online, login)
	}
	onlineGauge.Set(float64(len(l.online)))
}

// refreshPresence extends the TTL for a login this process already
// tracks. A vanished key is re-created: the expiry event may still be in
// flight, and the eviction path will reconcile.
func (l *Listener) refreshPresence(ctx context.Context, login string) {
	ok, err := l.cache.Refresh(ctx, login, l.cfg.OnlineTTL)
	if err != nil {
		l.logger.Warn().Err(err).Str("login", login).Msg("Presence refresh failed")
		return
	}
	if !ok {
		if err := l.cache.SetWithTTL(ctx, login, l.cfg.OnlineTTL); err != nil {
			l.logger.Warn().Err(err).Str("login", login).Msg("Presence re-create failed")
		}
	}
}

func (l *Listener) ack(delivery bus.Delivery) {
	if err := delivery.Ack(); err != nil {
		l.logger.Error().Err(err).Msg("Ack failed")
	}
}

// Package cache tracks which broadcaster chats this process has joined,
// backed by Redis keys with a TTL. A key that is not refreshed expires on
// the server, and the keyspace expiry event is how the listener learns a
// broadcaster has gone offline.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "online:"

// Presence is a thin wrapper over one Redis database. Safe for concurrent
// use; the underlying client pools connections.
type Presence struct {
	client *redis.Client
	db     int
	logger zerolog.Logger
}

func NewPresence(addr, password string, db int, logger zerolog.Logger) *Presence {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Presence{client: client, db: db, logger: logger}
}

func (p *Presence) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Exists reports whether the login is currently marked online.
func (p *Presence) Exists(ctx context.Context, login string) (bool, error) {
	n, err := p.client.Exists(ctx, keyPrefix+login).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", login, err)
	}
	return n > 0, nil
}

// SetWithTTL marks the login online for the given duration.
func (p *Presence) SetWithTTL(ctx context.Context, login string, ttl time.Duration) error {
	if err := p.client.Set(ctx, keyPrefix+login, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", login, err)
	}
	return nil
}

// Refresh extends the login's TTL. Returns false when the key has already
// expired; the caller should treat the login as offline.
func (p *Presence) Refresh(ctx context.Context, login string, ttl time.Duration) (bool, error) {
	ok, err := p.client.Expire(ctx, keyPrefix+login, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis expire %s: %w", login, err)
	}
	return ok, nil
}

// Delete removes the login's presence key without waiting for expiry.
func (p *Presence) Delete(ctx context.Context, login string) error {
	if err := p.client.Del(ctx, keyPrefix+login).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", login, err)
	}
	return nil
}

// SubscribeExpired returns a channel of logins whose presence keys have
// expired. Keyspace expiry notifications are enabled best-effort: managed
// Redis deployments often reject CONFIG SET, and are expected to have the
// flag set at the server instead.
//
// The channel closes when the context is cancelled or the connection is
// lost for good.
func (p *Presence) SubscribeExpired(ctx context.Context) (<-chan string, error) {
	if err := p.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		p.logger.Warn().Err(err).Msg("CONFIG SET notify-keyspace-events rejected, assuming it is preconfigured")
	}

	pattern := fmt.Sprintf("__keyevent@%d__:expired", p.db)
	pubsub := p.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis psubscribe %s: %w", pattern, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				login, matched := strings.CutPrefix(msg.Payload, keyPrefix)
				if !matched {
					continue
				}
				select {
				case out <- login:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *Presence) Close() error {
	return p.client.Close()
}

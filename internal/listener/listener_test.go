package listener

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chatpulse/chatpulse/internal/bus"
	"github.com/chatpulse/chatpulse/internal/event"
	"github.com/chatpulse/chatpulse/internal/limiter"
	"github.com/chatpulse/chatpulse/internal/platform"
)

type fakeChat struct {
	mu      sync.Mutex
	joined  []string
	left    []string
	handler func(platform.PrivateMessage)
	joinErr error
}

func (c *fakeChat) JoinRoom(_ context.Context, login string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joinErr != nil {
		return c.joinErr
	}
	c.joined = append(c.joined, login)
	return nil
}

func (c *fakeChat) LeaveRoom(_ context.Context, login string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, login)
	return nil
}

func (c *fakeChat) OnMessage(h func(platform.PrivateMessage)) { c.handler = h }

func (c *fakeChat) leftLogins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.left...)
}

type fakeCache struct {
	mu        sync.Mutex
	set       []string
	refreshed []string
	deleted   []string
	setErr    error
	refreshOK bool
	expired   chan string
}

func newFakeCache() *fakeCache {
	return &fakeCache{refreshOK: true, expired: make(chan string)}
}

func (c *fakeCache) SetWithTTL(_ context.Context, login string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.set = append(c.set, login)
	return nil
}

func (c *fakeCache) Refresh(_ context.Context, login string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshed = append(c.refreshed, login)
	return c.refreshOK, nil
}

func (c *fakeCache) Delete(_ context.Context, login string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, login)
	return nil
}

func (c *fakeCache) SubscribeExpired(context.Context) (<-chan string, error) {
	return c.expired, nil
}

type fakeTokens struct {
	calls int
	err   error
}

func (t *fakeTokens) WaitForToken(context.Context, int64, time.Duration) error {
	t.calls++
	return t.err
}

type fakePublisher struct {
	mu        sync.Mutex
	exchanges []string
	bodies    [][]byte
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, exchange string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.exchanges = append(p.exchanges, exchange)
	p.bodies = append(p.bodies, append([]byte(nil), body...))
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func testConfig() Config {
	return Config{ListenCap: 50, AdmissionTimeout: 5 * time.Second, OnlineTTL: 300 * time.Second}
}

func newTestListener(chat *fakeChat, cache *fakeCache, tokens *fakeTokens, pub *fakePublisher) *Listener {
	return New(chat, pub, cache, tokens, testConfig(), zerolog.Nop())
}

func broadcasterDelivery(t *testing.T, id int64, login string, rank int, acks *int) bus.Delivery {
	t.Helper()
	body, err := json.Marshal(event.BroadcasterEvent{BroadcasterID: id, Login: login, Rank: rank})
	require.NoError(t, err)
	return bus.Delivery{
		Body: body,
		Ack:  func() error { *acks++; return nil },
		Nack: func() error { return nil },
	}
}

func TestAdmitsNewBroadcaster(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)

	var acks int
	l.handle(context.Background(), broadcasterDelivery(t, 42, "SomeStreamer", 3, &acks))

	require.Equal(t, 1, tokens.calls)
	require.Equal(t, []string{"somestreamer"}, cache.set)
	require.Equal(t, []string{"somestreamer"}, chat.joined)
	require.Equal(t, []string{"somestreamer"}, cache.refreshed)
	require.True(t, l.isOnline("somestreamer"))
	require.Equal(t, 1, acks)
}

func TestAlreadyOnlineOnlyRefreshes(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)
	l.setOnline("somestreamer", true)

	var acks int
	l.handle(context.Background(), broadcasterDelivery(t, 42, "somestreamer", 3, &acks))

	require.Zero(t, tokens.calls)
	require.Empty(t, chat.joined)
	require.Equal(t, []string{"somestreamer"}, cache.refreshed)
	require.Equal(t, 1, acks)
}

func TestRefreshRecreatesExpiredKey(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	cache.refreshOK = false
	l := newTestListener(chat, cache, tokens, pub)
	l.setOnline("somestreamer", true)

	var acks int
	l.handle(context.Background(), broadcasterDelivery(t, 42, "somestreamer", 3, &acks))

	require.Equal(t, []string{"somestreamer"}, cache.refreshed)
	require.Equal(t, []string{"somestreamer"}, cache.set)
	require.Equal(t, 1, acks)
}

func TestSkipsBroadcasterAtListenCap(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)

	var acks int
	l.handle(context.Background(), broadcasterDelivery(t, 42, "somestreamer", 50, &acks))

	require.Zero(t, tokens.calls)
	require.Empty(t, chat.joined)
	require.False(t, l.isOnline("somestreamer"))
	require.Equal(t, 1, acks)
}

func TestAdmissionTimeoutSkipsAndAcks(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{err: limiter.ErrAdmissionTimeout}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)

	var acks int
	l.handle(context.Background(), broadcasterDelivery(t, 42, "somestreamer", 3, &acks))

	require.Empty(t, chat.joined)
	require.False(t, l.isOnline("somestreamer"))
	require.Equal(t, 1, acks)
}

func TestLimiterTransportErrorLeavesUnacked(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{err: errors.New("limiter down")}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)

	var acks int
	l.handle(context.Background(), broadcasterDelivery(t, 42, "somestreamer", 3, &acks))

	require.Zero(t, acks)
	require.Empty(t, chat.joined)
	require.False(t, l.isOnline("somestreamer"))
}

func TestPresenceWriteFailureLeavesUnacked(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	cache.setErr = errors.New("redis down")
	l := newTestListener(chat, cache, tokens, pub)

	var acks int
	l.handle(context.Background(), broadcasterDelivery(t, 42, "somestreamer", 3, &acks))

	require.Zero(t, acks)
	require.Empty(t, chat.joined)
	require.False(t, l.isOnline("somestreamer"))
}

func TestJoinFailureRollsBackAndAcks(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{joinErr: errors.New("socket dead")}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)

	var acks int
	l.handle(context.Background(), broadcasterDelivery(t, 42, "somestreamer", 3, &acks))

	require.False(t, l.isOnline("somestreamer"))
	require.Equal(t, []string{"somestreamer"}, cache.deleted)
	require.Equal(t, 1, acks)
}

func TestPoisonBroadcasterEventAcked(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)

	var acks int
	l.handle(context.Background(), bus.Delivery{
		Body: []byte("not an event"),
		Ack:  func() error { acks++; return nil },
		Nack: func() error { return nil },
	})

	require.Equal(t, 1, acks)
	require.Zero(t, tokens.calls)
}

func TestEvictLoopLeavesExpiredRooms(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)
	l.setOnline("somestreamer", true)
	l.setOnline("otherstreamer", true)

	expired := make(chan string)
	done := make(chan struct{})
	go func() {
		l.evictLoop(context.Background(), expired)
		close(done)
	}()

	expired <- "somestreamer"
	expired <- "neverjoined"
	close(expired)
	<-done

	require.Equal(t, []string{"somestreamer"}, chat.leftLogins())
	require.False(t, l.isOnline("somestreamer"))
	require.True(t, l.isOnline("otherstreamer"))
}

func TestPublishChatNormalizesMessage(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)

	id := uuid.NewString()
	l.publishChat(context.Background(), platform.PrivateMessage{
		ID:            id,
		Channel:       "somechannel",
		Text:          "hello chat",
		SentTimestamp: 1704067200123,
		Room:          event.RoomState{Name: "somechannel", RoomID: "1337", Slow: 30},
		User:          event.UserState{Name: "someuser", DisplayName: "SomeUser"},
	})

	require.Equal(t, []string{bus.ExchangeChat}, pub.exchanges)
	var msg event.ChatMessage
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	require.Equal(t, int64(1337), msg.BroadcasterID)
	require.Equal(t, int64(1704067200123), msg.Timestamp)
	require.Equal(t, id, msg.MessageID)

	var payload event.MessagePayload
	require.NoError(t, json.Unmarshal([]byte(msg.Message), &payload))
	require.Equal(t, "hello chat", payload.Text)
	require.Equal(t, "1337", payload.Room.RoomID)
	require.Equal(t, 30, payload.Room.Slow)
	require.Equal(t, "someuser", payload.User.Name)
}

func TestPublishChatDropsInvalidLines(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)

	bad := []platform.PrivateMessage{
		{ID: uuid.NewString(), SentTimestamp: 1, Room: event.RoomState{RoomID: "nope"}, User: event.UserState{Name: "u"}},
		{ID: uuid.NewString(), SentTimestamp: 1, Room: event.RoomState{RoomID: "1337"}},
		{ID: "not-a-uuid", SentTimestamp: 1, Room: event.RoomState{RoomID: "1337"}, User: event.UserState{Name: "u"}},
		{ID: uuid.NewString(), SentTimestamp: 0, Room: event.RoomState{RoomID: "1337"}, User: event.UserState{Name: "u"}},
	}
	for _, pm := range bad {
		l.publishChat(context.Background(), pm)
	}

	require.Empty(t, pub.exchanges)
}

func TestRunWiresMessagePathAndBinding(t *testing.T) {
	chat, cache, tokens, pub := &fakeChat{}, newFakeCache(), &fakeTokens{}, &fakePublisher{}
	l := newTestListener(chat, cache, tokens, pub)

	deliveries := make(chan bus.Delivery)
	consumer := &fakeConsumer{ch: deliveries}

	done := make(chan error, 1)
	go func() {
		done <- l.Run(context.Background(), consumer)
	}()

	var acks int
	deliveries <- broadcasterDelivery(t, 42, "somestreamer", 3, &acks)
	close(deliveries)
	require.NoError(t, <-done)

	require.NotNil(t, chat.handler, "Run must wire the chat message path")
	require.Equal(t, bus.ExchangeBroadcasters, consumer.binding.Exchange)
	require.Equal(t, bus.QueueListenerJoin, consumer.binding.Queue)
	require.Equal(t, 1, consumer.binding.Prefetch)
	require.Equal(t, 1, acks)
}

type fakeConsumer struct {
	ch      chan bus.Delivery
	binding bus.Binding
}

func (c *fakeConsumer) Consume(_ context.Context, b bus.Binding) (<-chan bus.Delivery, error) {
	c.binding = b
	return c.ch, nil
}

func (c *fakeConsumer) Close() error { return nil }

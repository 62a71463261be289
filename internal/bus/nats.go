package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// connectNATS dials with unlimited reconnects; the nats client handles
// resubscription itself, unlike the AMQP path.
func connectNATS(url string, logger zerolog.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			reconnectsTotal.WithLabelValues(BackendNATS).Inc()
			logger.Info().Str("url", conn.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	return conn, js, nil
}

// ensureStream creates the exchange's stream if it does not exist. Streams
// are named after the exchange and carry a single subject of the same name.
func ensureStream(js nats.JetStreamContext, exchange string) error {
	_, err := js.StreamInfo(exchange)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("jetstream stream info %s: %w", exchange, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      exchange,
		Subjects:  []string{exchange},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("jetstream add stream %s: %w", exchange, err)
	}
	return nil
}

type natsPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger zerolog.Logger

	mu       sync.Mutex
	declared map[string]bool
}

func newNATSPublisher(url string, logger zerolog.Logger) (*natsPublisher, error) {
	conn, js, err := connectNATS(url, logger)
	if err != nil {
		return nil, err
	}
	return &natsPublisher{
		conn:     conn,
		js:       js,
		logger:   logger,
		declared: make(map[string]bool),
	}, nil
}

func (p *natsPublisher) Publish(ctx context.Context, exchange string, body []byte) error {
	p.mu.Lock()
	if !p.declared[exchange] {
		if err := ensureStream(p.js, exchange); err != nil {
			p.mu.Unlock()
			publishErrors.WithLabelValues(exchange).Inc()
			return err
		}
		p.declared[exchange] = true
	}
	p.mu.Unlock()

	if _, err := p.js.Publish(exchange, body, nats.Context(ctx)); err != nil {
		publishErrors.WithLabelValues(exchange).Inc()
		return fmt.Errorf("jetstream publish to %s: %w", exchange, err)
	}
	publishedTotal.WithLabelValues(exchange).Inc()
	return nil
}

func (p *natsPublisher) Close() error {
	p.conn.Close()
	return nil
}

// natsConsumer binds a durable pull consumer per queue. MaxAckPending
// plays the role of the AMQP prefetch window.
type natsConsumer struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger zerolog.Logger
}

func newNATSConsumer(url string, logger zerolog.Logger) (*natsConsumer, error) {
	conn, js, err := connectNATS(url, logger)
	if err != nil {
		return nil, err
	}
	return &natsConsumer{conn: conn, js: js, logger: logger}, nil
}

func (c *natsConsumer) Consume(ctx context.Context, binding Binding) (<-chan Delivery, error) {
	if err := ensureStream(c.js, binding.Exchange); err != nil {
		return nil, err
	}

	prefetch := binding.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	sub, err := c.js.PullSubscribe(binding.Exchange, binding.Queue,
		nats.BindStream(binding.Exchange),
		nats.AckExplicit(),
		nats.MaxAckPending(prefetch),
	)
	if err != nil {
		return nil, fmt.Errorf("jetstream pull subscribe %s/%s: %w", binding.Exchange, binding.Queue, err)
	}

	out := make(chan Delivery)
	go c.relay(ctx, sub, binding, prefetch, out)
	return out, nil
}

func (c *natsConsumer) relay(ctx context.Context, sub *nats.Subscription, binding Binding, prefetch int, out chan<- Delivery) {
	defer close(out)

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := sub.Fetch(prefetch, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			c.logger.Error().Err(err).Str("queue", binding.Queue).Msg("JetStream fetch error")
			continue
		}
		for _, msg := range msgs {
			delivery := Delivery{
				Body: msg.Data,
				Ack:  func() error { return msg.Ack() },
				Nack: func() error { return msg.Nak() },
			}
			select {
			case out <- delivery:
				consumedTotal.WithLabelValues(binding.Queue).Inc()
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *natsConsumer) Close() error {
	c.conn.Close()
	return nil
}

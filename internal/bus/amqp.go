package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// amqpPublisher publishes to durable fan-out exchanges in confirm mode:
// Publish returns only after the broker acknowledges the message, so an
// unacked upstream delivery is never dropped by a silent broker failure.
type amqpPublisher struct {
	url    string
	logger zerolog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms <-chan amqp.Confirmation
	declared map[string]bool
	closed   bool
}

func newAMQPPublisher(url string, logger zerolog.Logger) (*amqpPublisher, error) {
	p := &amqpPublisher{url: url, logger: logger}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect is called under p.mu (or before the publisher is shared).
func (p *amqpPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("amqp confirm mode: %w", err)
	}
	p.conn = conn
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.declared = make(map[string]bool)
	return nil
}

// drop discards the broken connection so the next Publish redials.
func (p *amqpPublisher) drop() {
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = nil
	p.ch = nil
	p.confirms = nil
	p.declared = nil
}

func (p *amqpPublisher) Publish(ctx context.Context, exchange string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("amqp publisher is closed")
	}
	if p.ch == nil {
		bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
		if err := backoff.Retry(p.connect, bo); err != nil {
			publishErrors.WithLabelValues(exchange).Inc()
			return fmt.Errorf("amqp reconnect: %w", err)
		}
		reconnectsTotal.WithLabelValues(BackendAMQP).Inc()
		p.logger.Info().Str("exchange", exchange).Msg("AMQP publisher reconnected")
	}

	if !p.declared[exchange] {
		if err := p.ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
			p.drop()
			publishErrors.WithLabelValues(exchange).Inc()
			return fmt.Errorf("amqp declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}

	err := p.ch.Publish(exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		p.drop()
		publishErrors.WithLabelValues(exchange).Inc()
		return fmt.Errorf("amqp publish to %s: %w", exchange, err)
	}

	select {
	case confirm, ok := <-p.confirms:
		if !ok || !confirm.Ack {
			p.drop()
			publishErrors.WithLabelValues(exchange).Inc()
			return fmt.Errorf("amqp publish to %s not confirmed", exchange)
		}
	case <-ctx.Done():
		// The confirm may still arrive; the channel state is now
		// ambiguous, so start over on the next publish.
		p.drop()
		publishErrors.WithLabelValues(exchange).Inc()
		return ctx.Err()
	}

	publishedTotal.WithLabelValues(exchange).Inc()
	return nil
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		p.ch = nil
		return err
	}
	return nil
}

// amqpConsumer binds a durable queue to a fan-out exchange and relays
// deliveries with manual acknowledgement. A lost connection is redialled
// with exponential backoff; unacked messages are redelivered by the broker.
type amqpConsumer struct {
	url    string
	logger zerolog.Logger

	mu     sync.Mutex
	conns  []*amqp.Connection
	closed bool
}

func newAMQPConsumer(url string, logger zerolog.Logger) *amqpConsumer {
	return &amqpConsumer{url: url, logger: logger}
}

func (c *amqpConsumer) Consume(ctx context.Context, binding Binding) (<-chan Delivery, error) {
	deliveries, err := c.setup(binding)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go c.relay(ctx, binding, deliveries, out)
	return out, nil
}

func (c *amqpConsumer) setup(binding Binding) (<-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("amqp consumer is closed")
	}
	c.conns = append(c.conns, conn)
	c.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(binding.Exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp declare exchange %s: %w", binding.Exchange, err)
	}
	if _, err := ch.QueueDeclare(binding.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp declare queue %s: %w", binding.Queue, err)
	}
	if err := ch.QueueBind(binding.Queue, "", binding.Exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp bind %s to %s: %w", binding.Queue, binding.Exchange, err)
	}

	prefetch := binding.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}

	deliveries, err := ch.Consume(binding.Queue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp consume %s: %w", binding.Queue, err)
	}
	return deliveries, nil
}

func (c *amqpConsumer) relay(ctx context.Context, binding Binding, deliveries <-chan amqp.Delivery, out chan<- Delivery) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				if c.isClosed() {
					return
				}
				nd, err := c.redial(ctx, binding)
				if err != nil {
					return
				}
				deliveries = nd
				continue
			}
			delivery := Delivery{
				Body: d.Body,
				Ack:  func() error { return d.Ack(false) },
				Nack: func() error { return d.Nack(false, true) },
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

func (c *amqpConsumer) redial(ctx context.Context, binding Binding) (<-chan amqp.Delivery, error) {
	c.logger.Warn().Str("queue", binding.Queue).Msg("AMQP connection lost, reconnecting")

	var deliveries <-chan amqp.Delivery
	op := func() error {
		var err error
		deliveries, err = c.setup(binding)
		return err
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		c.logger.Error().Err(err).Str("queue", binding.Queue).Msg("AMQP reconnect failed")
		return nil, err
	}
	reconnectsTotal.WithLabelValues(BackendAMQP).Inc()
	c.logger.Info().Str("queue", binding.Queue).Msg("AMQP consumer reconnected")
	return deliveries, nil
}

func (c *amqpConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *amqpConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, conn := range c.conns {
		conn.Close()
	}
	c.conns = nil
	return nil
}

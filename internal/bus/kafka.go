package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// kafkaPublisher maps exchanges to topics. ProduceSync with full-ISR acks
// gives the same guarantee as AMQP confirm mode: Publish returns only once
// the cluster has the message.
type kafkaPublisher struct {
	client *kgo.Client
	logger zerolog.Logger
}

func newKafkaPublisher(brokers []string, logger zerolog.Logger) (*kafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &kafkaPublisher{client: client, logger: logger}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, exchange string, body []byte) error {
	record := &kgo.Record{Topic: exchange, Value: body}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		publishErrors.WithLabelValues(exchange).Inc()
		return fmt.Errorf("kafka produce to %s: %w", exchange, err)
	}
	publishedTotal.WithLabelValues(exchange).Inc()
	return nil
}

func (p *kafkaPublisher) Close() error {
	p.client.Close()
	return nil
}

// kafkaConsumer maps the exchange to a topic and the queue to a consumer
// group, so every service group sees the full stream just like a bound
// AMQP queue. Commits are manual: Ack commits the record's offset, Nack
// rewinds the partition so the record is fetched again.
type kafkaConsumer struct {
	brokers []string
	logger  zerolog.Logger

	mu      sync.Mutex
	clients []*kgo.Client
	closed  bool
}

func newKafkaConsumer(brokers []string, logger zerolog.Logger) *kafkaConsumer {
	return &kafkaConsumer{brokers: brokers, logger: logger}
}

func (c *kafkaConsumer) Consume(ctx context.Context, binding Binding) (<-chan Delivery, error) {
	if len(c.brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(c.brokers...),
		kgo.ConsumerGroup(binding.Queue),
		kgo.ConsumeTopics(binding.Exchange),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.SessionTimeout(30*time.Second),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			c.logger.Info().
				Str("queue", binding.Queue).
				Interface("partitions", assigned).
				Msg("Partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			c.logger.Info().
				Str("queue", binding.Queue).
				Interface("partitions", revoked).
				Msg("Partitions revoked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		client.Close()
		return nil, fmt.Errorf("kafka consumer is closed")
	}
	c.clients = append(c.clients, client)
	c.mu.Unlock()

	out := make(chan Delivery)
	go c.relay(ctx, client, binding, out)
	return out, nil
}

func (c *kafkaConsumer) relay(ctx context.Context, client *kgo.Client, binding Binding, out chan<- Delivery) {
	defer close(out)

	prefetch := binding.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	for {
		fetches := client.PollRecords(ctx, prefetch)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				c.logger.Error().
					Err(err.Err).
					Str("topic", err.Topic).
					Int32("partition", err.Partition).
					Msg("Kafka fetch error")
			}
		}

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			delivery := Delivery{
				Body: record.Value,
				Ack: func() error {
					return client.CommitRecords(context.Background(), record)
				},
				Nack: func() error {
					client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
						record.Topic: {record.Partition: {
							Epoch:  record.LeaderEpoch,
							Offset: record.Offset,
						}},
					})
					return nil
				},
			}
			select {
			case out <- delivery:
				consumedTotal.WithLabelValues(binding.Queue).Inc()
			case <-ctx.Done():
				client.AllowRebalance()
				return
			}
		}
		client.AllowRebalance()
	}
}

func (c *kafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, client := range c.clients {
		client.Close()
	}
	c.clients = nil
	return nil
}

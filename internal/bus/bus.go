// Package bus abstracts the message broker behind small publisher and
// consumer interfaces with explicit per-message acknowledgement. Events
// flow through named fan-out exchanges; each consuming service binds its
// own durable queue so every service sees the full stream.
//
// Three backends are provided: AMQP (the default), Kafka consumer groups,
// and NATS JetStream. The backend is chosen by configuration; services are
// written against the interfaces and never see broker types.
package bus

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chatpulse/chatpulse/internal/config"
)

// Exchange names. All exchanges are fan-out: every bound queue receives
// every message.
const (
	// ExchangeBroadcasters carries [id, login, rank] arrays for live
	// broadcasters, published by the poller.
	ExchangeBroadcasters = "broadcaster_fanout"
	// ExchangeChat carries ChatMessage events, published by the listener.
	ExchangeChat = "chat_fanout"
	// ExchangeAnomalies carries AnomalyEvent notifications, published by
	// the detector.
	ExchangeAnomalies = "anomaly_fanout"
)

// Queue names. Each queue is durable and owned by one consuming service.
const (
	QueueListenerJoin = "join_broadcaster_chat_queue"
	QueueRegistrar    = "ingest_broadcasters"
	QueueIngest       = "chat_processing_queue"
	QueueDetector     = "chat_anomaly_detection_queue"
	QueueClipper      = "anomaly_queue"
)

// Backend names accepted in configuration.
const (
	BackendAMQP  = "amqp"
	BackendKafka = "kafka"
	BackendNATS  = "nats"
)

// Delivery is one consumed message. Exactly one of Ack or Nack must be
// called once the consumer is done with it; Nack returns the message to
// the queue for redelivery.
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func() error
}

// Binding names the exchange/queue pair a consumer reads from. Prefetch
// bounds the number of unacknowledged deliveries in flight; zero means 1.
type Binding struct {
	Exchange string
	Queue    string
	Prefetch int
}

// Publisher publishes messages to a fan-out exchange. Implementations are
// safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, exchange string, body []byte) error
	Close() error
}

// Consumer consumes deliveries from a bound queue. The returned channel
// closes when the context is cancelled or the consumer is closed.
type Consumer interface {
	Consume(ctx context.Context, binding Binding) (<-chan Delivery, error)
	Close() error
}

// NewPublisher opens a publisher for the configured backend.
func NewPublisher(cfg *config.Config, logger zerolog.Logger) (Publisher, error) {
	switch cfg.BusBackend {
	case BackendAMQP:
		return newAMQPPublisher(cfg.AMQPURL, logger)
	case BackendKafka:
		return newKafkaPublisher(splitBrokers(cfg.KafkaBrokers), logger)
	case BackendNATS:
		return newNATSPublisher(cfg.NATSURL, logger)
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.BusBackend)
	}
}

// NewConsumer opens a consumer for the configured backend.
func NewConsumer(cfg *config.Config, logger zerolog.Logger) (Consumer, error) {
	switch cfg.BusBackend {
	case BackendAMQP:
		return newAMQPConsumer(cfg.AMQPURL, logger), nil
	case BackendKafka:
		return newKafkaConsumer(splitBrokers(cfg.KafkaBrokers), logger), nil
	case BackendNATS:
		return newNATSConsumer(cfg.NATSURL, logger)
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.BusBackend)
	}
}

func splitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

package bus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpulse/chatpulse/internal/config"
)

// Exchange and queue names are part of the wire contract with every
// deployed service; a rename breaks bindings on live brokers.
func TestWireNames(t *testing.T) {
	assert.Equal(t, "broadcaster_fanout", ExchangeBroadcasters)
	assert.Equal(t, "chat_fanout", ExchangeChat)
	assert.Equal(t, "anomaly_fanout", ExchangeAnomalies)

	assert.Equal(t, "join_broadcaster_chat_queue", QueueListenerJoin)
	assert.Equal(t, "ingest_broadcasters", QueueRegistrar)
	assert.Equal(t, "chat_processing_queue", QueueIngest)
	assert.Equal(t, "chat_anomaly_detection_queue", QueueDetector)
	assert.Equal(t, "anomaly_queue", QueueClipper)
}

func TestNewPublisherUnknownBackend(t *testing.T) {
	cfg := &config.Config{BusBackend: "zeromq"}
	_, err := NewPublisher(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zeromq")

	_, err = NewConsumer(cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092"}, splitBrokers("a:9092"))
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers("a:9092, b:9092"))
	assert.Empty(t, splitBrokers(""))
	assert.Empty(t, splitBrokers(" , "))
}

package replication

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaRelay mirrors replicated frames onto a Kafka/Redpanda topic in
// addition to the in-process backlog, for external consumers (audit
// pipelines, cross-datacenter fan-out) that want the write stream without
// speaking the follower protocol.
type KafkaRelay struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
}

// NewKafkaRelay builds a relay producing to topic on brokers.
func NewKafkaRelay(brokers []string, topic string, logger zerolog.Logger) (*KafkaRelay, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &KafkaRelay{
		client: client,
		topic:  topic,
		logger: logger.With().Str("component", "replication_kafka_relay").Logger(),
	}, nil
}

// Relay implements Relay: it produces the frame keyed by its offset so a
// consuming pipeline can dedupe or order by offset.
func (k *KafkaRelay) Relay(offset uint64, frame []byte) error {
	rec := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(strconv.FormatUint(offset, 10)),
		Value: frame,
	}
	result := k.client.ProduceSync(context.Background(), rec)
	return result.FirstErr()
}

// Close releases the underlying Kafka client.
func (k *KafkaRelay) Close() { k.client.Close() }

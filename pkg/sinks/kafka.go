package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/agile-enigma/bsky-multitool/pkg/logging"
	"github.com/agile-enigma/bsky-multitool/pkg/pipeline"
)

// KafkaWriter publishes each flushed record to a Kafka topic, keyed by
// record URI so per-record ordering follows the record, not the batch.
type KafkaWriter struct {
	client *kgo.Client
	topic  string
	logger logging.Logger
}

// NewKafkaWriter connects a producer to the brokers.
func NewKafkaWriter(brokers []string, topic string, logger logging.Logger) (*KafkaWriter, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("bsky-multitool"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &KafkaWriter{client: client, topic: topic, logger: logger}, nil
}

// Name identifies the writer in logs and metrics.
func (w *KafkaWriter) Name() string { return "kafka" }

// WriteBatch produces one message per record and waits for the whole
// batch to be acknowledged.
func (w *KafkaWriter) WriteBatch(ctx context.Context, records []*pipeline.EnrichedRecord) error {
	msgs := make([]*kgo.Record, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", rec.URI, err)
		}
		msgs = append(msgs, &kgo.Record{
			Topic: w.topic,
			Key:   []byte(rec.URI),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "action_type", Value: []byte(rec.ActionType)},
			},
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	results := w.client.ProduceSync(ctx, msgs...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce batch: %w", err)
	}
	w.logger.WithFields(logging.Fields{"topic": w.topic, "records": len(records)}).Debug("Produced batch")
	return nil
}

// HealthCheck pings the brokers.
func (w *KafkaWriter) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.client.Ping(ctx); err != nil {
		return fmt.Errorf("kafka health check failed: %w", err)
	}
	return nil
}

// Close flushes and shuts down the producer.
func (w *KafkaWriter) Close() error {
	w.client.Close()
	return nil
}

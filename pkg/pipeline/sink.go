package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/agile-enigma/bsky-multitool/pkg/logging"
	"github.com/agile-enigma/bsky-multitool/pkg/monitoring"
)

// BatchWriter receives flushed batches from the sink. Implementations
// live in pkg/sinks; the pipeline guarantees batch boundaries and
// ordering, not byte layout.
type BatchWriter interface {
	// Name identifies the writer in logs and metrics.
	Name() string
	// WriteBatch persists one ordered batch.
	WriteBatch(ctx context.Context, records []*EnrichedRecord) error
}

// BatchSink accumulates enriched records and flushes them to the writer
// whenever the queue reaches the batch size, or on final flush. With a
// nil writer the sink collects every record for in-process use.
//
// The accepted-record counter increments once per record regardless of
// flush timing, so max-item stop conditions are exact even when they
// fall mid-batch. Not safe for concurrent use; the pipeline feeds it
// from a single goroutine.
type BatchSink struct {
	writer    BatchWriter
	batchSize int
	logger    logging.Logger
	metrics   *monitoring.PipelineMetrics
	progress  io.Writer

	queue     []*EnrichedRecord
	collected []*EnrichedRecord
	count     int
}

// SinkConfig configures a BatchSink.
type SinkConfig struct {
	// Writer receives flushed batches. Nil collects records in memory.
	Writer BatchWriter
	// BatchSize is the flush threshold. Values < 1 default to 50.
	BatchSize int
	Logger    logging.Logger
	// Metrics may be nil.
	Metrics *monitoring.PipelineMetrics
	// Progress, when set, receives a carriage-return counter line per
	// accepted record.
	Progress io.Writer
}

// DefaultBatchSize is the flush threshold used when none is configured.
const DefaultBatchSize = 50

// NewBatchSink creates a sink from its config.
func NewBatchSink(cfg SinkConfig) *BatchSink {
	size := cfg.BatchSize
	if size < 1 {
		size = DefaultBatchSize
	}
	return &BatchSink{
		writer:    cfg.Writer,
		batchSize: size,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		progress:  cfg.Progress,
	}
}

// Accept queues a record, flushing when the queue reaches the batch
// size. A nil record with finalFlush set drains whatever is queued;
// callers use that on every exit path so buffered records are never
// lost.
func (s *BatchSink) Accept(ctx context.Context, rec *EnrichedRecord, finalFlush bool) error {
	if rec != nil {
		s.count++
		s.queue = append(s.queue, rec)
		if s.progress != nil {
			fmt.Fprintf(s.progress, "\rrecords processed: %d", s.count)
		}
	}

	if len(s.queue) >= s.batchSize || (finalFlush && len(s.queue) > 0) {
		if err := s.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Count reports how many records the sink has accepted.
func (s *BatchSink) Count() int {
	return s.count
}

// Collected returns the records gathered in collect mode, in acceptance
// order. Empty when a writer is configured.
func (s *BatchSink) Collected() []*EnrichedRecord {
	return s.collected
}

func (s *BatchSink) flush(ctx context.Context) error {
	batch := s.queue
	s.queue = nil

	if s.writer == nil {
		s.collected = append(s.collected, batch...)
		return nil
	}

	if err := s.writer.WriteBatch(ctx, batch); err != nil {
		return fmt.Errorf("writing batch of %d records: %w", len(batch), err)
	}
	if s.metrics != nil {
		s.metrics.BatchesFlushed.WithLabelValues(s.writer.Name()).Inc()
	}
	if s.logger != nil {
		s.logger.WithFields(logging.Fields{
			"writer": s.writer.Name(),
			"batch":  len(batch),
			"total":  s.count,
		}).Debug("Flushed batch")
	}
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/agile-enigma/bsky-multitool/pkg/logging"
)

// captureWriter records every flushed batch.
type captureWriter struct {
	batches [][]*EnrichedRecord
	err     error
}

func (w *captureWriter) Name() string { return "capture" }

func (w *captureWriter) WriteBatch(ctx context.Context, records []*EnrichedRecord) error {
	if w.err != nil {
		return w.err
	}
	batch := make([]*EnrichedRecord, len(records))
	copy(batch, records)
	w.batches = append(w.batches, batch)
	return nil
}

func makeRecord(i int) *EnrichedRecord {
	return &EnrichedRecord{
		RawEvent:   RawEvent{URI: fmt.Sprintf("at://did:plc:a/app.bsky.feed.post/3k%d", i)},
		ActionType: ActionPost,
	}
}

func TestSinkFlushesAtThreshold(t *testing.T) {
	writer := &captureWriter{}
	sink := NewBatchSink(SinkConfig{Writer: writer, BatchSize: 3, Logger: logging.NewLoggerWithService("test")})

	for i := 0; i < 7; i++ {
		if err := sink.Accept(context.Background(), makeRecord(i), false); err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
	}
	if len(writer.batches) != 2 {
		t.Fatalf("expected 2 threshold flushes, got %d", len(writer.batches))
	}
	for _, batch := range writer.batches {
		if len(batch) != 3 {
			t.Fatalf("expected full batches of 3, got %d", len(batch))
		}
	}

	// Final flush drains the remainder.
	if err := sink.Accept(context.Background(), nil, true); err != nil {
		t.Fatalf("final flush: %v", err)
	}
	if len(writer.batches) != 3 || len(writer.batches[2]) != 1 {
		t.Fatalf("expected trailing batch of 1, got %v", len(writer.batches))
	}
	if sink.Count() != 7 {
		t.Fatalf("count = %d, want 7", sink.Count())
	}
}

func TestSinkCountIsIndependentOfFlushTiming(t *testing.T) {
	writer := &captureWriter{}
	sink := NewBatchSink(SinkConfig{Writer: writer, BatchSize: 100, Logger: logging.NewLoggerWithService("test")})

	for i := 0; i < 5; i++ {
		if err := sink.Accept(context.Background(), makeRecord(i), false); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	// Nothing flushed yet, but the counter is exact.
	if len(writer.batches) != 0 {
		t.Fatalf("unexpected flush: %d batches", len(writer.batches))
	}
	if sink.Count() != 5 {
		t.Fatalf("count = %d, want 5", sink.Count())
	}
}

func TestSinkFinalFlushWithEmptyQueueIsNoop(t *testing.T) {
	writer := &captureWriter{}
	sink := NewBatchSink(SinkConfig{Writer: writer, BatchSize: 2, Logger: logging.NewLoggerWithService("test")})

	if err := sink.Accept(context.Background(), nil, true); err != nil {
		t.Fatalf("final flush: %v", err)
	}
	if len(writer.batches) != 0 {
		t.Fatalf("empty final flush must not reach the writer, got %d batches", len(writer.batches))
	}
}

func TestSinkCollectMode(t *testing.T) {
	sink := NewBatchSink(SinkConfig{BatchSize: 2, Logger: logging.NewLoggerWithService("test")})

	for i := 0; i < 5; i++ {
		if err := sink.Accept(context.Background(), makeRecord(i), false); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	if err := sink.Accept(context.Background(), nil, true); err != nil {
		t.Fatalf("final flush: %v", err)
	}

	collected := sink.Collected()
	if len(collected) != 5 {
		t.Fatalf("collected %d records, want 5", len(collected))
	}
	for i, rec := range collected {
		if !strings.HasSuffix(rec.URI, fmt.Sprintf("3k%d", i)) {
			t.Fatalf("order violated at %d: %s", i, rec.URI)
		}
	}
}

func TestSinkPropagatesWriterError(t *testing.T) {
	writer := &captureWriter{err: errors.New("disk full")}
	sink := NewBatchSink(SinkConfig{Writer: writer, BatchSize: 1, Logger: logging.NewLoggerWithService("test")})

	err := sink.Accept(context.Background(), makeRecord(0), false)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected writer error, got %v", err)
	}
}

func TestSinkProgressLine(t *testing.T) {
	var buf strings.Builder
	sink := NewBatchSink(SinkConfig{BatchSize: 10, Progress: &buf, Logger: logging.NewLoggerWithService("test")})

	for i := 0; i < 3; i++ {
		if err := sink.Accept(context.Background(), makeRecord(i), false); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	if !strings.Contains(buf.String(), "\rrecords processed: 3") {
		t.Fatalf("progress output %q", buf.String())
	}
}

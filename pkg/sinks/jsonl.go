package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/agile-enigma/bsky-multitool/pkg/pipeline"
)

// JSONLWriter appends one JSON object per line to a single file across
// all batches of a run.
type JSONLWriter struct {
	file *os.File
	buf  *bufio.Writer
}

// NewJSONLWriter opens (or creates) the output file for appending.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &JSONLWriter{file: file, buf: bufio.NewWriter(file)}, nil
}

// Name identifies the writer in logs and metrics.
func (w *JSONLWriter) Name() string { return "jsonl" }

// WriteBatch appends the batch, one record per line, and syncs so a
// crash after the flush loses nothing.
func (w *JSONLWriter) WriteBatch(ctx context.Context, records []*pipeline.EnrichedRecord) error {
	enc := json.NewEncoder(w.buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.URI, err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", w.file.Name(), err)
	}
	return w.file.Sync()
}

// Close flushes any buffered output and closes the file.
func (w *JSONLWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

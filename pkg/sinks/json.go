package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/agile-enigma/bsky-multitool/pkg/logging"
	"github.com/agile-enigma/bsky-multitool/pkg/pipeline"
)

// JSONWriter writes each flushed batch to its own JSON file under the
// output directory, named <prefix>_<uuid>.json so concurrent runs never
// collide.
type JSONWriter struct {
	dir    string
	prefix string
	logger logging.Logger
}

// NewJSONWriter creates the output directory if needed.
func NewJSONWriter(dir, prefix string, logger logging.Logger) (*JSONWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	if prefix == "" {
		prefix = "records"
	}
	return &JSONWriter{dir: dir, prefix: prefix, logger: logger}, nil
}

// Name identifies the writer in logs and metrics.
func (w *JSONWriter) Name() string { return "json" }

// WriteBatch persists one batch as an indented JSON array.
func (w *JSONWriter) WriteBatch(ctx context.Context, records []*pipeline.EnrichedRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", w.prefix, uuid.NewString()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	w.logger.WithFields(logging.Fields{"file": path, "records": len(records)}).Debug("Wrote batch file")
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agile-enigma/bsky-multitool/pkg/config"
	"github.com/agile-enigma/bsky-multitool/pkg/pipeline"
	"github.com/agile-enigma/bsky-multitool/pkg/sinks"
)

// outputFlags are the sink options shared by stream and query.
type outputFlags struct {
	format    string
	output    string
	batchSize int

	term    string
	types   []string
	hasLink bool

	maxItems int
}

func (f *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "", "output format: json|jsonl|csv|kafka (default: print collected records)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output path (directory for json, file for jsonl/csv, topic for kafka)")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", pipeline.DefaultBatchSize, "records per flushed batch")
	cmd.Flags().StringVar(&f.term, "term", "", "keep only records whose text matches this pattern (case-insensitive)")
	cmd.Flags().StringSliceVar(&f.types, "types", nil, "keep only these action types (post,reply,quote,repost,like)")
	cmd.Flags().BoolVar(&f.hasLink, "has-link", false, "keep only records carrying an external link")
	cmd.Flags().IntVarP(&f.maxItems, "max-items", "n", 0, "stop after this many enriched records (0 = unbounded)")
}

func (f *outputFlags) filter() (*pipeline.Filter, error) {
	var actionTypes []pipeline.ActionType
	for _, t := range f.types {
		action, err := pipeline.ParseActionType(t)
		if err != nil {
			return nil, err
		}
		actionTypes = append(actionTypes, action)
	}
	return pipeline.NewFilter(pipeline.FilterConfig{
		Term:    f.term,
		Types:   actionTypes,
		HasLink: f.hasLink,
	})
}

// writer builds the batch writer for the selected format. A nil writer
// (empty format) puts the sink in collect mode; the caller prints the
// collected records instead. The returned closer is non-nil for
// writers holding resources.
func (f *outputFlags) writer() (pipeline.BatchWriter, io.Closer, error) {
	switch f.format {
	case "":
		return nil, nil, nil
	case "json":
		dir := f.output
		if dir == "" {
			dir = "."
		}
		w, err := sinks.NewJSONWriter(dir, "records", logger)
		return w, nil, err
	case "jsonl":
		if f.output == "" {
			return nil, nil, fmt.Errorf("--output file is required for jsonl")
		}
		w, err := sinks.NewJSONLWriter(f.output)
		if err != nil {
			return nil, nil, err
		}
		return w, w, nil
	case "csv":
		if f.output == "" {
			return nil, nil, fmt.Errorf("--output file is required for csv")
		}
		w, err := sinks.NewCSVWriter(f.output)
		if err != nil {
			return nil, nil, err
		}
		return w, w, nil
	case "kafka":
		topic := f.output
		if topic == "" {
			topic = config.GetEnv("KAFKA_TOPIC", "bsky_records")
		}
		brokers := strings.Split(config.GetEnv("KAFKA_BROKERS", "localhost:9092"), ",")
		w, err := sinks.NewKafkaWriter(brokers, topic, logger)
		if err != nil {
			return nil, nil, err
		}
		return w, w, nil
	default:
		return nil, nil, fmt.Errorf("unknown output format %q", f.format)
	}
}

// printCollected renders collect-mode results to stdout.
func printCollected(records []*pipeline.EnrichedRecord) error {
	if len(records) == 0 {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

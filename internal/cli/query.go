package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
	"github.com/agile-enigma/bsky-multitool/pkg/config"
	"github.com/agile-enigma/bsky-multitool/pkg/pipeline"
)

func newQueryCmd() *cobra.Command {
	var (
		out    outputFlags
		since  string
		until  string
		cutoff string
	)

	cmd := &cobra.Command{
		Use:   "query <search text>",
		Short: "Page through historical search results, classifying and enriching each match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := newSessionClient(ctx, atproto.SearchRetryConfig())
			if err != nil {
				return err
			}
			filter, err := out.filter()
			if err != nil {
				return err
			}
			writer, closer, err := out.writer()
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			opts := pipeline.QueryOptions{
				Searcher: client,
				Query:    args[0],
				Filter:   filter,
				Stop:     pipeline.StopConditions{MaxItems: out.maxItems},
				Enricher: pipeline.NewEnricher(pipeline.NewMetadataCache(client), logger, nil),
				Sink: pipeline.NewBatchSink(pipeline.SinkConfig{
					Writer:    writer,
					BatchSize: out.batchSize,
					Logger:    logger,
					Progress:  os.Stderr,
				}),
				Logger:    logger,
				Progress:  os.Stderr,
				PageDelay: config.GetEnvDuration("PAGE_DELAY", pipeline.DefaultPageDelay),
			}
			if opts.Since, err = parseTimeFlag("since", since); err != nil {
				return err
			}
			if opts.Until, err = parseTimeFlag("until", until); err != nil {
				return err
			}
			if opts.Stop.CutoffTime, err = parseTimeFlag("cutoff", cutoff); err != nil {
				return err
			}

			records, err := pipeline.RunHistoricalQuery(ctx, opts)
			// An operator interrupt still returns whatever was
			// collected; print it before surfacing the error.
			if writer == nil && len(records) > 0 {
				if printErr := printCollected(records); printErr != nil && err == nil {
					err = printErr
				}
			}
			return err
		},
	}

	out.register(cmd)
	cmd.Flags().StringVar(&since, "since", "", "only results created after this RFC3339 timestamp")
	cmd.Flags().StringVar(&until, "until", "", "only results created before this RFC3339 timestamp")
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "stop paging at this RFC3339 timestamp (must be in the past)")
	return cmd
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value %q: expected RFC3339 timestamp", name, value)
	}
	return t, nil
}

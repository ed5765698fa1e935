package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
	"github.com/agile-enigma/bsky-multitool/pkg/config"
	"github.com/agile-enigma/bsky-multitool/pkg/firehose"
	"github.com/agile-enigma/bsky-multitool/pkg/monitoring"
	"github.com/agile-enigma/bsky-multitool/pkg/pipeline"
	"github.com/agile-enigma/bsky-multitool/pkg/server"
	"github.com/agile-enigma/bsky-multitool/pkg/version"
)

func newStreamCmd() *cobra.Command {
	var (
		out      outputFlags
		relayURL string
		duration time.Duration
		metrics  bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Consume the live firehose, classifying and enriching matching records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				pm        *monitoring.PipelineMetrics
				collector *monitoring.MetricsCollector
			)
			if metrics {
				collector = monitoring.NewMetricsCollector("bsky-multitool", version.Version, version.GitCommit)
				pm = collector.CreatePipelineMetrics()
			}

			retry := atproto.DefaultRetryConfig()
			if pm != nil {
				retry.OnRetry = func() { pm.RetryAttempts.WithLabelValues("enrich").Inc() }
			}
			client, err := newSessionClient(ctx, retry)
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

			if metrics {
				health := monitoring.NewHealthChecker("bsky-multitool", version.Version)
				health.AddCheck("appview", monitoring.PingHealthCheck("appview", func() error { return client.Ping(ctx) }))

				router := server.SetupServiceRouter(logger, "bsky-multitool", health, collector)
				shutdown := server.Start(server.DefaultConfig("bsky-multitool", "9090"), router, logger)
				defer shutdown(context.Background())
			}

			conditions := pipeline.StopConditions{MaxItems: out.maxItems}
			if duration > 0 {
				conditions.CutoffTime = time.Now().Add(duration)
			}

			consumer := firehose.NewConsumer(firehose.Config{
				URL:    relayURL,
				Logger: logger,
				OnDropped: func(reason string) {
					if pm != nil {
						pm.FramesDropped.WithLabelValues(reason).Inc()
					}
				},
			})

			cache := pipeline.NewBoundedMetadataCache(client, config.GetEnvInt("CACHE_MAX_ENTRIES", 0))
			records, err := pipeline.StartStream(ctx, pipeline.StreamOptions{
				Subscription: consumer,
				Filter:       filter,
				Stop:         conditions,
				Enricher:     pipeline.NewEnricher(cache, logger, pm),
				Sink: pipeline.NewBatchSink(pipeline.SinkConfig{
					Writer:    writer,
					BatchSize: out.batchSize,
					Logger:    logger,
					Metrics:   pm,
					Progress:  os.Stderr,
				}),
				Logger:   logger,
				Metrics:  pm,
				Progress: os.Stderr,
			})
			if err != nil {
				return err
			}
			if writer == nil {
				return printCollected(records)
			}
			return nil
		},
	}

	out.register(cmd)
	cmd.Flags().StringVar(&relayURL, "relay", firehose.DefaultRelayURL, "firehose relay URL")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stream for this long, then stop (0 = until interrupted)")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "expose /health and /metrics while streaming")
	return cmd
}

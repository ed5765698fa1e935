package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
	"github.com/agile-enigma/bsky-multitool/pkg/config"
	"github.com/agile-enigma/bsky-multitool/pkg/logging"
	"github.com/agile-enigma/bsky-multitool/pkg/version"
)

var logger logging.Logger

// NewRootCmd returns the root command for the bsky-multitool CLI
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bsky-multitool",
		Short:         "Bluesky ingestion toolkit: stream, search, and graph social activity",
		Long:          "bsky-multitool ingests Bluesky activity from the live firehose or historical search, classifies and enriches each record, and delivers it to JSON/JSONL/CSV files or Kafka.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewCLILogger("bsky-multitool")
			config.LoadEnv(logger)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newStreamCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newFollowersCmd())
	rootCmd.AddCommand(newFollowingCmd())
	rootCmd.AddCommand(newRepostGraphCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "bsky-multitool %s (%s, built %s)\n", info.Version, info.GitCommit, info.BuildDate)
			return nil
		},
	}
}

// newSessionClient builds an authenticated app-view client from env
// credentials.
func newSessionClient(ctx context.Context, retry atproto.RetryConfig) (*atproto.Client, error) {
	handle := config.RequireEnv("BSKY_HANDLE")
	password := config.RequireEnv("BSKY_APP_PASSWORD")

	client := atproto.NewClient(atproto.Config{
		BaseURL: config.GetEnv("BSKY_PDS_URL", atproto.DefaultBaseURL),
		Logger:  logger,
		Retry:   retry,
	})
	if err := client.CreateSession(ctx, handle, password); err != nil {
		return nil, fmt.Errorf("creating session for %s: %w", handle, err)
	}
	logger.WithField("handle", client.Handle()).Debug("Session established")
	return client, nil
}

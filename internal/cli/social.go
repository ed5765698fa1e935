package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
)

func newFollowersCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "followers [actor]",
		Short: "List every account following an actor (defaults to the session account)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSocialList(cmd.Context(), args, output, func(ctx context.Context, client *atproto.Client, actor string) ([]atproto.ActorBasic, error) {
				return client.GetFollowers(ctx, actor)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the list to this JSON file instead of stdout")
	return cmd
}

func newFollowingCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "following [actor]",
		Short: "List every account an actor follows (defaults to the session account)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSocialList(cmd.Context(), args, output, func(ctx context.Context, client *atproto.Client, actor string) ([]atproto.ActorBasic, error) {
				return client.GetFollows(ctx, actor)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the list to this JSON file instead of stdout")
	return cmd
}

func runSocialList(ctx context.Context, args []string, output string, fetch func(context.Context, *atproto.Client, string) ([]atproto.ActorBasic, error)) error {
	client, err := newSessionClient(ctx, atproto.DefaultRetryConfig())
	if err != nil {
		return err
	}

	actor := client.DID()
	if len(args) == 1 {
		actor = args[0]
	}

	actors, err := fetch(ctx, client, actor)
	if err != nil {
		return fmt.Errorf("fetching graph for %s: %w", actor, err)
	}
	logger.WithField("actors", len(actors)).Debug("Fetched social graph page set")

	data, err := json.MarshalIndent(actors, "", "  ")
	if err != nil {
		return err
	}
	if output == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(output, data, 0o644)
}

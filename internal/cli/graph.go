package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
	"github.com/agile-enigma/bsky-multitool/pkg/graph"
)

func newRepostGraphCmd() *cobra.Command {
	var (
		maxPosts     int
		maxReposters int
		jsonOut      string
		nodesOut     string
		edgesOut     string
	)

	cmd := &cobra.Command{
		Use:   "repost-graph <search text>",
		Short: "Build a who-reposted-whom graph from matching posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newSessionClient(cmd.Context(), atproto.SearchRetryConfig())
			if err != nil {
				return err
			}

			g, err := graph.NewBuilder(client, graph.BuilderConfig{
				MaxPosts:     maxPosts,
				MaxReposters: maxReposters,
				Logger:       logger,
			}).Build(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "graph for %q: %d nodes, %d edges\n", args[0], len(g.Nodes), len(g.Edges))

			if nodesOut != "" || edgesOut != "" {
				if nodesOut == "" || edgesOut == "" {
					return fmt.Errorf("--nodes and --edges must be set together")
				}
				if err := g.WriteCSV(nodesOut, edgesOut); err != nil {
					return err
				}
			}
			if jsonOut != "" {
				return g.WriteJSON(jsonOut)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPosts, "max-posts", 100, "cap on matched posts to hydrate")
	cmd.Flags().IntVar(&maxReposters, "max-reposters", 500, "cap on reposters fetched per post")
	cmd.Flags().StringVar(&jsonOut, "json", "", "write the graph to this JSON file")
	cmd.Flags().StringVar(&nodesOut, "nodes", "", "write the node table to this CSV file")
	cmd.Flags().StringVar(&edgesOut, "edges", "", "write the edge table to this CSV file")
	return cmd
}

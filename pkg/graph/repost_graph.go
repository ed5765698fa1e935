package graph

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
	"github.com/agile-enigma/bsky-multitool/pkg/logging"
)

// Grapher is the lookup surface the builder drives. Satisfied by
// *atproto.Client.
type Grapher interface {
	SearchPosts(ctx context.Context, query, cursor string, limit int) (*atproto.SearchPage, error)
	GetRepostedBy(ctx context.Context, uri string, max int) ([]atproto.ActorBasic, error)
}

// Node is one account in the repost graph. Weight counts reposts the
// account gave plus reposts its posts received; Radius and Color derive
// from it for direct use by a renderer.
type Node struct {
	DID         string  `json:"id"`
	Handle      string  `json:"handle"`
	DisplayName string  `json:"display_name,omitempty"`
	Weight      int     `json:"weight"`
	Radius      float64 `json:"radius"`
	Color       string  `json:"color"`
}

// Edge is one repost: Source reposted a post authored by Target.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	URI    string `json:"uri"`
}

// RepostGraph is the node/edge tables for one query.
type RepostGraph struct {
	Query string `json:"query"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// BuilderConfig bounds a graph build.
type BuilderConfig struct {
	// MaxPosts caps how many matched posts get hydrated. Defaults to 100.
	MaxPosts int
	// MaxReposters caps reposters fetched per post. Defaults to 500.
	MaxReposters int
	Logger       logging.Logger
}

// Builder assembles repost graphs from search results.
type Builder struct {
	client       Grapher
	maxPosts     int
	maxReposters int
	logger       logging.Logger
}

// NewBuilder creates a graph builder over the client.
func NewBuilder(client Grapher, cfg BuilderConfig) *Builder {
	if cfg.MaxPosts < 1 {
		cfg.MaxPosts = 100
	}
	if cfg.MaxReposters < 1 {
		cfg.MaxReposters = 500
	}
	return &Builder{
		client:       client,
		maxPosts:     cfg.MaxPosts,
		maxReposters: cfg.MaxReposters,
		logger:       cfg.Logger,
	}
}

// Build searches for matching posts, hydrates who reposted each one,
// and assembles the node/edge tables. Posts whose reposters cannot be
// fetched are skipped with a warning.
func (b *Builder) Build(ctx context.Context, query string) (*RepostGraph, error) {
	posts, err := b.matchedPosts(ctx, query)
	if err != nil {
		return nil, err
	}

	weights := make(map[string]int)
	actors := make(map[string]atproto.ActorBasic)
	var edges []Edge

	for _, post := range posts {
		if post.RepostCount == 0 {
			continue
		}
		reposters, err := b.client.GetRepostedBy(ctx, post.URI, b.maxReposters)
		if err != nil {
			b.logger.WithError(err).WithField("uri", post.URI).Warn("Failed to fetch reposters")
			continue
		}
		actors[post.Author.DID] = post.Author
		for _, reposter := range reposters {
			actors[reposter.DID] = reposter
			weights[reposter.DID]++
			weights[post.Author.DID]++
			edges = append(edges, Edge{Source: reposter.DID, Target: post.Author.DID, URI: post.URI})
		}
	}

	graph := &RepostGraph{Query: query, Edges: edges}
	for did, actor := range actors {
		weight := weights[did]
		graph.Nodes = append(graph.Nodes, Node{
			DID:         did,
			Handle:      actor.Handle,
			DisplayName: actor.DisplayName,
			Weight:      weight,
			Radius:      nodeRadius(weight),
			Color:       nodeColor(weight),
		})
	}
	return graph, nil
}

func (b *Builder) matchedPosts(ctx context.Context, query string) ([]*atproto.Post, error) {
	var posts []*atproto.Post
	seen := make(map[string]bool)
	cursor := ""
	for len(posts) < b.maxPosts {
		limit := b.maxPosts - len(posts)
		if limit > 100 {
			limit = 100
		}
		page, err := b.client.SearchPosts(ctx, query, cursor, limit)
		if err != nil {
			return nil, fmt.Errorf("searching %q: %w", query, err)
		}
		for _, post := range page.Posts {
			if seen[post.URI] {
				continue
			}
			seen[post.URI] = true
			posts = append(posts, post)
		}
		if page.Cursor == nil || *page.Cursor == "" || len(page.Posts) == 0 {
			break
		}
		cursor = *page.Cursor
	}
	return posts, nil
}

// nodeRadius scales node size with the square root of its weight, so
// heavy amplifiers stay legible next to one-off reposters.
func nodeRadius(weight int) float64 {
	return 4 + 3*math.Sqrt(float64(weight))
}

// nodeColor buckets nodes by repost volume.
func nodeColor(weight int) string {
	switch {
	case weight >= 50:
		return "#d62728"
	case weight >= 10:
		return "#ff7f0e"
	case weight >= 3:
		return "#2ca02c"
	default:
		return "#1f77b4"
	}
}

// WriteJSON writes the whole graph as one JSON document.
func (g *RepostGraph) WriteJSON(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// WriteCSV writes the node and edge tables as two CSV files.
func (g *RepostGraph) WriteCSV(nodesPath, edgesPath string) error {
	if err := writeCSV(nodesPath, [][]string{{"id", "handle", "display_name", "weight", "radius", "color"}}, func(rows [][]string) [][]string {
		for _, n := range g.Nodes {
			rows = append(rows, []string{
				n.DID, n.Handle, n.DisplayName,
				strconv.Itoa(n.Weight),
				strconv.FormatFloat(n.Radius, 'f', 2, 64),
				n.Color,
			})
		}
		return rows
	}); err != nil {
		return err
	}
	return writeCSV(edgesPath, [][]string{{"source", "target", "uri"}}, func(rows [][]string) [][]string {
		for _, e := range g.Edges {
			rows = append(rows, []string{e.Source, e.Target, e.URI})
		}
		return rows
	})
}

func writeCSV(path string, rows [][]string, fill func([][]string) [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(fill(rows)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

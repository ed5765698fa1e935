package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
	"github.com/agile-enigma/bsky-multitool/pkg/logging"
	"github.com/agile-enigma/bsky-multitool/pkg/monitoring"
)

// Searcher is the paged search surface the paginator drives. Satisfied
// by *atproto.Client.
type Searcher interface {
	SearchPosts(ctx context.Context, query, cursor string, limit int) (*atproto.SearchPage, error)
}

// MaxPageSize is the search endpoint's per-page ceiling.
const MaxPageSize = 100

// DefaultPageDelay spaces out page requests.
const DefaultPageDelay = time.Second

// QueryOptions configures RunHistoricalQuery.
type QueryOptions struct {
	Searcher Searcher
	// Query is the search text, without time qualifiers; Since/Until
	// are appended as since:/until: qualifiers when set.
	Query string
	Since time.Time
	Until time.Time

	Filter   *Filter
	Stop     StopConditions
	Enricher *Enricher
	Sink     *BatchSink
	Logger   logging.Logger
	// Metrics may be nil.
	Metrics *monitoring.PipelineMetrics
	// Progress, when set, receives the stop-condition message.
	Progress io.Writer

	// PageSize defaults to MaxPageSize and is clamped to it.
	PageSize int
	// PageDelay is the inter-page interval; defaults to
	// DefaultPageDelay.
	PageDelay time.Duration
}

// RunHistoricalQuery pages through search results until the result set
// or a stop condition is exhausted. Results arrive newest first; when
// the server stops issuing cursors before the data runs out, paging
// continues from the oldest seen timestamp (an until: backfill) so a
// server-side cursor window never silently caps the result set.
// Records are deduplicated by URI across the whole run, including
// across the cursor-to-backfill transition.
//
// The collected records are returned when the sink runs in collect
// mode (no writer configured).
func RunHistoricalQuery(ctx context.Context, opts QueryOptions) ([]*EnrichedRecord, error) {
	if !opts.Since.IsZero() && !opts.Until.IsZero() && !opts.Since.Before(opts.Until) {
		return nil, fmt.Errorf("since bound %s is not before until bound %s",
			opts.Since.Format(time.RFC3339), opts.Until.Format(time.RFC3339))
	}
	if !opts.Stop.CutoffTime.IsZero() && opts.Stop.CutoffTime.After(time.Now()) {
		return nil, fmt.Errorf("historical cutoff time %s is in the future", opts.Stop.CutoffTime.Format(time.RFC3339))
	}

	pageSize := opts.PageSize
	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	delay := opts.PageDelay
	if delay <= 0 {
		delay = DefaultPageDelay
	}
	limiter := rate.NewLimiter(rate.Every(delay), 1)

	seen := make(map[string]bool)
	until := opts.Until
	cursor := ""
	stopReason := ""
	var runErr error

pages:
	for {
		if err := limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}

		limit := pageSize
		if opts.Stop.MaxItems > 0 {
			if remaining := opts.Stop.MaxItems - opts.Sink.Count(); remaining < limit {
				limit = remaining
			}
		}
		if limit < 1 {
			stopReason = fmt.Sprintf("max items reached (%d)", opts.Stop.MaxItems)
			break
		}

		page, err := opts.Searcher.SearchPosts(ctx, queryWithBounds(opts.Query, opts.Since, until), cursor, limit)
		if err != nil {
			if opts.Metrics != nil {
				opts.Metrics.PagesFetched.WithLabelValues("error").Inc()
			}
			runErr = fmt.Errorf("search page: %w", err)
			break
		}
		if opts.Metrics != nil {
			opts.Metrics.PagesFetched.WithLabelValues("ok").Inc()
		}

		var oldest time.Time
		for _, post := range page.Posts {
			if seen[post.URI] {
				continue
			}
			seen[post.URI] = true

			ev := eventFromPost(post)
			if created := ev.CreatedAt(); !created.IsZero() {
				oldest = created
				if !opts.Stop.CutoffTime.IsZero() && !created.After(opts.Stop.CutoffTime) {
					// Results are newest first: everything from here
					// on is out of range too.
					stopReason = "cutoff time reached"
					break pages
				}
			}

			action := Classify(ev.Collection, ev.Action, ev.Record)
			if opts.Metrics != nil {
				opts.Metrics.RecordsClassified.WithLabelValues(string(action)).Inc()
			}
			if !opts.Filter.Match(action, ev.Record) {
				continue
			}

			opts.Enricher.cache.SeedPost(post.URI, post)
			rec := opts.Enricher.Enrich(ctx, ev, action)
			if err := opts.Sink.Accept(ctx, rec, false); err != nil {
				runErr = err
				break pages
			}
			if opts.Stop.MaxItems > 0 && opts.Sink.Count() >= opts.Stop.MaxItems {
				stopReason = fmt.Sprintf("max items reached (%d)", opts.Stop.MaxItems)
				break pages
			}
		}

		if page.Cursor != nil && *page.Cursor != "" {
			cursor = *page.Cursor
			continue
		}

		// No cursor: the server's result window is exhausted, which is
		// not the same as no more matching data. Back-fill from the
		// oldest timestamp this run has reached.
		if len(page.Posts) == 0 || oldest.IsZero() || (!until.IsZero() && !oldest.Before(until)) {
			stopReason = "result set exhausted"
			break
		}
		opts.Logger.WithFields(logging.Fields{
			"query": opts.Query,
			"until": oldest.Format(time.RFC3339),
		}).Debug("Cursor exhausted, continuing via timestamp backfill")
		until = oldest
		cursor = ""
	}

	if err := opts.Sink.Accept(context.WithoutCancel(ctx), nil, true); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			opts.Logger.WithError(err).Error("Final flush failed")
		}
	}

	if stopReason != "" && opts.Progress != nil {
		fmt.Fprintf(opts.Progress, "\nStop condition reached: %s\n", stopReason)
	}
	// Collected records survive even an aborted run: an operator
	// interrupt must not discard already-enriched work.
	return opts.Sink.Collected(), runErr
}

// queryWithBounds appends since:/until: qualifiers to the search text.
func queryWithBounds(query string, since, until time.Time) string {
	if !since.IsZero() {
		query += " since:" + since.UTC().Format(time.RFC3339)
	}
	if !until.IsZero() {
		query += " until:" + until.UTC().Format(time.RFC3339)
	}
	return query
}

// eventFromPost adapts one search result to the shared event shape.
func eventFromPost(post *atproto.Post) *RawEvent {
	return &RawEvent{
		Repo:       post.Author.DID,
		Action:     "create",
		URI:        post.URI,
		CID:        post.CID,
		Collection: atproto.CollectionPost,
		Record:     post.Record,
	}
}

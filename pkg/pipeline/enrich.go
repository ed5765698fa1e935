package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
	"github.com/agile-enigma/bsky-multitool/pkg/logging"
	"github.com/agile-enigma/bsky-multitool/pkg/monitoring"
)

// Enricher resolves author, post, and target metadata for classified
// events. All lookups go through the MetadataCache; lookup failures are
// soft errors that null the affected field, never the whole record.
type Enricher struct {
	cache   *MetadataCache
	logger  logging.Logger
	metrics *monitoring.PipelineMetrics
}

// NewEnricher creates an enricher over the cache. metrics may be nil.
func NewEnricher(cache *MetadataCache, logger logging.Logger, metrics *monitoring.PipelineMetrics) *Enricher {
	return &Enricher{cache: cache, logger: logger, metrics: metrics}
}

// Enrich builds the fully-structured record for a classified event.
// It never fails: missing metadata is logged at Warn and left nil.
func (e *Enricher) Enrich(ctx context.Context, ev *RawEvent, action ActionType) *EnrichedRecord {
	start := time.Now()
	rec := &EnrichedRecord{RawEvent: *ev, ActionType: action}
	complete := true

	profile, err := e.cache.Profile(ctx, ev.Repo)
	if err != nil {
		complete = false
		e.logger.WithError(err).WithFields(logging.Fields{
			"repo": ev.Repo,
			"uri":  ev.URI,
		}).Warn("Failed to resolve author profile")
	} else {
		rec.Author = authorData(profile)
	}

	if action == ActionPost || action == ActionReply || action == ActionQuote {
		rec.Post = e.postData(ctx, ev, rec.Author)
	}

	if action.IsReference() {
		target, ok := e.resolveTarget(ctx, ev, action)
		if !ok {
			complete = false
		}
		rec.Target = target
	}

	if e.metrics != nil {
		status := "ok"
		if !complete {
			status = "partial"
		}
		e.metrics.RecordsEnriched.WithLabelValues(status).Inc()
		e.metrics.EnrichDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
	}
	return rec
}

// postData assembles the post view for the event's own record. The
// app-view lookup supplies engagement counts; a missing view (common
// for records seconds old on the live stream) degrades to record-only
// data.
func (e *Enricher) postData(ctx context.Context, ev *RawEvent, author *AuthorData) *PostData {
	pd := &PostData{URI: ev.URI}
	if ev.Record != nil {
		pd.Text = ev.Record.Text
		pd.CreatedAt = ev.Record.CreatedAt
		pd.Langs = ev.Record.Langs
		pd.Hashtags = ExtractTags(ev.Record)
		pd.Mentions = ExtractMentions(ev.Record)
		pd.Links = ExtractLinks(ev.Record)
	}
	if author != nil {
		pd.PostURL = PostURL(author.Handle, ev.URI)
	}

	view, err := e.cache.Post(ctx, ev.URI)
	if err != nil {
		if !errors.Is(err, atproto.ErrPostNotFound) {
			e.logger.WithError(err).WithField("uri", ev.URI).Warn("Failed to fetch post view")
		}
		return pd
	}
	pd.ReplyCount = view.ReplyCount
	pd.RepostCount = view.RepostCount
	pd.LikeCount = view.LikeCount
	pd.QuoteCount = view.QuoteCount
	return pd
}

// resolveTarget fetches the record a reference action points at, plus
// its author. Returns (nil, false) when the reference is missing or
// either fetch fails.
func (e *Enricher) resolveTarget(ctx context.Context, ev *RawEvent, action ActionType) (*TargetData, bool) {
	uri, ok := TargetURI(action, ev.Record)
	if !ok {
		e.logger.WithFields(logging.Fields{
			"uri":         ev.URI,
			"action_type": string(action),
		}).Warn("Record carries no target reference")
		return nil, false
	}

	post, err := e.cache.Post(ctx, uri)
	if err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{
			"uri":    ev.URI,
			"target": uri,
		}).Warn("Failed to resolve target post")
		return nil, false
	}

	target := &TargetData{URI: uri}
	target.Post = &PostData{
		URI:         post.URI,
		PostURL:     PostURL(post.Author.Handle, post.URI),
		ReplyCount:  post.ReplyCount,
		RepostCount: post.RepostCount,
		LikeCount:   post.LikeCount,
		QuoteCount:  post.QuoteCount,
	}
	if post.Record != nil {
		target.Post.Text = post.Record.Text
		target.Post.CreatedAt = post.Record.CreatedAt
		target.Post.Langs = post.Record.Langs
		target.Post.Hashtags = ExtractTags(post.Record)
		target.Post.Mentions = ExtractMentions(post.Record)
		target.Post.Links = ExtractLinks(post.Record)
	}

	profile, err := e.cache.Profile(ctx, post.Author.DID)
	if err != nil {
		e.logger.WithError(err).WithFields(logging.Fields{
			"target": uri,
			"actor":  post.Author.DID,
		}).Warn("Failed to resolve target author")
		return nil, false
	}
	target.Author = authorData(profile)
	return target, true
}

// TargetURI extracts the referenced resource address from the
// type-specific location in the record body.
func TargetURI(action ActionType, record *atproto.Record) (string, bool) {
	if record == nil {
		return "", false
	}
	switch action {
	case ActionRepost, ActionLike:
		if record.Subject != nil && record.Subject.URI != "" {
			return record.Subject.URI, true
		}
	case ActionQuote:
		if record.Embed != nil && record.Embed.Record != nil {
			er := record.Embed.Record
			if er.URI != "" {
				return er.URI, true
			}
			// recordWithMedia nests the reference one level deeper.
			if er.Record != nil && er.Record.URI != "" {
				return er.Record.URI, true
			}
		}
	case ActionReply:
		if record.Reply != nil && record.Reply.Root != nil && record.Reply.Root.URI != "" {
			return record.Reply.Root.URI, true
		}
	}
	return "", false
}

func authorData(p *atproto.Profile) *AuthorData {
	return &AuthorData{
		DID:            p.DID,
		Handle:         p.Handle,
		DisplayName:    p.DisplayName,
		Description:    p.Description,
		CreatedAt:      p.CreatedAt,
		FollowersCount: p.FollowersCount,
		FollowsCount:   p.FollowsCount,
		PostsCount:     p.PostsCount,
	}
}

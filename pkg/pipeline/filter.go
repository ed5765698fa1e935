package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
)

// Filter is a compound predicate over incoming records. Unset fields
// impose no constraint. Term and Types are cheap and applied before
// enrichment; HasLink needs the parsed record and runs after
// classification.
type Filter struct {
	term    *regexp.Regexp
	types   map[ActionType]bool
	hasLink bool
}

// FilterConfig describes the user-supplied filter criteria.
type FilterConfig struct {
	// Term is a regular expression matched case-insensitively against
	// the record text.
	Term string
	// Types restricts output to the named action types.
	Types []ActionType
	// HasLink keeps only records carrying an external link.
	HasLink bool
}

// NewFilter compiles a filter from its config. An invalid Term pattern
// is a configuration error.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	f := &Filter{hasLink: cfg.HasLink}
	if cfg.Term != "" {
		re, err := regexp.Compile("(?i)" + cfg.Term)
		if err != nil {
			return nil, fmt.Errorf("invalid filter term %q: %w", cfg.Term, err)
		}
		f.term = re
	}
	if len(cfg.Types) > 0 {
		f.types = make(map[ActionType]bool, len(cfg.Types))
		for _, t := range cfg.Types {
			f.types[t] = true
		}
	}
	return f, nil
}

// Match applies the full predicate to a classified event.
func (f *Filter) Match(action ActionType, record *atproto.Record) bool {
	if f == nil {
		return true
	}
	if f.types != nil && !f.types[action] {
		return false
	}
	if f.term != nil {
		if record == nil || !f.term.MatchString(record.Text) {
			return false
		}
	}
	if f.hasLink && len(ExtractLinks(record)) == 0 {
		return false
	}
	return true
}

// ExtractLinks collects external links from a record: the link-card
// embed URI plus any http(s) link facets in the text.
func ExtractLinks(record *atproto.Record) []string {
	if record == nil {
		return nil
	}
	var links []string
	seen := make(map[string]bool)
	add := func(uri string) {
		if strings.HasPrefix(uri, "http") && !seen[uri] {
			seen[uri] = true
			links = append(links, uri)
		}
	}
	if record.Embed != nil && record.Embed.Type == atproto.EmbedExternal && record.Embed.External != nil {
		add(record.Embed.External.URI)
	}
	for _, facet := range record.Facets {
		for _, feat := range facet.Features {
			if feat.URI != "" {
				add(feat.URI)
			}
		}
	}
	return links
}

// ExtractTags collects hashtag facets and any record-level tags.
func ExtractTags(record *atproto.Record) []string {
	if record == nil {
		return nil
	}
	var tags []string
	seen := make(map[string]bool)
	for _, facet := range record.Facets {
		for _, feat := range facet.Features {
			if feat.Tag != "" && !seen[feat.Tag] {
				seen[feat.Tag] = true
				tags = append(tags, feat.Tag)
			}
		}
	}
	for _, tag := range record.Tags {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// ExtractMentions collects mention facets (DIDs) from the record text.
func ExtractMentions(record *atproto.Record) []string {
	if record == nil {
		return nil
	}
	var mentions []string
	seen := make(map[string]bool)
	for _, facet := range record.Facets {
		for _, feat := range facet.Features {
			if feat.DID != "" && !seen[feat.DID] {
				seen[feat.DID] = true
				mentions = append(mentions, feat.DID)
			}
		}
	}
	return mentions
}

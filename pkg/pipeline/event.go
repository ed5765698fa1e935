package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
)

// ActionType is the semantic kind of a repository action.
type ActionType string

const (
	ActionPost   ActionType = "post"
	ActionReply  ActionType = "reply"
	ActionQuote  ActionType = "quote"
	ActionRepost ActionType = "repost"
	ActionLike   ActionType = "like"
	ActionOther  ActionType = "other"
)

// actionTypes is the closed set of valid classifications.
var actionTypes = map[ActionType]bool{
	ActionPost:   true,
	ActionReply:  true,
	ActionQuote:  true,
	ActionRepost: true,
	ActionLike:   true,
	ActionOther:  true,
}

// ParseActionType maps a user-supplied name to an ActionType. Unknown
// names are a configuration error, not a silently-empty filter.
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(strings.ToLower(strings.TrimSpace(s)))
	if !actionTypes[a] {
		return "", fmt.Errorf("unknown action type %q (valid: post, reply, quote, repost, like, other)", s)
	}
	return a, nil
}

// referenceActions are the action types that point at another record.
var referenceActions = map[ActionType]bool{
	ActionReply:  true,
	ActionQuote:  true,
	ActionRepost: true,
	ActionLike:   true,
}

// IsReference reports whether the action carries a target reference.
func (a ActionType) IsReference() bool {
	return referenceActions[a]
}

// RawEvent is a single repository action, produced either by the
// firehose decoder or from a search result. Immutable once built.
type RawEvent struct {
	Repo       string          `json:"repo"`
	Revision   string          `json:"rev,omitempty"`
	Sequence   int64           `json:"seq,omitempty"`
	Action     string          `json:"action"`
	URI        string          `json:"uri"`
	CID        string          `json:"cid,omitempty"`
	Path       string          `json:"path,omitempty"`
	Collection string          `json:"collection"`
	Record     *atproto.Record `json:"record,omitempty"`
}

// CreatedAt parses the record's creation timestamp. Returns the zero
// time when the record carries none or it does not parse.
func (e *RawEvent) CreatedAt() time.Time {
	if e.Record == nil || e.Record.CreatedAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, e.Record.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AuthorData is the enriched view of a record author.
type AuthorData struct {
	DID            string `json:"did"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"display_name,omitempty"`
	Description    string `json:"description,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	FollowersCount int64  `json:"followers_count"`
	FollowsCount   int64  `json:"follows_count"`
	PostsCount     int64  `json:"posts_count"`
}

// PostData is the enriched view of a post record: text plus the
// rich-text features and engagement counts resolved during enrichment.
type PostData struct {
	URI         string   `json:"uri"`
	PostURL     string   `json:"post_url,omitempty"`
	Text        string   `json:"text,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	Langs       []string `json:"langs,omitempty"`
	Hashtags    []string `json:"hashtags,omitempty"`
	Mentions    []string `json:"mentions,omitempty"`
	Links       []string `json:"links,omitempty"`
	ReplyCount  int64    `json:"reply_count"`
	RepostCount int64    `json:"repost_count"`
	LikeCount   int64    `json:"like_count"`
	QuoteCount  int64    `json:"quote_count"`
}

// TargetData resolves the record a reference action points at.
type TargetData struct {
	URI    string      `json:"uri"`
	Author *AuthorData `json:"author,omitempty"`
	Post   *PostData   `json:"post,omitempty"`
}

// EnrichedRecord is a RawEvent plus its classification and the resolved
// author, post, and target metadata. TargetData is non-nil only for
// reference actions whose target resolved successfully.
type EnrichedRecord struct {
	RawEvent
	ActionType ActionType  `json:"action_type"`
	Author     *AuthorData `json:"author_data,omitempty"`
	Post       *PostData   `json:"post_data,omitempty"`
	Target     *TargetData `json:"target_data,omitempty"`
}

// PostURL renders the public web URL for a post record.
func PostURL(handle, uri string) string {
	i := strings.LastIndexByte(uri, '/')
	if handle == "" || i < 0 {
		return ""
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, uri[i+1:])
}

package atproto

import "encoding/json"

// Collection NSIDs and embed types the classifier cares about.
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionRepost = "app.bsky.feed.repost"
	CollectionLike   = "app.bsky.feed.like"

	EmbedRecordType      = "app.bsky.embed.record"
	EmbedRecordWithMedia = "app.bsky.embed.recordWithMedia"
	EmbedExternal        = "app.bsky.embed.external"
)

// Profile represents an app.bsky.actor.defs#profileViewDetailed response.
type Profile struct {
	DID            string          `json:"did"`
	Handle         string          `json:"handle"`
	DisplayName    string          `json:"displayName,omitempty"`
	Description    string          `json:"description,omitempty"`
	Avatar         string          `json:"avatar,omitempty"`
	CreatedAt      string          `json:"createdAt,omitempty"`
	FollowersCount int64           `json:"followersCount"`
	FollowsCount   int64           `json:"followsCount"`
	PostsCount     int64           `json:"postsCount"`
	Associated     *Associated     `json:"associated,omitempty"`
	PinnedPost     *StrongRef      `json:"pinnedPost,omitempty"`
	Labels         json.RawMessage `json:"labels,omitempty"`
	Viewer         json.RawMessage `json:"viewer,omitempty"`
	Verification   json.RawMessage `json:"verification,omitempty"`
}

// Associated carries the profile's associated feature counts.
type Associated struct {
	Feedgens     int64 `json:"feedgens"`
	Lists        int64 `json:"lists"`
	StarterPacks int64 `json:"starterPacks"`
	Labeler      bool  `json:"labeler"`
}

// ActorBasic represents an app.bsky.actor.defs#profileViewBasic, the
// shape the social-graph endpoints return per actor.
type ActorBasic struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// Post represents an app.bsky.feed.defs#postView.
type Post struct {
	URI         string          `json:"uri"`
	CID         string          `json:"cid"`
	Author      ActorBasic      `json:"author"`
	Record      *Record         `json:"record"`
	ReplyCount  int64           `json:"replyCount"`
	RepostCount int64           `json:"repostCount"`
	LikeCount   int64           `json:"likeCount"`
	QuoteCount  int64           `json:"quoteCount"`
	IndexedAt   string          `json:"indexedAt,omitempty"`
	Labels      json.RawMessage `json:"labels,omitempty"`
}

// Record is the decoded body of a repository record. The same struct is
// populated from app-view JSON and from firehose DAG-CBOR blocks; field
// tags cover both decoders.
type Record struct {
	Type      string     `json:"$type"`
	Text      string     `json:"text,omitempty"`
	CreatedAt string     `json:"createdAt,omitempty"`
	Langs     []string   `json:"langs,omitempty"`
	Reply     *ReplyRef  `json:"reply,omitempty"`
	Embed     *Embed     `json:"embed,omitempty"`
	Subject   *StrongRef `json:"subject,omitempty"`
	Facets    []Facet    `json:"facets,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   *StrongRef `json:"root,omitempty"`
	Parent *StrongRef `json:"parent,omitempty"`
}

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid,omitempty"`
}

// Embed is the embedded content of a post. Quote posts carry a record
// reference, optionally wrapped with media; link cards carry an external.
type Embed struct {
	Type     string       `json:"$type"`
	Record   *EmbedRecord `json:"record,omitempty"`
	External *External    `json:"external,omitempty"`
}

// EmbedRecord is the record half of a quote embed. For
// app.bsky.embed.record the reference is inline; for recordWithMedia it
// is nested one level deeper.
type EmbedRecord struct {
	URI    string     `json:"uri,omitempty"`
	CID    string     `json:"cid,omitempty"`
	Record *StrongRef `json:"record,omitempty"`
}

// External is a link-card embed.
type External struct {
	URI         string `json:"uri"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Facet annotates a byte range of post text with features (hashtags,
// mentions, links).
type Facet struct {
	Features []FacetFeature `json:"features"`
}

// FacetFeature is a single rich-text feature. Exactly one of Tag, DID or
// URI is set depending on the feature type.
type FacetFeature struct {
	Type string `json:"$type"`
	Tag  string `json:"tag,omitempty"`
	DID  string `json:"did,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// SearchPage is one page of app.bsky.feed.searchPosts results. A nil
// Cursor means the server's result window is exhausted, which is not the
// same as no more matching data existing.
type SearchPage struct {
	Posts  []*Post `json:"posts"`
	Cursor *string `json:"cursor,omitempty"`
}

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

type postsResponse struct {
	Posts []*Post `json:"posts"`
}

type followersResponse struct {
	Followers []ActorBasic `json:"followers"`
	Cursor    *string      `json:"cursor,omitempty"`
}

type followsResponse struct {
	Follows []ActorBasic `json:"follows"`
	Cursor  *string      `json:"cursor,omitempty"`
}

type repostedByResponse struct {
	RepostedBy []ActorBasic `json:"repostedBy"`
	Cursor     *string      `json:"cursor,omitempty"`
}

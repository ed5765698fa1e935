package pipeline

import (
	"context"
	"testing"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
	"github.com/agile-enigma/bsky-multitool/pkg/logging"
)

func testEnricher(fetcher *fakeFetcher) *Enricher {
	return NewEnricher(NewMetadataCache(fetcher), logging.NewLoggerWithService("test"), nil)
}

func TestEnrichPostResolvesAuthorAndCounts(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.profiles["did:plc:a"] = &atproto.Profile{
		DID: "did:plc:a", Handle: "alice.bsky.social", FollowersCount: 42,
	}
	uri := "at://did:plc:a/app.bsky.feed.post/3k1"
	fetcher.posts[uri] = &atproto.Post{URI: uri, LikeCount: 5, RepostCount: 2}

	ev := &RawEvent{
		Repo:       "did:plc:a",
		Action:     "create",
		URI:        uri,
		Collection: atproto.CollectionPost,
		Record: &atproto.Record{
			Type:      atproto.CollectionPost,
			Text:      "shipped the thing #rustlang",
			CreatedAt: "2024-05-01T12:00:00Z",
			Facets: []atproto.Facet{
				{Features: []atproto.FacetFeature{{Type: "app.bsky.richtext.facet#tag", Tag: "rustlang"}}},
			},
		},
	}

	rec := testEnricher(fetcher).Enrich(context.Background(), ev, ActionPost)
	if rec.Author == nil || rec.Author.Handle != "alice.bsky.social" {
		t.Fatalf("author not resolved: %+v", rec.Author)
	}
	if rec.Author.FollowersCount != 42 {
		t.Fatalf("follower count not carried: %d", rec.Author.FollowersCount)
	}
	if rec.Post == nil {
		t.Fatal("post data missing")
	}
	if rec.Post.LikeCount != 5 || rec.Post.RepostCount != 2 {
		t.Fatalf("engagement counts not merged: %+v", rec.Post)
	}
	if len(rec.Post.Hashtags) != 1 || rec.Post.Hashtags[0] != "rustlang" {
		t.Fatalf("hashtags: %v", rec.Post.Hashtags)
	}
	if want := "https://bsky.app/profile/alice.bsky.social/post/3k1"; rec.Post.PostURL != want {
		t.Fatalf("post URL %q, want %q", rec.Post.PostURL, want)
	}
	if rec.Target != nil {
		t.Fatal("plain post must not carry target data")
	}
}

func TestEnrichRepostResolvesTarget(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.profiles["did:plc:reposter"] = &atproto.Profile{DID: "did:plc:reposter", Handle: "bob.bsky.social"}
	fetcher.profiles["did:plc:orig"] = &atproto.Profile{DID: "did:plc:orig", Handle: "carol.bsky.social"}
	target := "at://did:plc:orig/app.bsky.feed.post/3korig"
	fetcher.posts[target] = &atproto.Post{
		URI:    target,
		Author: atproto.ActorBasic{DID: "did:plc:orig", Handle: "carol.bsky.social"},
		Record: &atproto.Record{Type: atproto.CollectionPost, Text: "original"},
	}

	ev := &RawEvent{
		Repo:       "did:plc:reposter",
		Action:     "create",
		URI:        "at://did:plc:reposter/app.bsky.feed.repost/3krp",
		Collection: atproto.CollectionRepost,
		Record: &atproto.Record{
			Type:    atproto.CollectionRepost,
			Subject: &atproto.StrongRef{URI: target},
		},
	}

	rec := testEnricher(fetcher).Enrich(context.Background(), ev, ActionRepost)
	if rec.Target == nil {
		t.Fatal("target not resolved")
	}
	if rec.Target.URI != target {
		t.Fatalf("target URI %q", rec.Target.URI)
	}
	if rec.Target.Author == nil || rec.Target.Author.Handle != "carol.bsky.social" {
		t.Fatalf("target author: %+v", rec.Target.Author)
	}
	if rec.Target.Post == nil || rec.Target.Post.Text != "original" {
		t.Fatalf("target post: %+v", rec.Target.Post)
	}
}

func TestEnrichUnresolvableTargetYieldsNil(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.profiles["did:plc:a"] = &atproto.Profile{DID: "did:plc:a", Handle: "alice.bsky.social"}

	ev := &RawEvent{
		Repo:       "did:plc:a",
		Action:     "create",
		URI:        "at://did:plc:a/app.bsky.feed.post/3kq",
		Collection: atproto.CollectionPost,
		Record: &atproto.Record{
			Type: atproto.CollectionPost,
			Embed: &atproto.Embed{
				Type:   atproto.EmbedRecordType,
				Record: &atproto.EmbedRecord{URI: "at://did:plc:gone/app.bsky.feed.post/3kgone"},
			},
		},
	}

	rec := testEnricher(fetcher).Enrich(context.Background(), ev, ActionQuote)
	if rec.Target != nil {
		t.Fatalf("expected nil target for unresolvable reference, got %+v", rec.Target)
	}
	// The record itself survives.
	if rec.ActionType != ActionQuote || rec.Author == nil {
		t.Fatalf("record degraded beyond the target: %+v", rec)
	}
}

func TestEnrichTargetAuthorFailureYieldsNilTarget(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.profiles["did:plc:reposter"] = &atproto.Profile{DID: "did:plc:reposter", Handle: "bob.bsky.social"}
	// Target post resolves, but its author profile does not.
	target := "at://did:plc:gone/app.bsky.feed.post/3korig"
	fetcher.posts[target] = &atproto.Post{
		URI:    target,
		Author: atproto.ActorBasic{DID: "did:plc:gone", Handle: "gone.bsky.social"},
		Record: &atproto.Record{Type: atproto.CollectionPost, Text: "original"},
	}

	ev := &RawEvent{
		Repo:       "did:plc:reposter",
		Action:     "create",
		URI:        "at://did:plc:reposter/app.bsky.feed.repost/3krp",
		Collection: atproto.CollectionRepost,
		Record: &atproto.Record{
			Type:    atproto.CollectionRepost,
			Subject: &atproto.StrongRef{URI: target},
		},
	}

	rec := testEnricher(fetcher).Enrich(context.Background(), ev, ActionRepost)
	if rec.Target != nil {
		t.Fatalf("expected nil target when the author lookup fails, got %+v", rec.Target)
	}
	if rec.Author == nil || rec.Author.Handle != "bob.bsky.social" {
		t.Fatalf("record degraded beyond the target: %+v", rec.Author)
	}
}

func TestTargetURI(t *testing.T) {
	target := "at://did:plc:x/app.bsky.feed.post/3k1"
	tests := []struct {
		name   string
		action ActionType
		record *atproto.Record
		want   string
		ok     bool
	}{
		{"repost subject", ActionRepost, &atproto.Record{Subject: &atproto.StrongRef{URI: target}}, target, true},
		{"like subject", ActionLike, &atproto.Record{Subject: &atproto.StrongRef{URI: target}}, target, true},
		{"quote inline", ActionQuote, &atproto.Record{Embed: &atproto.Embed{Type: atproto.EmbedRecordType, Record: &atproto.EmbedRecord{URI: target}}}, target, true},
		{"quote nested under media", ActionQuote, &atproto.Record{Embed: &atproto.Embed{Type: atproto.EmbedRecordWithMedia, Record: &atproto.EmbedRecord{Record: &atproto.StrongRef{URI: target}}}}, target, true},
		{"reply root", ActionReply, &atproto.Record{Reply: &atproto.ReplyRef{Root: &atproto.StrongRef{URI: target}}}, target, true},
		{"missing subject", ActionRepost, &atproto.Record{}, "", false},
		{"nil record", ActionLike, nil, "", false},
		{"non-reference action", ActionPost, &atproto.Record{Subject: &atproto.StrongRef{URI: target}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TargetURI(tt.action, tt.record)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("TargetURI = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

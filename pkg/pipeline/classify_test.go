package pipeline

import (
	"testing"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
)

func TestClassify(t *testing.T) {
	quoteEmbed := &atproto.Embed{
		Type:   atproto.EmbedRecordType,
		Record: &atproto.EmbedRecord{URI: "at://did:plc:x/app.bsky.feed.post/3k1"},
	}
	quoteWithMedia := &atproto.Embed{
		Type:   atproto.EmbedRecordWithMedia,
		Record: &atproto.EmbedRecord{Record: &atproto.StrongRef{URI: "at://did:plc:x/app.bsky.feed.post/3k1"}},
	}
	reply := &atproto.ReplyRef{
		Root:   &atproto.StrongRef{URI: "at://did:plc:x/app.bsky.feed.post/3k0"},
		Parent: &atproto.StrongRef{URI: "at://did:plc:x/app.bsky.feed.post/3k1"},
	}

	tests := []struct {
		name       string
		collection string
		action     string
		record     *atproto.Record
		want       ActionType
	}{
		{"plain post", atproto.CollectionPost, "create", &atproto.Record{Type: atproto.CollectionPost, Text: "hi"}, ActionPost},
		{"quote embed", atproto.CollectionPost, "create", &atproto.Record{Type: atproto.CollectionPost, Embed: quoteEmbed}, ActionQuote},
		{"quote with media", atproto.CollectionPost, "create", &atproto.Record{Type: atproto.CollectionPost, Embed: quoteWithMedia}, ActionQuote},
		{"external embed is not a quote", atproto.CollectionPost, "create", &atproto.Record{Type: atproto.CollectionPost, Embed: &atproto.Embed{Type: atproto.EmbedExternal, External: &atproto.External{URI: "https://example.com"}}}, ActionPost},
		{"reply", atproto.CollectionPost, "create", &atproto.Record{Type: atproto.CollectionPost, Reply: reply}, ActionReply},
		{"quote wins over reply", atproto.CollectionPost, "create", &atproto.Record{Type: atproto.CollectionPost, Embed: quoteEmbed, Reply: reply}, ActionQuote},
		{"repost", atproto.CollectionRepost, "create", &atproto.Record{Type: atproto.CollectionRepost}, ActionRepost},
		{"like", atproto.CollectionLike, "create", &atproto.Record{Type: atproto.CollectionLike}, ActionLike},
		{"delete is other", atproto.CollectionPost, "delete", nil, ActionOther},
		{"update is other", atproto.CollectionRepost, "update", &atproto.Record{Type: atproto.CollectionRepost}, ActionOther},
		{"unknown collection", "app.bsky.graph.follow", "create", &atproto.Record{Type: "app.bsky.graph.follow"}, ActionOther},
		{"nil record post", atproto.CollectionPost, "create", nil, ActionPost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.collection, tt.action, tt.record)
			if got != tt.want {
				t.Fatalf("Classify(%s, %s) = %s, want %s", tt.collection, tt.action, got, tt.want)
			}
			// Pure: same inputs, same output.
			if again := Classify(tt.collection, tt.action, tt.record); again != got {
				t.Fatalf("classification not deterministic: %s then %s", got, again)
			}
		})
	}
}

func TestActionTypeIsReference(t *testing.T) {
	refs := map[ActionType]bool{
		ActionPost:   false,
		ActionReply:  true,
		ActionQuote:  true,
		ActionRepost: true,
		ActionLike:   true,
		ActionOther:  false,
	}
	for action, want := range refs {
		if action.IsReference() != want {
			t.Fatalf("%s.IsReference() = %v, want %v", action, action.IsReference(), want)
		}
	}
}

func TestParseActionType(t *testing.T) {
	for _, ok := range []string{"post", "reply", "quote", "repost", "like", "other", " Repost ", "LIKE"} {
		if _, err := ParseActionType(ok); err != nil {
			t.Fatalf("expected %q to parse: %v", ok, err)
		}
	}
	for _, bad := range []string{"repots", "posts", ""} {
		if _, err := ParseActionType(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

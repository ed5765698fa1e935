package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
)

// fakeFetcher is a scripted Fetcher recording call counts per key.
type fakeFetcher struct {
	mu           sync.Mutex
	profiles     map[string]*atproto.Profile
	posts        map[string]*atproto.Post
	profileCalls map[string]int
	postCalls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		profiles:     make(map[string]*atproto.Profile),
		posts:        make(map[string]*atproto.Post),
		profileCalls: make(map[string]int),
		postCalls:    make(map[string]int),
	}
}

func (f *fakeFetcher) GetProfile(ctx context.Context, actor string) (*atproto.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls[actor]++
	p, ok := f.profiles[actor]
	if !ok {
		return nil, fmt.Errorf("no such actor %s", actor)
	}
	return p, nil
}

func (f *fakeFetcher) GetPost(ctx context.Context, uri string) (*atproto.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls[uri]++
	p, ok := f.posts[uri]
	if !ok {
		return nil, atproto.ErrPostNotFound
	}
	return p, nil
}

func TestCacheMemoizesProfiles(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.profiles["did:plc:a"] = &atproto.Profile{DID: "did:plc:a", Handle: "alice.bsky.social"}
	cache := NewMetadataCache(fetcher)

	for i := 0; i < 5; i++ {
		p, err := cache.Profile(context.Background(), "did:plc:a")
		if err != nil {
			t.Fatalf("profile: %v", err)
		}
		if p.Handle != "alice.bsky.social" {
			t.Fatalf("unexpected handle %q", p.Handle)
		}
	}
	if fetcher.profileCalls["did:plc:a"] != 1 {
		t.Fatalf("expected 1 remote call, got %d", fetcher.profileCalls["did:plc:a"])
	}
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := NewMetadataCache(fetcher)
	uri := "at://did:plc:a/app.bsky.feed.post/3k1"

	if _, err := cache.Post(context.Background(), uri); err == nil {
		t.Fatal("expected error for unknown post")
	}
	// The post appears later; the cache must retry, not serve the failure.
	fetcher.mu.Lock()
	fetcher.posts[uri] = &atproto.Post{URI: uri}
	fetcher.mu.Unlock()

	p, err := cache.Post(context.Background(), uri)
	if err != nil {
		t.Fatalf("post after appearance: %v", err)
	}
	if p.URI != uri {
		t.Fatalf("unexpected post %q", p.URI)
	}
	if fetcher.postCalls[uri] != 2 {
		t.Fatalf("expected 2 remote calls, got %d", fetcher.postCalls[uri])
	}
}

func TestCacheSeedPostSkipsFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := NewMetadataCache(fetcher)
	uri := "at://did:plc:a/app.bsky.feed.post/3k1"

	cache.SeedPost(uri, &atproto.Post{URI: uri, LikeCount: 7})
	p, err := cache.Post(context.Background(), uri)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if p.LikeCount != 7 {
		t.Fatalf("unexpected like count %d", p.LikeCount)
	}
	if fetcher.postCalls[uri] != 0 {
		t.Fatalf("expected no remote calls, got %d", fetcher.postCalls[uri])
	}
}

func TestBoundedCacheEvictsOldest(t *testing.T) {
	fetcher := newFakeFetcher()
	for i := 0; i < 3; i++ {
		actor := fmt.Sprintf("did:plc:%d", i)
		fetcher.profiles[actor] = &atproto.Profile{DID: actor}
	}
	cache := NewBoundedMetadataCache(fetcher, 2)

	for i := 0; i < 3; i++ {
		if _, err := cache.Profile(context.Background(), fmt.Sprintf("did:plc:%d", i)); err != nil {
			t.Fatalf("profile %d: %v", i, err)
		}
	}
	profiles, _ := cache.Len()
	if profiles != 2 {
		t.Fatalf("expected 2 cached profiles, got %d", profiles)
	}
	// The first entry was evicted; fetching it again hits the remote.
	if _, err := cache.Profile(context.Background(), "did:plc:0"); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if fetcher.profileCalls["did:plc:0"] != 2 {
		t.Fatalf("expected eviction to force a refetch, got %d calls", fetcher.profileCalls["did:plc:0"])
	}
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.profiles["did:plc:a"] = &atproto.Profile{DID: "did:plc:a"}
	cache := NewMetadataCache(fetcher)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := cache.Profile(context.Background(), "did:plc:a"); err != nil {
				t.Errorf("profile: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if calls := fetcher.profileCalls["did:plc:a"]; calls > 2 {
		t.Fatalf("expected coalesced misses, got %d remote calls", calls)
	}
}

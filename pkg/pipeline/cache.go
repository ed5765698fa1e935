package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/agile-enigma/bsky-multitool/pkg/atproto"
)

// Fetcher is the remote lookup surface the cache memoizes. Satisfied
// by *atproto.Client.
type Fetcher interface {
	GetProfile(ctx context.Context, actor string) (*atproto.Profile, error)
	GetPost(ctx context.Context, uri string) (*atproto.Post, error)
}

// MetadataCache memoizes profile and post lookups for the lifetime of a
// run. Entries are created on first miss and never expire; a run's
// metadata is assumed stable while it executes. Concurrent misses for
// the same key are coalesced into one remote call.
//
// MaxEntries, when positive, bounds each table with FIFO eviction for
// long-running stream jobs. Zero keeps the tables unbounded.
type MetadataCache struct {
	fetcher    Fetcher
	maxEntries int

	mu           sync.Mutex
	profiles     map[string]*atproto.Profile
	profileOrder []string
	posts        map[string]*atproto.Post
	postOrder    []string

	group singleflight.Group
}

// NewMetadataCache creates an unbounded cache over the fetcher.
func NewMetadataCache(fetcher Fetcher) *MetadataCache {
	return NewBoundedMetadataCache(fetcher, 0)
}

// NewBoundedMetadataCache creates a cache holding at most maxEntries
// profiles and maxEntries posts. maxEntries <= 0 means unbounded.
func NewBoundedMetadataCache(fetcher Fetcher, maxEntries int) *MetadataCache {
	return &MetadataCache{
		fetcher:    fetcher,
		maxEntries: maxEntries,
		profiles:   make(map[string]*atproto.Profile),
		posts:      make(map[string]*atproto.Post),
	}
}

// Profile returns the cached profile for an actor, fetching on first
// use. Errors are not cached; a failed lookup retries on the next call.
func (c *MetadataCache) Profile(ctx context.Context, actor string) (*atproto.Profile, error) {
	c.mu.Lock()
	if p, ok := c.profiles[actor]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("profile:"+actor, func() (interface{}, error) {
		p, err := c.fetcher.GetProfile(ctx, actor)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.profileOrder = c.storeProfile(actor, p, c.profileOrder)
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*atproto.Profile), nil
}

// Post returns the cached post view for a URI, fetching on first use.
func (c *MetadataCache) Post(ctx context.Context, uri string) (*atproto.Post, error) {
	c.mu.Lock()
	if p, ok := c.posts[uri]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("post:"+uri, func() (interface{}, error) {
		p, err := c.fetcher.GetPost(ctx, uri)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.postOrder = c.storePost(uri, p, c.postOrder)
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*atproto.Post), nil
}

// SeedPost primes the cache with an already-fetched post view, so
// enrichment of search results does not refetch what the search page
// delivered.
func (c *MetadataCache) SeedPost(uri string, p *atproto.Post) {
	c.mu.Lock()
	c.postOrder = c.storePost(uri, p, c.postOrder)
	c.mu.Unlock()
}

// Len reports the current entry counts (profiles, posts).
func (c *MetadataCache) Len() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.profiles), len(c.posts)
}

func (c *MetadataCache) storeProfile(key string, p *atproto.Profile, order []string) []string {
	if _, ok := c.profiles[key]; ok {
		c.profiles[key] = p
		return order
	}
	c.profiles[key] = p
	order = append(order, key)
	if c.maxEntries > 0 && len(order) > c.maxEntries {
		delete(c.profiles, order[0])
		order = order[1:]
	}
	return order
}

func (c *MetadataCache) storePost(key string, p *atproto.Post, order []string) []string {
	if _, ok := c.posts[key]; ok {
		c.posts[key] = p
		return order
	}
	c.posts[key] = p
	order = append(order, key)
	if c.maxEntries > 0 && len(order) > c.maxEntries {
		delete(c.posts, order[0])
		order = order[1:]
	}
	return order
}

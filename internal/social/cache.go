package social

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CachedSearcher memoizes search results for a short window so operator- and
// ticker-triggered sweeps close together do not hammer the scrape API.
type CachedSearcher struct {
	inner Searcher
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	fetched time.Time
	posts   []Post
}

func NewCachedSearcher(inner Searcher, ttl time.Duration) *CachedSearcher {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSearcher{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedSearcher) Search(ctx context.Context, query string, limit int, since time.Time) ([]Post, error) {
	key := fmt.Sprintf("%s:%d:%d", query, limit, since.Unix())

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.fetched) < c.ttl {
		return entry.posts, nil
	}

	posts, err := c.inner.Search(ctx, query, limit, since)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{fetched: c.now(), posts: posts}
	c.mu.Unlock()
	return posts, nil
}

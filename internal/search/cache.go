package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/service"
)

type cacheEntry struct {
	expiry     time.Time
	candidates model.Candidates
}

// CachedSource memoizes search results for a TTL and collapses concurrent identical queries.
// Failures are never cached.
type CachedSource struct {
	next    service.CandidateSource
	entries map[string]cacheEntry
	stopCh  chan struct{}
	now     func() time.Time
	group   singleflight.Group
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

var _ service.CandidateSource = (*CachedSource)(nil)

// NewCachedSource wraps next with a result cache.
func NewCachedSource(next service.CandidateSource, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	c := &CachedSource{
		next:    next,
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go c.cleanup()

	return c
}

func cacheKey(query string, topK int, threshold float64) string {
	return fmt.Sprintf("%s|%d|%.4f", strings.ToLower(strings.Join(strings.Fields(query), " ")), topK, threshold)
}

// Search returns cached results when fresh, otherwise queries the wrapped source once
// for all concurrent callers asking the same thing.
func (c *CachedSource) Search(ctx context.Context, query string, topK int, threshold float64) (model.Candidates, error) {
	key := cacheKey(query, topK, threshold)

	if candidates, ok := c.get(key); ok {
		return candidates, nil
	}

	// The shared search outlives any single caller's cancellation.
	ch := c.group.DoChan(key, func() (any, error) {
		if candidates, ok := c.get(key); ok {
			return candidates, nil
		}
		candidates, err := c.next.Search(context.WithoutCancel(ctx), query, topK, threshold)
		if err != nil {
			return nil, err
		}
		c.set(key, candidates)
		return candidates, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(model.Candidates).Clone(), nil
	}
}

func (c *CachedSource) get(key string) (model.Candidates, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || c.now().After(entry.expiry) {
		return nil, false
	}
	return entry.candidates.Clone(), true
}

func (c *CachedSource) set(key string, candidates model.Candidates) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		candidates: candidates.Clone(),
		expiry:     c.now().Add(c.ttl),
	}
}

// Len returns the number of cached queries, expired or not.
func (c *CachedSource) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *CachedSource) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (c *CachedSource) Close() {
	c.once.Do(func() {
		close(c.stopCh)
	})
}

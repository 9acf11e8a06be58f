// Package querycache caches hybrid search results keyed on the
// normalized query plus the options that affect ranking, so repeated
// queries against an unchanged index skip BM25/vector search and fusion
// entirely. Invalidated wholesale on every committed document, matching
// spec.md's "cache is cheap, staleness is not" stance for a single-user
// local index.
package querycache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/minara-dev/minara/internal/search"
)

// DefaultCapacity is the number of distinct (query, top_k, threshold)
// result sets kept in memory.
const DefaultCapacity = 100

// Cache is a bounded LRU of search results keyed on NFC-normalized
// query text plus the parameters that change ranking.
type Cache struct {
	lru *lru.Cache[string, []*search.SearchResult]
}

// New creates a Cache with the given capacity. Capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[string, []*search.SearchResult](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	return &Cache{lru: l}, nil
}

// Key builds the cache key for a query. Two queries that differ only
// in Unicode normalization form or incidental whitespace hit the same
// entry; two queries with the same text but different limit or
// threshold do not.
func Key(query string, topK int, threshold float64) string {
	normalized := norm.NFC.String(query)
	return fmt.Sprintf("%s\x00%d\x00%g", normalized, topK, threshold)
}

// Get returns the cached results for key, if present.
func (c *Cache) Get(key string) ([]*search.SearchResult, bool) {
	return c.lru.Get(key)
}

// Put stores results under key.
func (c *Cache) Put(key string, results []*search.SearchResult) {
	c.lru.Add(key, results)
}

// InvalidateAll discards every cached entry. Called once per committed
// document from the storage stage and from every self-heal repair,
// since any single write can change ranking for an arbitrary query.
func (c *Cache) InvalidateAll() {
	c.lru.Purge()
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}

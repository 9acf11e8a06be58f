package control

import (
	"context"
	"fmt"
	"strings"

	cerrors "github.com/minara-dev/minara/internal/errors"
	"github.com/minara-dev/minara/internal/querycache"
	"github.com/minara-dev/minara/internal/search"
)

// QueryOptions configures Query, per spec's
// `query(text, top_k=5, threshold=0.0, decompose=true, rerank=false)`.
type QueryOptions struct {
	TopK       int
	Threshold  float64
	Decompose  bool
	Rerank     bool
	Filter     string
	Language   string
	SymbolType string
	Scopes     []string
}

// DefaultQueryOptions returns spec's documented defaults.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{
		TopK:      5,
		Threshold: 0.0,
		Decompose: true,
		Rerank:    false,
	}
}

// Query executes a hybrid search: cache lookup, then embed + hybrid
// search + optional rerank, then threshold filter, then cache store,
// per spec §4.13's Query Executor ordering.
func (p *Plane) Query(ctx context.Context, text string, opts QueryOptions) ([]*search.SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, cerrors.BadRequestError("query text must not be empty", nil)
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultQueryOptions().TopK
	}

	cacheKey := querycache.Key(text, opts.TopK, opts.Threshold)
	if p.cache != nil {
		if cached, ok := p.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	searchOpts := search.SearchOptions{
		Limit:      opts.TopK,
		Filter:     opts.Filter,
		Language:   opts.Language,
		SymbolType: opts.SymbolType,
		Scopes:     opts.Scopes,
		// Decompose/Rerank default to on inside Engine.Search; these
		// flags only ever turn them OFF for this call.
		DisableDecompose: !opts.Decompose,
		SkipRerank:       !opts.Rerank,
	}

	results, err := p.engine.Search(ctx, text, searchOpts)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	if opts.Threshold > 0 {
		results = filterByThreshold(results, opts.Threshold)
	}

	if p.cache != nil {
		p.cache.Put(cacheKey, results)
	}

	return results, nil
}

func filterByThreshold(results []*search.SearchResult, threshold float64) []*search.SearchResult {
	filtered := make([]*search.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= threshold {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

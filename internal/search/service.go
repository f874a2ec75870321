// Package search turns questions into embedding vectors and retrieves
// candidate chunks from the knowledge store.
//
// Query embeddings are cached in a small LRU keyed by the exact text, and
// concurrent misses for the same text are coalesced into a single provider
// call, so a burst of identical questions costs one embedding request.
//
// Retrieval is best-effort: store and provider failures are logged and yield
// an empty candidate list. The caller decides what an empty context means.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/pythia/internal/observe"
	"github.com/MrWong99/pythia/internal/textnorm"
	"github.com/MrWong99/pythia/pkg/knowledge"
	"github.com/MrWong99/pythia/pkg/provider/embeddings"
)

// entityFetchFactor scales k into the fetch size for entity-restricted
// searches. The filtered result set is small, so a fixed factor suffices.
const entityFetchFactor = 2

// Service retrieves ranked-candidate chunks for a question. It owns the
// query embedding cache and bounds every provider and store call with a
// per-call timeout.
type Service struct {
	embedder embeddings.Provider
	store    knowledge.Store

	embedCache *lru.Cache[string, []float32]
	flight     singleflight.Group
	metrics    *observe.Metrics

	cacheSize  int
	multiplier int
	timeout    time.Duration
}

// Option is a functional option for [NewService].
type Option func(*Service)

// WithEmbedCacheSize sets the capacity of the query embedding LRU.
// Defaults to 200.
func WithEmbedCacheSize(n int) Option {
	return func(s *Service) { s.cacheSize = n }
}

// WithCandidateMultiplier sets how many times k candidates [Service.Semantic]
// fetches from the store, leaving the ranker room to reorder and drop.
// Defaults to 3.
func WithCandidateMultiplier(n int) Option {
	return func(s *Service) { s.multiplier = n }
}

// WithTimeout bounds a single embedding provider call or knowledge store
// search. Defaults to 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithMetrics replaces the default metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a search [Service] over the given embedding provider and
// knowledge store. Apply [Option] values to override the defaults.
func NewService(embedder embeddings.Provider, store knowledge.Store, opts ...Option) (*Service, error) {
	s := &Service{
		embedder:   embedder,
		store:      store,
		metrics:    observe.DefaultMetrics(),
		cacheSize:  200,
		multiplier: 3,
		timeout:    5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	cache, err := lru.New[string, []float32](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("search: create embedding cache: %w", err)
	}
	s.embedCache = cache
	return s, nil
}

// Embed returns the embedding vector for text.
//
// The LRU cache is consulted first. On a miss, concurrent callers asking for
// the same text share a single provider call; the result is cached before any
// of them return. The provider call is bounded by the service timeout.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.embedCache.Get(text); ok {
		s.metrics.RecordEmbedCache(ctx, true)
		return vec, nil
	}
	s.metrics.RecordEmbedCache(ctx, false)
	v, err, _ := s.flight.Do(text, func() (any, error) {
		embedCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		vec, err := s.embedder.Embed(embedCtx, text)
		if err != nil {
			return nil, fmt.Errorf("search: embed text: %w", err)
		}
		s.embedCache.Add(text, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// Semantic returns the nearest chunks to query by embedding distance. It
// fetches multiplier×k candidates so the ranker can reorder and drop before
// trimming to the final result count.
//
// The query is cleaned with [textnorm.Clean] before embedding. Failures are
// logged and yield an empty slice.
func (s *Service) Semantic(ctx context.Context, query string, k int) []knowledge.SearchHit {
	start := time.Now()
	vec, err := s.Embed(ctx, textnorm.Clean(query))
	if err != nil {
		slog.Error("search: query embedding failed", "err", err)
		return []knowledge.SearchHit{}
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	hits, err := s.store.Search(searchCtx, vec, k*s.multiplier)
	if err != nil {
		slog.Error("search: semantic search failed", "err", err, "limit", k*s.multiplier)
		return []knowledge.SearchHit{}
	}
	s.metrics.RecordRetrieval(ctx, "semantic", time.Since(start))
	return hits
}

// EntityFirst returns the nearest chunks to query among those whose body
// contains entityText as a case-insensitive substring. It fetches 2×k
// candidates and marks every hit as an exact entity match so the ranker
// applies the entity boost unconditionally.
//
// Failures are logged and yield an empty slice.
func (s *Service) EntityFirst(ctx context.Context, query, entityText string, k int) []knowledge.SearchHit {
	start := time.Now()
	vec, err := s.Embed(ctx, textnorm.Clean(query))
	if err != nil {
		slog.Error("search: query embedding failed", "err", err)
		return []knowledge.SearchHit{}
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	hits, err := s.store.SearchContaining(searchCtx, vec, entityText, entityFetchFactor*k)
	if err != nil {
		slog.Error("search: entity search failed", "err", err, "entity", entityText)
		return []knowledge.SearchHit{}
	}
	for i := range hits {
		hits[i].ExactMatch = true
	}
	s.metrics.RecordRetrieval(ctx, "entity", time.Since(start))
	return hits
}

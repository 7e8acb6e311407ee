// Package query serves ranked searches against the shared index.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/AvengeMedia/dankseek/internal/errdefs"
	"github.com/AvengeMedia/dankseek/internal/metrics"
	"github.com/AvengeMedia/dankseek/internal/model"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Index is the read side of the indexer. Search must rank under a read lock
// and report the generation the ranking belongs to.
type Index interface {
	Search(query string) ([]model.Result, uint64)
	Generation() uint64
}

type entry struct {
	generation uint64
	results    []model.Result
}

// Service caches full rankings per query text. An entry is only served while
// the index generation it was computed at is still current.
type Service struct {
	index   Index
	cache   *lru.Cache[string, entry]
	metrics *metrics.Metrics
}

// New creates a Service. A cacheSize of zero or less disables caching.
func New(index Index, cacheSize int, m *metrics.Metrics) (*Service, error) {
	s := &Service{index: index, metrics: m}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if cacheSize > 0 {
		c, err := lru.New[string, entry](cacheSize)
		if err != nil {
			return nil, errdefs.NewCustomError(errdefs.ErrTypeInvalidConfig, "query cache", err)
		}
		s.cache = c
	}
	return s, nil
}

// Search returns every indexed document ranked against q, best first. The
// returned slice is shared with the cache and must not be modified.
func (s *Service) Search(ctx context.Context, q string) ([]model.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeSearchFailed, q, err)
	}

	start := time.Now()
	key := strings.TrimSpace(q)

	if s.cache != nil {
		if e, ok := s.cache.Get(key); ok && e.generation == s.index.Generation() {
			s.observe("hit", start)
			return e.results, nil
		}
	}

	results, gen := s.index.Search(q)
	if s.cache != nil {
		s.cache.Add(key, entry{generation: gen, results: results})
	}
	s.observe("miss", start)
	return results, nil
}

// Top returns at most n results. n of zero or less means all of them.
func (s *Service) Top(ctx context.Context, q string, n int) ([]model.Result, error) {
	results, err := s.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// Purge drops all cached rankings.
func (s *Service) Purge() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *Service) observe(status string, start time.Time) {
	s.metrics.SearchQueriesTotal.WithLabelValues(status).Inc()
	s.metrics.SearchLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

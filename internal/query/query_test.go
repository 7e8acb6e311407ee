package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AvengeMedia/dankseek/internal/errdefs"
	"github.com/AvengeMedia/dankseek/internal/metrics"
	"github.com/AvengeMedia/dankseek/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIndex is a model behind a lock with a generation counter, like the indexer.
type fakeIndex struct {
	mu       sync.RWMutex
	model    *model.Model
	gen      uint64
	searches int
}

func newFakeIndex() *fakeIndex {
	f := &fakeIndex{model: model.New()}
	f.add("/a.txt", "Andy is Andy.")
	f.add("/b.txt", "Amy is Amy.")
	return f
}

func (f *fakeIndex) add(path, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model.AddDocument(path, text, time.Now())
	f.gen++
}

func (f *fakeIndex) Search(q string) ([]model.Result, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	return f.model.Search(q), f.gen
}

func (f *fakeIndex) Generation() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.gen
}

func TestService_Search(t *testing.T) {
	svc, err := New(newFakeIndex(), 16, nil)
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), "andy")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "/a.txt", results[0].Path)
	assert.Positive(t, results[0].Score)
	assert.Equal(t, 0.0, results[1].Score)
}

func TestService_CacheHitAndInvalidation(t *testing.T) {
	idx := newFakeIndex()
	m := metrics.New()
	svc, err := New(idx, 16, m)
	require.NoError(t, err)
	ctx := context.Background()

	first, _ := svc.Search(ctx, "andy")
	second, _ := svc.Search(ctx, "  andy ")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, idx.searches, "second query should be served from cache")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("hit")))

	idx.add("/c.txt", "Andy Andy Andy")
	third, _ := svc.Search(ctx, "andy")
	assert.Equal(t, 2, idx.searches, "a new generation must bypass the cache")
	require.Len(t, third, 3)
	assert.Equal(t, "/c.txt", third[0].Path)
}

func TestService_CacheDisabled(t *testing.T) {
	idx := newFakeIndex()
	svc, err := New(idx, 0, nil)
	require.NoError(t, err)

	svc.Search(context.Background(), "andy")
	svc.Search(context.Background(), "andy")
	assert.Equal(t, 2, idx.searches)
	svc.Purge()
}

func TestService_Top(t *testing.T) {
	svc, err := New(newFakeIndex(), 16, nil)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		n    int
		want int
	}{
		{1, 1},
		{2, 2},
		{15, 2},
		{0, 2},
		{-1, 2},
	}
	for _, tt := range tests {
		results, err := svc.Top(ctx, "amy", tt.n)
		require.NoError(t, err)
		assert.Len(t, results, tt.want, "n=%d", tt.n)
	}

	top, _ := svc.Top(ctx, "amy", 1)
	full, _ := svc.Search(ctx, "amy")
	assert.Len(t, full, 2, "truncating must not shrink the cached ranking")
	assert.Equal(t, full[0], top[0])
}

func TestService_CancelledContext(t *testing.T) {
	svc, err := New(newFakeIndex(), 16, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.Search(ctx, "andy")
	assert.ErrorIs(t, err, errdefs.ErrSearchFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_ConcurrentSearches(t *testing.T) {
	idx := newFakeIndex()
	svc, err := New(idx, 4, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				results, err := svc.Search(context.Background(), "andy")
				if err != nil || len(results) < 2 {
					t.Errorf("Search() = %v, %v", results, err)
					return
				}
			}
		}()
	}
	for n := 0; n < 20; n++ {
		idx.add("/extra.txt", "Andy again")
	}
	wg.Wait()
}

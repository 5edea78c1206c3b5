package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
	"github.com/JakeFAU/sneaky-snake/internal/storage/memory"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newResolver(store scrape.Store) *Resolver {
	return New(store, &seqIDs{}, &tickingClock{now: time.Unix(0, 0).UTC()}, zap.NewNop())
}

func seedTerminal(t *testing.T, store scrape.Store, id, url, selector string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, scrape.Result{RequestID: id, URL: url, Selector: selector, TimeoutMs: 10000}))
	ts := time.Unix(50, 0).UTC()
	require.NoError(t, store.Commit(ctx, scrape.Result{
		RequestID: id, Content: scrape.StringPtr("cached"), Processed: true, ProcessedAt: &ts,
	}))
}

func TestResolveCreatesPendingRecordOnMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewResultStore()
	res, err := newResolver(store).Resolve(ctx, 2500, []Request{{URL: "https://example.com", UseCache: true}})
	require.NoError(t, err)
	require.Empty(t, res.Cached)
	require.Equal(t, []string{"id-1"}, res.New)

	rec, err := store.FindByID(ctx, "id-1")
	require.NoError(t, err)
	require.True(t, rec.Pending())
	require.Equal(t, 2500, rec.TimeoutMs)
	require.Nil(t, rec.Content)
	require.Nil(t, rec.Errors)
	require.Nil(t, rec.ProcessedAt)
}

func TestResolveCacheHitReturnsExistingID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewResultStore()
	seedTerminal(t, store, "old", "https://example.com", "h1")

	res, err := newResolver(store).Resolve(ctx, 10000, []Request{{URL: "https://example.com", Selector: "h1", UseCache: true}})
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, res.Cached)
	require.Empty(t, res.New)
	require.Equal(t, 1, store.Len())

	rec, err := store.FindByID(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, "cached", *rec.Content)
}

func TestResolveBypassReplacesRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewResultStore()
	seedTerminal(t, store, "old", "https://example.com", "")

	res, err := newResolver(store).Resolve(ctx, 10000, []Request{{URL: "https://example.com", UseCache: false}})
	require.NoError(t, err)
	require.Equal(t, []string{"id-1"}, res.New)

	_, err = store.FindByID(ctx, "old")
	require.ErrorIs(t, err, scrape.ErrNotFound)
	rec, err := store.FindByID(ctx, "id-1")
	require.NoError(t, err)
	require.True(t, rec.Pending())
}

func TestResolveMatchesSelectorAsPartOfKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewResultStore()
	seedTerminal(t, store, "plain", "https://example.com", "")

	res, err := newResolver(store).Resolve(ctx, 10000, []Request{
		{URL: "https://example.com", Selector: "h1", UseCache: true},
		{URL: "https://example.com", UseCache: true},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"plain"}, res.Cached)
	require.Equal(t, []string{"id-1"}, res.New)
	require.Equal(t, []string{"plain", "id-1"}, res.IDs())

	rec, err := store.FindByID(ctx, "id-1")
	require.NoError(t, err)
	require.Equal(t, "h1", rec.Selector)

	// A bypass for the selector-specific key must leave the plain record alone.
	_, err = newResolver(store).Resolve(ctx, 10000, []Request{{URL: "https://example.com", Selector: "h1"}})
	require.NoError(t, err)
	_, err = store.FindByID(ctx, "plain")
	require.NoError(t, err)
}

func TestResolveDuplicateBypassInBatchKeepsLastRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewResultStore()
	res, err := newResolver(store).Resolve(ctx, 10000, []Request{
		{URL: "https://example.com"},
		{URL: "https://example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"id-1", "id-2"}, res.New)

	_, err = store.FindByID(ctx, "id-1")
	require.ErrorIs(t, err, scrape.ErrNotFound)
	current, err := store.FindByKey(ctx, "https://example.com", "")
	require.NoError(t, err)
	require.Equal(t, "id-2", current.RequestID)
}

func TestResolveDuplicateCachedItemsShareRecord(t *testing.T) {
	t.Parallel()

	res, err := newResolver(memory.NewResultStore()).Resolve(context.Background(), 10000, []Request{
		{URL: "https://example.com", UseCache: true},
		{URL: "https://example.com", UseCache: true},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"id-1"}, res.New)
	require.Equal(t, []string{"id-1"}, res.Cached)
}

func TestResolveStoreFailureRollsBackBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &flakyStore{ResultStore: memory.NewResultStore(), failCreateAfter: 1}
	_, err := newResolver(store).Resolve(ctx, 10000, []Request{
		{URL: "https://a.example", UseCache: true},
		{URL: "https://b.example", UseCache: true},
	})
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, 0, store.Len())
}

func TestResolveLookupFailureAborts(t *testing.T) {
	t.Parallel()

	store := &flakyStore{ResultStore: memory.NewResultStore(), failLookup: true}
	_, err := newResolver(store).Resolve(context.Background(), 10000, []Request{{URL: "https://a.example", UseCache: true}})
	require.ErrorContains(t, err, "lookup https://a.example")
}

type flakyStore struct {
	*memory.ResultStore
	mu              sync.Mutex
	creates         int
	failCreateAfter int
	failLookup      bool
}

func (s *flakyStore) Create(ctx context.Context, result scrape.Result) error {
	s.mu.Lock()
	s.creates++
	n := s.creates
	s.mu.Unlock()
	if s.failCreateAfter > 0 && n > s.failCreateAfter {
		return errors.New("disk full")
	}
	return s.ResultStore.Create(ctx, result)
}

func (s *flakyStore) FindByKey(ctx context.Context, url, selector string) (scrape.Result, error) {
	if s.failLookup {
		return scrape.Result{}, errors.New("connection reset")
	}
	return s.ResultStore.FindByKey(ctx, url, selector)
}

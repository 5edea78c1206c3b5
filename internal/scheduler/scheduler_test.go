package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/dispatcher"
	memqueue "github.com/JakeFAU/sneaky-snake/internal/queue/memory"
	"github.com/JakeFAU/sneaky-snake/internal/scrape"
	memstore "github.com/JakeFAU/sneaky-snake/internal/storage/memory"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	items []scrape.QueueItem
	err   error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, item scrape.QueueItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.items = append(e.items, item)
	return nil
}

func (e *recordingEnqueuer) snapshot() []scrape.QueueItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]scrape.QueueItem(nil), e.items...)
}

func noWait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func TestScheduleEnqueuesEveryID(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{}
	s := New(enq, Config{MinDelaySeconds: 0, MaxDelaySeconds: 4}, zap.NewNop(), WithWait(noWait))
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Schedule([]string{"a", "b", "c"}, true))

	require.Eventually(t, func() bool { return len(enq.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	ids := make([]string, 0, 3)
	for _, item := range enq.snapshot() {
		ids = append(ids, item.RequestID)
		require.True(t, item.Stealth)
		require.GreaterOrEqual(t, item.Delay, time.Duration(0))
		require.LessOrEqual(t, item.Delay, 4*time.Second)
		require.Zero(t, item.Delay%time.Second)
	}
	sort.Strings(ids)
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestScheduleDrawsDelayPerItem(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	draws := []int{0, 4, 2}
	var spans []int
	intN := func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		spans = append(spans, n)
		v := draws[0]
		draws = draws[1:]
		return v
	}
	var waited []time.Duration
	wait := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		waited = append(waited, d)
		mu.Unlock()
		return ctx.Err()
	}

	enq := &recordingEnqueuer{}
	s := New(enq, Config{MinDelaySeconds: 1, MaxDelaySeconds: 5}, zap.NewNop(), WithRand(intN), WithWait(wait))
	require.NoError(t, s.Schedule([]string{"a", "b", "c"}, false))
	require.Eventually(t, func() bool { return len(enq.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	require.Equal(t, []int{5, 5, 5}, spans)
	delays := map[string]time.Duration{}
	for _, item := range enq.snapshot() {
		delays[item.RequestID] = item.Delay
	}
	require.Equal(t, map[string]time.Duration{"a": time.Second, "b": 5 * time.Second, "c": 3 * time.Second}, delays)
	require.Len(t, waited, 3)
}

func TestScheduleReturnsBeforeDelayElapses(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{}
	s := New(enq, Config{MinDelaySeconds: 30, MaxDelaySeconds: 30}, zap.NewNop())

	start := time.Now()
	require.NoError(t, s.Schedule([]string{"later"}, false))
	require.Less(t, time.Since(start), time.Second)
	require.Empty(t, enq.snapshot())

	// Close cancels the pending timer, dropping the item.
	require.NoError(t, s.Close())
	require.Empty(t, enq.snapshot())
	require.ErrorIs(t, s.Schedule([]string{"x"}, false), ErrClosed)
	require.NoError(t, s.Close())
}

func TestScheduleZeroDelayUsesRealTimer(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{}
	s := New(enq, Config{}, zap.NewNop())
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Schedule([]string{"now"}, false))
	require.Eventually(t, func() bool { return len(enq.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduleWaitsOutFullQueue(t *testing.T) {
	t.Parallel()

	queue := memqueue.NewQueue(1)
	s := New(dispatcher.New(queue, nil), Config{}, zap.NewNop())
	defer func() { _ = s.Close() }()

	ids := []string{"a", "b", "c", "d"}
	require.NoError(t, s.Schedule(ids, false))

	// A slow consumer keeps the queue full for most of the run.
	var got []string
	for range ids {
		time.Sleep(50 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		item, err := queue.Dequeue(ctx)
		cancel()
		require.NoError(t, err)
		got = append(got, item.RequestID)
	}
	sort.Strings(got)
	require.Equal(t, ids, got)
}

func TestScheduleCommitsFailedHandoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.NewResultStore()
	require.NoError(t, store.Create(ctx, scrape.Result{RequestID: "r1", URL: "https://a.test", TimeoutMs: 1000}))
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	enq := &recordingEnqueuer{err: errors.New("redis: connection refused")}
	s := New(enq, Config{}, zap.NewNop(), WithWait(noWait), WithFailureStore(store, fixedClock(now)))
	require.NoError(t, s.Schedule([]string{"r1"}, false))
	require.NoError(t, s.Close())

	rec, err := store.FindByID(ctx, "r1")
	require.NoError(t, err)
	require.True(t, rec.Processed)
	require.Nil(t, rec.Content)
	require.NotNil(t, rec.Errors)
	require.Equal(t, "enqueue failed: redis: connection refused", *rec.Errors)
	require.NotNil(t, rec.ProcessedAt)
	require.True(t, now.Equal(*rec.ProcessedAt))
}

func TestCloseReleasesBlockedHandoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := memqueue.NewQueue(1)
	require.NoError(t, queue.Enqueue(ctx, scrape.QueueItem{RequestID: "filler"}))
	store := memstore.NewResultStore()
	require.NoError(t, store.Create(ctx, scrape.Result{RequestID: "r1", URL: "https://a.test", TimeoutMs: 1000}))

	s := New(dispatcher.New(queue, nil), Config{}, zap.NewNop(), WithFailureStore(store, fixedClock(time.Now())))
	require.NoError(t, s.Schedule([]string{"r1"}, false))
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close did not release the blocked handoff")
	}

	// Shutdown loses unstarted work; it is not recorded as a failure.
	rec, err := store.FindByID(ctx, "r1")
	require.NoError(t, err)
	require.False(t, rec.Processed)
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func TestNewClampsInvalidRange(t *testing.T) {
	t.Parallel()

	s := New(&recordingEnqueuer{}, Config{MinDelaySeconds: -3, MaxDelaySeconds: -5}, zap.NewNop())
	defer func() { _ = s.Close() }()
	require.Equal(t, time.Duration(0), s.nextDelay())
}

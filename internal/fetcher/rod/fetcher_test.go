package rod

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	require.Equal(t, defaultMaxPages, f.cfg.MaxPages)
	require.Equal(t, defaultMaxPages, cap(f.pool))
	require.Nil(t, f.browser)
}

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	require.NoError(t, checkStatus(0))
	require.NoError(t, checkStatus(200))
	require.NoError(t, checkStatus(304))
	require.EqualError(t, checkStatus(404), "http status 404")
	require.EqualError(t, checkStatus(503), "http status 503")
}

func TestFetchCanceledContextSkipsLaunch(t *testing.T) {
	t.Parallel()

	f := New(Config{MaxPages: 1}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, scrape.FetchRequest{URL: "https://example.com", Stealth: true})
	var fetchErr *scrape.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, f.browser)
}

func TestFetchGivesUpWaitingForPageSlot(t *testing.T) {
	t.Parallel()

	f := New(Config{MaxPages: 1}, zap.NewNop())
	f.slots <- struct{}{}

	start := time.Now()
	_, err := f.Fetch(context.Background(), scrape.FetchRequest{URL: "https://example.com", Timeout: 50 * time.Millisecond})
	require.ErrorContains(t, err, "page slot wait canceled")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
	require.Nil(t, f.browser)

	f.release()
	require.Empty(t, f.slots)
}

func TestCloseWithoutLaunch(t *testing.T) {
	t.Parallel()

	f := New(Config{}, zap.NewNop())
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err := f.connect()
	require.ErrorContains(t, err, "closed")
}

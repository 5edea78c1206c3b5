package headless

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2, Headless: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = fetcher.Close() }()
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
}

func TestAllocatorOptionsFollowConfig(t *testing.T) {
	t.Parallel()

	base := len(allocatorOptions(Config{Headless: true}))
	extended := len(allocatorOptions(Config{Headless: true, NoSandbox: true, BrowserBin: "/usr/bin/chromium", ProfileDir: "/tmp/p"}))
	require.Equal(t, base+3, extended)
}

func TestTimeoutFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultTimeout, timeoutFor(scrape.FetchRequest{}))
	require.Equal(t, 3*time.Second, timeoutFor(scrape.FetchRequest{Timeout: 3 * time.Second}))
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	f := &Fetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, f.acquire(ctx), context.Canceled)

	f.release()
	require.NoError(t, f.acquire(context.Background()))
}

func TestFetchCanceledWhileWaitingForSlot(t *testing.T) {
	t.Parallel()

	f := &Fetcher{limiter: make(chan struct{}, 1)}
	f.limiter <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, scrape.FetchRequest{URL: "https://example.com"})
	var fetchErr *scrape.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, "https://example.com", fetchErr.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResponseMetaKeepsFirstDocumentStatus(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500},
	})
	require.Zero(t, meta.status())

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/missing"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example/frame"},
	})
	require.Equal(t, 404, meta.status())
}

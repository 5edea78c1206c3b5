// Package storetest holds behavioural checks shared by every scrape.Store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

// Factory returns a fresh, empty store for a single subtest.
type Factory func(t *testing.T) scrape.Store

var epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func pending(id, url, selector string, offset time.Duration) scrape.Result {
	return scrape.Result{
		RequestID: id,
		URL:       url,
		Selector:  selector,
		TimeoutMs: 10000,
		CreatedAt: epoch.Add(offset),
	}
}

func terminal(id string, content, errText *string) scrape.Result {
	ts := epoch.Add(time.Hour)
	return scrape.Result{
		RequestID:   id,
		Content:     content,
		Errors:      errText,
		Processed:   true,
		ProcessedAt: &ts,
	}
}

// Run exercises the full store contract against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and find by id", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, pending("a", "https://example.com", "", 0)))

		got, err := store.FindByID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", got.URL)
		assert.Equal(t, "", got.Selector)
		assert.Equal(t, 10000, got.TimeoutMs)
		assert.False(t, got.Processed)
		assert.Nil(t, got.ProcessedAt)
		assert.Nil(t, got.Content)
		assert.Nil(t, got.Errors)
	})

	t.Run("unknown id", func(t *testing.T) {
		store := newStore(t)
		_, err := store.FindByID(ctx, "missing")
		require.ErrorIs(t, err, scrape.ErrNotFound)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, pending("dup", "https://example.com", "", 0)))
		require.Error(t, store.Create(ctx, pending("dup", "https://example.com/other", "", 0)))
	})

	t.Run("find by key matches url and selector together", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, pending("plain", "https://example.com", "", 0)))
		require.NoError(t, store.Create(ctx, pending("h1", "https://example.com", "h1", time.Second)))
		require.NoError(t, store.Create(ctx, pending("other", "https://other.example", "h1", 2*time.Second)))

		got, err := store.FindByKey(ctx, "https://example.com", "")
		require.NoError(t, err)
		assert.Equal(t, "plain", got.RequestID)

		got, err = store.FindByKey(ctx, "https://example.com", " h1 ")
		require.NoError(t, err)
		assert.Equal(t, "h1", got.RequestID)

		got, err = store.FindByKey(ctx, "https://other.example", "h1")
		require.NoError(t, err)
		assert.Equal(t, "other", got.RequestID)

		_, err = store.FindByKey(ctx, "https://example.com", "h2")
		require.ErrorIs(t, err, scrape.ErrNotFound)
		_, err = store.FindByKey(ctx, "https://other.example", "")
		require.ErrorIs(t, err, scrape.ErrNotFound)
	})

	t.Run("find by key prefers newest record", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, pending("old", "https://example.com", "p", 0)))
		require.NoError(t, store.Create(ctx, pending("new", "https://example.com", "p", time.Minute)))

		got, err := store.FindByKey(ctx, "https://example.com", "p")
		require.NoError(t, err)
		assert.Equal(t, "new", got.RequestID)
	})

	t.Run("delete removes record permanently", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, pending("gone", "https://example.com", "", 0)))
		require.NoError(t, store.Delete(ctx, "gone"))

		_, err := store.FindByID(ctx, "gone")
		require.ErrorIs(t, err, scrape.ErrNotFound)
		_, err = store.FindByKey(ctx, "https://example.com", "")
		require.ErrorIs(t, err, scrape.ErrNotFound)
		require.ErrorIs(t, store.Delete(ctx, "gone"), scrape.ErrNotFound)
	})

	t.Run("commit writes terminal state once", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, pending("c", "https://example.com", "", 0)))

		first := terminal("c", scrape.StringPtr("<html>hello</html>"), nil)
		require.NoError(t, store.Commit(ctx, first))

		second := terminal("c", nil, scrape.StringPtr("late failure"))
		require.NoError(t, store.Commit(ctx, second))

		got, err := store.FindByID(ctx, "c")
		require.NoError(t, err)
		require.True(t, got.Terminal())
		require.NotNil(t, got.Content)
		assert.Equal(t, "<html>hello</html>", *got.Content)
		assert.Nil(t, got.Errors)
		assert.WithinDuration(t, *first.ProcessedAt, *got.ProcessedAt, time.Second)
	})

	t.Run("commit records failures", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, pending("f", "https://example.com", "", 0)))
		require.NoError(t, store.Commit(ctx, terminal("f", nil, scrape.StringPtr("TimeoutError"))))

		got, err := store.FindByID(ctx, "f")
		require.NoError(t, err)
		require.True(t, got.Terminal())
		require.NotNil(t, got.Errors)
		assert.Equal(t, "TimeoutError", *got.Errors)
		assert.Nil(t, got.Content)
	})

	t.Run("commit rejects non terminal and unknown records", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, pending("p", "https://example.com", "", 0)))

		require.ErrorIs(t, store.Commit(ctx, scrape.Result{RequestID: "p"}), scrape.ErrNotTerminal)
		both := terminal("p", scrape.StringPtr("x"), scrape.StringPtr("y"))
		require.ErrorIs(t, store.Commit(ctx, both), scrape.ErrNotTerminal)
		require.ErrorIs(t,
			store.Commit(ctx, terminal("nope", scrape.StringPtr("x"), nil)),
			scrape.ErrNotFound)

		got, err := store.FindByID(ctx, "p")
		require.NoError(t, err)
		assert.True(t, got.Pending())
	})

	t.Run("concurrent create commit and lookups", func(t *testing.T) {
		store := newStore(t)
		const writers = 8
		errs := make(chan error, writers*16)
		var wg sync.WaitGroup

		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("c%d", i)
				url := fmt.Sprintf("https://example.com/%d", i%2)
				if err := store.Create(ctx, pending(id, url, "", time.Duration(i)*time.Millisecond)); err != nil {
					errs <- fmt.Errorf("create %s: %w", id, err)
					return
				}
				// Two committers race on the same record; the second is a no-op.
				var commits sync.WaitGroup
				for j := 0; j < 2; j++ {
					commits.Add(1)
					go func(j int) {
						defer commits.Done()
						content := scrape.StringPtr(fmt.Sprintf("body-%d-%d", i, j))
						if err := store.Commit(ctx, terminal(id, content, nil)); err != nil {
							errs <- fmt.Errorf("commit %s: %w", id, err)
						}
					}(j)
				}
				commits.Wait()
			}(i)

			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for n := 0; n < 5; n++ {
					if _, err := store.FindByKey(ctx, fmt.Sprintf("https://example.com/%d", i%2), ""); err != nil && !errors.Is(err, scrape.ErrNotFound) {
						errs <- fmt.Errorf("find by key: %w", err)
					}
					if _, err := store.FindByID(ctx, fmt.Sprintf("c%d", i)); err != nil && !errors.Is(err, scrape.ErrNotFound) {
						errs <- fmt.Errorf("find by id: %w", err)
					}
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}

		for i := 0; i < writers; i++ {
			got, err := store.FindByID(ctx, fmt.Sprintf("c%d", i))
			require.NoError(t, err)
			assert.True(t, got.Processed)
			require.NotNil(t, got.Content)
			assert.Contains(t, []string{fmt.Sprintf("body-%d-0", i), fmt.Sprintf("body-%d-1", i)}, *got.Content)
		}
	})
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
	"github.com/JakeFAU/sneaky-snake/internal/storage/storetest"
)

func TestResultStoreContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) scrape.Store {
		return NewResultStore()
	})
}

func TestResultStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewResultStore()
	require.NoError(t, store.Create(ctx, scrape.Result{RequestID: "id", URL: "https://example.com"}))

	got, err := store.FindByID(ctx, "id")
	require.NoError(t, err)
	got.URL = "mutated"

	again, err := store.FindByID(ctx, "id")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", again.URL)
	require.Equal(t, 1, store.Len())
	require.NoError(t, store.Close())
}

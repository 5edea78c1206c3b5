// Package resolver classifies submitted items as cache hits or new work.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/metrics"
	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

// Request is one submitted (url, selector) item.
type Request struct {
	URL      string
	Selector string
	UseCache bool
}

// Resolution splits a batch into reused and freshly created request ids, each in input order.
type Resolution struct {
	Cached []string
	New    []string
}

// IDs returns cached ids followed by new ids.
func (r Resolution) IDs() []string {
	out := make([]string, 0, len(r.Cached)+len(r.New))
	out = append(out, r.Cached...)
	return append(out, r.New...)
}

// Resolver looks up, replaces, or creates result records.
type Resolver struct {
	store  scrape.Store
	ids    scrape.IDGenerator
	clock  scrape.Clock
	logger *zap.Logger
}

// New constructs a Resolver.
func New(store scrape.Store, ids scrape.IDGenerator, clock scrape.Clock, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Resolver{store: store, ids: ids, clock: clock, logger: logger}
}

// Resolve classifies every request sequentially. Later items observe the effects of earlier ones,
// so a second bypass of the same key replaces the record the first one created.
// A store failure aborts the batch and deletes the records this call created.
func (r *Resolver) Resolve(ctx context.Context, timeoutMs int, reqs []Request) (Resolution, error) {
	var res Resolution
	for _, req := range reqs {
		key := scrape.NewKey(req.URL, req.Selector)

		existing, err := r.store.FindByKey(ctx, key.URL, key.Selector)
		switch {
		case err == nil && req.UseCache:
			res.Cached = append(res.Cached, existing.RequestID)
			metrics.ObserveResolution(metrics.OutcomeCached)
			r.logger.Debug("cache hit",
				zap.String("request_id", existing.RequestID),
				zap.String("url", key.URL),
				zap.String("selector", key.Selector))
			continue
		case err == nil:
			if delErr := r.store.Delete(ctx, existing.RequestID); delErr != nil && !errors.Is(delErr, scrape.ErrNotFound) {
				r.rollback(ctx, res.New)
				return Resolution{}, fmt.Errorf("delete cached result %s: %w", existing.RequestID, delErr)
			}
			metrics.ObserveResolution(metrics.OutcomeReplaced)
			r.logger.Debug("cache bypass replaced record",
				zap.String("request_id", existing.RequestID),
				zap.String("url", key.URL))
		case !errors.Is(err, scrape.ErrNotFound):
			r.rollback(ctx, res.New)
			return Resolution{}, fmt.Errorf("lookup %s: %w", key.URL, err)
		}

		id, err := r.create(ctx, key, timeoutMs)
		if err != nil {
			r.rollback(ctx, res.New)
			return Resolution{}, err
		}
		res.New = append(res.New, id)
		metrics.ObserveResolution(metrics.OutcomeNew)
	}
	return res, nil
}

func (r *Resolver) create(ctx context.Context, key scrape.Key, timeoutMs int) (string, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return "", err
	}
	rec := scrape.Result{
		RequestID: id,
		URL:       key.URL,
		Selector:  key.Selector,
		TimeoutMs: timeoutMs,
		CreatedAt: r.clock.Now(),
	}
	if err := r.store.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("create result for %s: %w", key.URL, err)
	}
	return id, nil
}

// rollback removes records created earlier in an aborted batch.
func (r *Resolver) rollback(ctx context.Context, ids []string) {
	cleanupCtx := context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := r.store.Delete(cleanupCtx, id); err != nil && !errors.Is(err, scrape.ErrNotFound) {
			r.logger.Warn("rollback delete failed", zap.String("request_id", id), zap.Error(err))
		}
	}
}

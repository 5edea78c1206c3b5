// Package fetcher routes fetch requests to the configured page fetch engines.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

// Router sends stealth requests to the stealth engine when one is configured
// and everything else to the default engine.
type Router struct {
	primary scrape.Fetcher
	stealth scrape.Fetcher
	logger  *zap.Logger
}

// NewRouter builds a Router. stealth may be nil.
func NewRouter(primary, stealth scrape.Fetcher, logger *zap.Logger) (*Router, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{primary: primary, stealth: stealth, logger: logger}, nil
}

// Fetch implements scrape.Fetcher.
func (r *Router) Fetch(ctx context.Context, request scrape.FetchRequest) (string, error) {
	if request.Stealth && r.stealth != nil {
		return r.stealth.Fetch(ctx, request)
	}
	if request.Stealth {
		r.logger.Debug("stealth engine disabled, using default engine",
			zap.String("request_id", request.RequestID))
	}
	return r.primary.Fetch(ctx, request)
}

// Close releases any engine that holds resources.
func (r *Router) Close() error {
	var errs []error
	for _, f := range []scrape.Fetcher{r.primary, r.stealth} {
		if c, ok := f.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Package intake validates scrape batches, resolves them against the store, and schedules new work.
package intake

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	whatwgUrl "github.com/nlnwa/whatwg-url/url"
	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/extract"
	"github.com/JakeFAU/sneaky-snake/internal/resolver"
	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

var urlParser = whatwgUrl.NewParser(whatwgUrl.WithPercentEncodeSinglePercentSign())

// Item is one entry of a submitted batch.
type Item struct {
	URL      string
	Selector string
	UseCache bool
}

// Batch is a submitted set of items sharing stealth and timeout settings.
// TimeoutMs of zero means the configured default.
type Batch struct {
	Items     []Item
	Stealth   bool
	TimeoutMs int
}

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Resolver classifies batch items.
type Resolver interface {
	Resolve(ctx context.Context, timeoutMs int, reqs []resolver.Request) (resolver.Resolution, error)
}

// Scheduler starts fetch workflows for new ids.
type Scheduler interface {
	Schedule(ids []string, stealth bool) error
}

// Config holds intake limits.
type Config struct {
	DefaultTimeoutMs int
	MaxTimeoutMs     int
	MaxBatchSize     int
}

// Service is the entry point for submissions and result lookups.
type Service struct {
	cfg       Config
	store     scrape.Store
	resolver  Resolver
	scheduler Scheduler
	logger    *zap.Logger
}

// New constructs a Service.
func New(cfg Config, store scrape.Store, res Resolver, sched Scheduler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTimeoutMs <= 0 {
		cfg.DefaultTimeoutMs = 10000
	}
	return &Service{cfg: cfg, store: store, resolver: res, scheduler: sched, logger: logger}
}

// Submit validates the batch, classifies every item, and schedules one workflow per new record.
// It returns cached ids followed by new ids, each in input order.
func (s *Service) Submit(ctx context.Context, batch Batch) ([]string, error) {
	timeoutMs, err := s.validate(batch)
	if err != nil {
		return nil, err
	}

	reqs := make([]resolver.Request, len(batch.Items))
	for i, item := range batch.Items {
		reqs[i] = resolver.Request{URL: item.URL, Selector: item.Selector, UseCache: item.UseCache}
	}

	s.logger.Info("scrape batch received", zap.Int("urls", len(reqs)), zap.Bool("stealth", batch.Stealth))
	res, err := s.resolver.Resolve(ctx, timeoutMs, reqs)
	if err != nil {
		return nil, fmt.Errorf("resolve batch: %w", err)
	}

	if len(res.New) > 0 {
		if err := s.scheduler.Schedule(res.New, batch.Stealth); err != nil {
			s.logger.Error("schedule failed", zap.Strings("request_ids", res.New), zap.Error(err))
			s.discard(ctx, res.New)
			return nil, fmt.Errorf("schedule batch: %w", err)
		}
	}

	s.logger.Info("scrape batch accepted",
		zap.Int("cached", len(res.Cached)),
		zap.Int("new", len(res.New)),
	)
	return res.IDs(), nil
}

// discard removes records that will never get a workflow.
func (s *Service) discard(ctx context.Context, ids []string) {
	cleanupCtx := context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := s.store.Delete(cleanupCtx, id); err != nil && !errors.Is(err, scrape.ErrNotFound) {
			s.logger.Warn("discard unscheduled record failed", zap.String("request_id", id), zap.Error(err))
		}
	}
}

// Lookup returns the record for id or scrape.ErrNotFound.
func (s *Service) Lookup(ctx context.Context, id string) (scrape.Result, error) {
	if strings.TrimSpace(id) == "" {
		return scrape.Result{}, scrape.ErrNotFound
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return scrape.Result{}, err
	}
	return rec, nil
}

func (s *Service) validate(batch Batch) (int, error) {
	if len(batch.Items) == 0 {
		return 0, &ValidationError{Field: "urls", Reason: "at least one url is required"}
	}
	if s.cfg.MaxBatchSize > 0 && len(batch.Items) > s.cfg.MaxBatchSize {
		return 0, &ValidationError{Field: "urls", Reason: fmt.Sprintf("at most %d urls per batch", s.cfg.MaxBatchSize)}
	}

	timeoutMs := batch.TimeoutMs
	switch {
	case timeoutMs == 0:
		timeoutMs = s.cfg.DefaultTimeoutMs
	case timeoutMs < 0:
		return 0, &ValidationError{Field: "timeout", Reason: "must be positive"}
	case s.cfg.MaxTimeoutMs > 0 && timeoutMs > s.cfg.MaxTimeoutMs:
		return 0, &ValidationError{Field: "timeout", Reason: fmt.Sprintf("must be <= %d", s.cfg.MaxTimeoutMs)}
	}

	for i, item := range batch.Items {
		field := fmt.Sprintf("urls[%d]", i)
		if err := validateURL(item.URL); err != nil {
			return 0, &ValidationError{Field: field + ".url", Reason: err.Error()}
		}
		if err := extract.ValidateSelector(item.Selector); err != nil {
			return 0, &ValidationError{Field: field + ".selector", Reason: err.Error()}
		}
	}
	return timeoutMs, nil
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("is required")
	}
	parsed, err := urlParser.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	u, err := url.Parse(parsed.Href(false))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not supported", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

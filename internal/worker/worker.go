// Package worker implements the fetch workflow execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/metrics"
	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

const (
	engineDefault = "default"
	engineStealth = "stealth"

	commitTimeout = 5 * time.Second

	defaultDequeueBackoff = 250 * time.Millisecond
	maxDequeueBackoff     = 5 * time.Second
)

// Config controls Worker behavior.
type Config struct {
	// Topic receives completion notifications when non-empty.
	Topic string
	// DefaultTimeout applies when a record carries no usable timeout.
	DefaultTimeout time.Duration
	// DequeueBackoff is the first pause after a failed dequeue. It doubles per
	// consecutive failure up to 5s.
	DequeueBackoff time.Duration
}

// Notification is the completion event published after each terminal commit.
type Notification struct {
	RequestID   string    `json:"request_id"`
	URL         string    `json:"url"`
	Selector    string    `json:"selector,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
	Success     bool      `json:"success"`
	Errors      string    `json:"errors,omitempty"`
}

// Worker consumes queue items and runs one fetch workflow per item.
type Worker struct {
	queue     scrape.Queue
	store     scrape.Store
	fetcher   scrape.Fetcher
	publisher scrape.Publisher
	clock     scrape.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue scrape.Queue,
	store scrape.Store,
	fetcher scrape.Fetcher,
	publisher scrape.Publisher,
	clock scrape.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if cfg.DequeueBackoff <= 0 {
		cfg.DequeueBackoff = defaultDequeueBackoff
	}
	return &Worker{
		queue:     queue,
		store:     store,
		fetcher:   fetcher,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	backoff := w.cfg.DequeueBackoff
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, scrape.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err), zap.Duration("backoff", backoff))
			if !pause(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxDequeueBackoff)
			continue
		}
		backoff = w.cfg.DequeueBackoff
		w.logger.Debug("dequeued workflow", zap.String("request_id", item.RequestID))
		w.processItem(ctx, item)
	}
}

// pause waits d and reports false if ctx ended first.
func pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) processItem(ctx context.Context, item scrape.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	engine := engineDefault
	if item.Stealth {
		engine = engineStealth
	}

	rec, err := w.store.FindByID(ctx, item.RequestID)
	if err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			w.logger.Error("result record missing, aborting workflow", zap.String("request_id", item.RequestID))
		} else {
			w.logger.Error("load result record failed", zap.String("request_id", item.RequestID), zap.Error(err))
		}
		metrics.ObserveWorkflow("", engine, metrics.OutcomeAborted, 0, time.Since(start))
		return
	}
	if rec.Processed {
		w.logger.Warn("result already processed, skipping", zap.String("request_id", rec.RequestID))
		return
	}

	final := w.execute(ctx, rec, item.Stealth)

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := w.store.Commit(commitCtx, final); err != nil {
		w.logger.Error("commit result failed", zap.String("request_id", rec.RequestID), zap.Error(err))
		metrics.ObserveWorkflow(rec.URL, engine, metrics.OutcomeAborted, 0, time.Since(start))
		return
	}

	outcome := metrics.OutcomeSuccess
	contentBytes := 0
	if final.Content != nil {
		contentBytes = len(*final.Content)
		w.logger.Info("workflow succeeded",
			zap.String("request_id", rec.RequestID),
			zap.String("url", rec.URL),
			zap.Int("content_bytes", contentBytes),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		outcome = metrics.OutcomeFailure
		w.logger.Warn("workflow failed",
			zap.String("request_id", rec.RequestID),
			zap.String("url", rec.URL),
			zap.String("errors", *final.Errors),
			zap.Duration("duration", time.Since(start)),
		)
	}
	metrics.ObserveWorkflow(rec.URL, engine, outcome, contentBytes, time.Since(start))

	w.publishCompletion(commitCtx, final)
}

// execute runs the fetch and returns the record in terminal shape.
func (w *Worker) execute(ctx context.Context, rec scrape.Result, stealth bool) scrape.Result {
	timeout := rec.Timeout()
	if timeout <= 0 {
		timeout = w.cfg.DefaultTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	content, err := w.fetcher.Fetch(fetchCtx, scrape.FetchRequest{
		RequestID: rec.RequestID,
		URL:       rec.URL,
		Selector:  rec.Selector,
		Timeout:   timeout,
		Stealth:   stealth,
	})
	switch {
	case err != nil:
		rec.Errors = scrape.StringPtr(describe(err))
	case strings.TrimSpace(content) == "":
		w.logger.Error("fetch returned empty content", zap.String("request_id", rec.RequestID), zap.String("url", rec.URL))
		rec.Errors = scrape.StringPtr(fmt.Sprintf("empty content returned for %s", rec.URL))
	default:
		rec.Content = scrape.StringPtr(content)
	}

	now := w.clock.Now()
	rec.ProcessedAt = &now
	rec.Processed = true
	return rec
}

// describe extracts the fetch failure description recorded in Errors.
func describe(err error) string {
	var fetchErr *scrape.FetchError
	if errors.As(err, &fetchErr) && fetchErr.Err != nil {
		return fetchErr.Err.Error()
	}
	return err.Error()
}

func (w *Worker) publishCompletion(ctx context.Context, rec scrape.Result) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := Notification{
		RequestID:   rec.RequestID,
		URL:         rec.URL,
		Selector:    rec.Selector,
		ProcessedAt: *rec.ProcessedAt,
		Success:     rec.Content != nil,
	}
	if rec.Errors != nil {
		payload.Errors = *rec.Errors
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		metrics.ObserveNotification("error")
		w.logger.Warn("publish completion failed", zap.String("request_id", rec.RequestID), zap.Error(err))
		return
	}
	metrics.ObserveNotification("published")
}

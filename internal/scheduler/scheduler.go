// Package scheduler delays each new request by a random start jitter before handing it to the work queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/metrics"
	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("scheduler closed")

const failureCommitTimeout = 5 * time.Second

// Enqueuer accepts items once their delay elapsed. dispatcher.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item scrape.QueueItem) error
}

// Config bounds the per-item start delay in whole seconds, inclusive.
type Config struct {
	MinDelaySeconds int
	MaxDelaySeconds int
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRand overrides the source of random integers in [0, n).
func WithRand(intN func(n int) int) Option {
	return func(s *Scheduler) {
		s.intN = intN
	}
}

// WithFailureStore makes a failed handoff commit the record as a failure
// instead of leaving it pending.
func WithFailureStore(store scrape.Store, clock scrape.Clock) Option {
	return func(s *Scheduler) {
		s.store = store
		s.clock = clock
	}
}

// WithWait overrides how the scheduler waits out a delay.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		s.wait = wait
	}
}

// Scheduler owns the timers of every pending item. Timers never use the caller's context.
type Scheduler struct {
	enqueuer Enqueuer
	cfg      Config
	intN     func(n int) int
	wait     func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
	store    scrape.Store
	clock    scrape.Clock

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New constructs a Scheduler feeding enqueuer.
func New(enqueuer Enqueuer, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinDelaySeconds < 0 {
		cfg.MinDelaySeconds = 0
	}
	if cfg.MaxDelaySeconds < cfg.MinDelaySeconds {
		cfg.MaxDelaySeconds = cfg.MinDelaySeconds
	}
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		enqueuer: enqueuer,
		cfg:      cfg,
		intN:     rand.IntN,
		wait:     sleep,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule starts one delayed execution per id and returns immediately.
func (s *Scheduler) Schedule(ids []string, stealth bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, id := range ids {
		item := scrape.QueueItem{
			RequestID: id,
			Stealth:   stealth,
			Delay:     s.nextDelay(),
			Submitted: time.Now().UnixMilli(),
		}
		metrics.IncScheduledPending()
		s.wg.Add(1)
		go s.run(item)
	}
	return nil
}

func (s *Scheduler) run(item scrape.QueueItem) {
	defer s.wg.Done()
	defer metrics.DecScheduledPending()

	if err := s.wait(s.ctx, item.Delay); err != nil {
		s.logger.Warn("scheduled workflow dropped before start",
			zap.String("request_id", item.RequestID), zap.Error(err))
		return
	}
	// The handoff blocks on the scheduler's context only, so a full queue
	// delays the item rather than dropping it.
	if err := s.enqueuer.Enqueue(s.ctx, item); err != nil {
		if s.ctx.Err() != nil {
			s.logger.Warn("scheduled workflow dropped on shutdown",
				zap.String("request_id", item.RequestID), zap.Error(err))
			return
		}
		s.logger.Error("enqueue scheduled workflow failed",
			zap.String("request_id", item.RequestID), zap.Error(err))
		s.fail(item.RequestID, err)
		return
	}
	s.logger.Debug("workflow enqueued",
		zap.String("request_id", item.RequestID), zap.Duration("delay", item.Delay))
}

// fail records a terminal failure for a record whose workflow never started.
func (s *Scheduler) fail(requestID string, cause error) {
	if s.store == nil || s.clock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), failureCommitTimeout)
	defer cancel()
	msg := fmt.Sprintf("enqueue failed: %v", cause)
	now := s.clock.Now()
	err := s.store.Commit(ctx, scrape.Result{
		RequestID:   requestID,
		Errors:      &msg,
		Processed:   true,
		ProcessedAt: &now,
	})
	if err != nil {
		s.logger.Error("commit enqueue failure failed",
			zap.String("request_id", requestID), zap.Error(err))
	}
}

// nextDelay draws a uniform whole number of seconds in [min, max].
func (s *Scheduler) nextDelay() time.Duration {
	span := s.cfg.MaxDelaySeconds - s.cfg.MinDelaySeconds
	secs := s.cfg.MinDelaySeconds
	if span > 0 {
		secs += s.intN(span + 1)
	}
	return time.Duration(secs) * time.Second
}

// Close cancels pending timers and waits for in-flight handoffs. Unstarted work is lost.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

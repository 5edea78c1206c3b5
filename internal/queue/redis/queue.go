// Package redis provides a durable work queue on a Redis list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

const (
	defaultKey         = "sneaky:queue"
	defaultPollTimeout = time.Second
)

// Client is the subset of the go-redis client the queue relies on.
type Client interface {
	LPush(ctx context.Context, key string, values ...any) *goredis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *goredis.StringSliceCmd
	LLen(ctx context.Context, key string) *goredis.IntCmd
	Close() error
}

// Config holds Redis connection settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	Key         string
	PollTimeout time.Duration
}

// Queue pushes JSON-encoded items on the left of a list and pops from the right.
type Queue struct {
	client      Client
	key         string
	pollTimeout time.Duration
	closed      atomic.Bool
}

// New dials Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Key, cfg.PollTimeout), nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client Client, key string, pollTimeout time.Duration) *Queue {
	if key == "" {
		key = defaultKey
	}
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &Queue{client: client, key: key, pollTimeout: pollTimeout}
}

// Enqueue appends an item to the list.
func (q *Queue) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	if q.closed.Load() {
		return scrape.ErrQueueClosed
	}
	payload, err := encodeItem(item)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		}
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue blocks until an item is available or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (scrape.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return scrape.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		if q.closed.Load() {
			return scrape.QueueItem{}, scrape.ErrQueueClosed
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil && ctx.Err() != nil:
			return scrape.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case errors.Is(err, goredis.ErrClosed):
			return scrape.QueueItem{}, scrape.ErrQueueClosed
		case err != nil:
			return scrape.QueueItem{}, fmt.Errorf("redis brpop: %w", err)
		}
		// BRPOP replies with [key, value].
		if len(res) != 2 {
			return scrape.QueueItem{}, fmt.Errorf("unexpected brpop reply of %d elements", len(res))
		}
		return decodeItem(res[1])
	}
}

// Len reports the list length.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}

// Close releases the client. Items left in Redis survive for the next process.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return q.client.Close()
}

func encodeItem(item scrape.QueueItem) (string, error) {
	if item.RequestID == "" {
		return "", fmt.Errorf("queue item requires a request id")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode queue item: %w", err)
	}
	return string(data), nil
}

func decodeItem(raw string) (scrape.QueueItem, error) {
	var item scrape.QueueItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return scrape.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
	}
	if item.RequestID == "" {
		return scrape.QueueItem{}, fmt.Errorf("decode queue item: missing request id")
	}
	return item, nil
}

// Package api is the caller-side policy over the usage cache: tracking is
// fire and forget, and failed ranking queries fall back to unranked lists.
package api

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"usage-cache/src/cache"
)

// DefaultQueueSize is how many pending usage events a Client buffers.
const DefaultQueueSize = 100

// Ranker is the part of *cache.Cache a Client needs.
type Ranker interface {
	TrackUsage(ctx context.Context, itemID string, kind cache.Kind) error
	MostFrequent(ctx context.Context, kind cache.Kind, limit int) ([]string, error)
	Recent(ctx context.Context, kind cache.Kind, limit int) ([]string, error)
	Cleanup(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
}

type usage struct {
	itemID string
	kind   cache.Kind
}

// Client wraps a Ranker with best-effort semantics. Create it with NewClient
// and release it with Close.
type Client struct {
	ranker Ranker
	logger *log.Logger

	mu     sync.RWMutex
	closed bool
	tasks  chan usage
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewClient starts the worker that applies tracked usage in order.
func NewClient(ranker Ranker, logger *log.Logger, queueSize int) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	c := &Client{
		ranker: ranker,
		logger: logger,
		tasks:  make(chan usage, queueSize),
		stop:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.work()
	return c
}

func (c *Client) work() {
	defer c.wg.Done()
	for u := range c.tasks {
		if err := c.ranker.TrackUsage(context.Background(), u.itemID, u.kind); err != nil {
			c.logger.Printf("dropped usage of %s %q: %v", u.kind, u.itemID, err)
		}
	}
}

// Track queues one usage event and returns immediately. It reports whether
// the event was queued; a full queue or a closed client drops it.
func (c *Client) Track(itemID string, kind cache.Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.tasks <- usage{itemID: itemID, kind: kind}:
		return true
	default:
		c.logger.Printf("usage queue full, dropped %s %q", kind, itemID)
		return false
	}
}

// MostFrequent returns the ranked ids, or nil if the cache could not answer.
func (c *Client) MostFrequent(ctx context.Context, kind cache.Kind, limit int) []string {
	ids, err := c.ranker.MostFrequent(ctx, kind, limit)
	if err != nil {
		c.logger.Printf("most frequent %s: %v", kind, err)
		return nil
	}
	return ids
}

// Recent returns the recently used ids, or nil if the cache could not answer.
func (c *Client) Recent(ctx context.Context, kind cache.Kind, limit int) []string {
	ids, err := c.ranker.Recent(ctx, kind, limit)
	if err != nil {
		c.logger.Printf("recent %s: %v", kind, err)
		return nil
	}
	return ids
}

// Order sorts items by usage frequency, returning them unchanged when the
// ranking is unavailable.
func Order[T cache.Identifiable](ctx context.Context, c *Client, items []T, kind cache.Kind) []T {
	sorted, err := cache.SortByFrequency(ctx, c.ranker, items, kind)
	if err != nil {
		c.logger.Printf("order %s: %v", kind, err)
		return items
	}
	return sorted
}

// OrderFunc is Order for items whose id is extracted by id.
func OrderFunc[T any](ctx context.Context, c *Client, items []T, kind cache.Kind, id func(T) string) []T {
	sorted, err := cache.SortByFrequencyFunc(ctx, c.ranker, items, kind, id)
	if err != nil {
		c.logger.Printf("order %s: %v", kind, err)
		return items
	}
	return sorted
}

// Cleanup runs the retention sweep now and reports its errors.
func (c *Client) Cleanup(ctx context.Context) (int64, error) {
	return c.ranker.Cleanup(ctx)
}

// Reset wipes all usage data, e.g. on logout.
func (c *Client) Reset(ctx context.Context) error {
	return c.ranker.Clear(ctx)
}

// StartMaintenance runs Cleanup every interval until Close.
func (c *Client) StartMaintenance(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := c.ranker.Cleanup(context.Background()); err != nil {
					c.logger.Printf("maintenance cleanup: %v", err)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops maintenance and waits for queued usage to be written. It does
// not close the underlying cache.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.tasks)
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
}

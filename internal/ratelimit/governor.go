// Package ratelimit implements the process-wide gateway rate-limit
// governor: a rolling token budget for general outbound commands and a
// serialized, interval-gated queue for identify operations.
//
// The governor is the only state shared between shard sessions. Shards
// never touch bucket internals; everything goes through Acquire and
// AcquireIdentify.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Errors
var (
	ErrGovernorAborted = errors.New("rate limit governor destroyed")
	ErrBucketBlocked   = errors.New("bucket is blocked")
)

// Config configures the governor.
type Config struct {
	// CommandCapacity and CommandInterval define the rolling token
	// budget for general outbound commands across all shards.
	CommandCapacity int
	CommandInterval time.Duration

	// IdentifyInterval is the mandatory cooldown between identify
	// grants within one concurrency bucket.
	IdentifyInterval time.Duration

	// MaxConcurrency partitions shards into identify buckets by
	// shardID mod MaxConcurrency.
	MaxConcurrency int
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		CommandCapacity:  120,
		CommandInterval:  60 * time.Second,
		IdentifyInterval: 5 * time.Second,
		MaxConcurrency:   1,
	}
}

func (c *Config) applyDefaults() {
	if c.CommandCapacity == 0 {
		c.CommandCapacity = 120
	}
	if c.CommandInterval == 0 {
		c.CommandInterval = 60 * time.Second
	}
	if c.IdentifyInterval == 0 {
		c.IdentifyInterval = 5 * time.Second
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 1
	}
}

// BucketInfo is a non-mutating snapshot of one token bucket.
type BucketInfo struct {
	Remaining  int
	Capacity   int
	ResetAfter time.Duration
	Blocked    bool
}

// bucket is one rolling token pool. Tokens stay in [0, capacity];
// refills credit whole intervals only, never fractional.
type bucket struct {
	remaining  int
	capacity   int
	lastRefill time.Time
	blocked    bool
}

// refill credits elapsed whole intervals. Must hold the governor lock.
func (b *bucket) refill(now time.Time, interval time.Duration) {
	if b.blocked {
		return
	}
	elapsed := now.Sub(b.lastRefill)
	if elapsed < interval {
		return
	}
	steps := elapsed / interval
	b.remaining = b.capacity
	b.lastRefill = b.lastRefill.Add(steps * interval)
}

// identifyItem is one waiter in an identify bucket queue.
type identifyItem struct {
	shardID  int
	enqueued time.Time
	done     chan error // buffered; fulfilled with nil or ErrGovernorAborted
}

// identifyQueue serializes identify grants for one concurrency bucket.
type identifyQueue struct {
	id        int
	items     []*identifyItem
	lastGrant time.Time
	wake      chan struct{} // signaled on enqueue
	done      chan struct{} // the governor epoch this queue belongs to
}

// Governor arbitrates the global command budget and the per-bucket
// identify queues. Safe for concurrent use by all shard sessions.
type Governor struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	buckets   map[string]*bucket
	queues    map[int]*identifyQueue
	done      chan struct{} // closed on Destroy
	destroyed bool
}

// New creates a governor.
func New(cfg Config, logger *slog.Logger) *Governor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Governor{
		cfg:     cfg,
		logger:  logger,
		buckets: make(map[string]*bucket),
		queues:  make(map[int]*identifyQueue),
		done:    make(chan struct{}),
	}
}

// Acquire blocks until one token is available in the named bucket, then
// debits it. Running out of budget is backpressure, not an error; the
// only failures are a blocked bucket, context cancellation, or
// governor teardown.
func (g *Governor) Acquire(ctx context.Context, key string) error {
	for {
		g.mu.Lock()
		if g.destroyed {
			g.mu.Unlock()
			return ErrGovernorAborted
		}

		b := g.getBucket(key)
		now := time.Now()
		b.refill(now, g.cfg.CommandInterval)

		if b.blocked {
			g.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrBucketBlocked, key)
		}
		if b.remaining > 0 {
			b.remaining--
			g.mu.Unlock()
			return nil
		}

		wait := b.lastRefill.Add(g.cfg.CommandInterval).Sub(now)
		done := g.done
		g.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-done:
			timer.Stop()
			return ErrGovernorAborted
		}
	}
}

// AcquireIdentify enqueues the shard into its concurrency bucket and
// blocks until the bucket grants it. Grants within one bucket are
// strictly FIFO with at least IdentifyInterval between them; different
// buckets proceed concurrently.
func (g *Governor) AcquireIdentify(ctx context.Context, shardID int) error {
	bucketID := shardID % g.cfg.MaxConcurrency

	item := &identifyItem{
		shardID:  shardID,
		enqueued: time.Now(),
		done:     make(chan error, 1),
	}

	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return ErrGovernorAborted
	}
	q, ok := g.queues[bucketID]
	if !ok {
		q = &identifyQueue{id: bucketID, wake: make(chan struct{}, 1), done: g.done}
		g.queues[bucketID] = q
		go g.runQueue(q)
	}
	q.items = append(q.items, item)
	g.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		g.removeItem(q, item)
		return ctx.Err()
	}
}

// runQueue grants identify slots for one bucket, waiting out the
// cooldown between successive grants. The interval is enforced between
// grants, not merely checked at grant time.
func (g *Governor) runQueue(q *identifyQueue) {
	for {
		g.mu.Lock()
		stale := g.queues[q.id] != q
		var item *identifyItem
		if !stale && len(q.items) > 0 {
			item = q.items[0]
		}
		lastGrant := q.lastGrant
		g.mu.Unlock()

		if stale {
			return
		}

		if item == nil {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}

		if cooldown := time.Until(lastGrant.Add(g.cfg.IdentifyInterval)); cooldown > 0 {
			timer := time.NewTimer(cooldown)
			select {
			case <-timer.C:
			case <-q.done:
				timer.Stop()
				return
			}
		}

		g.mu.Lock()
		if g.queues[q.id] != q {
			g.mu.Unlock()
			return
		}
		// The head may have been cancelled while we cooled down.
		if len(q.items) == 0 || q.items[0] != item {
			g.mu.Unlock()
			continue
		}
		q.items = q.items[1:]
		q.lastGrant = time.Now()
		g.mu.Unlock()

		g.logger.Debug("identify grant",
			"bucket", q.id,
			"shard_id", item.shardID,
			"queued", time.Since(item.enqueued),
		)
		item.done <- nil
	}
}

// removeItem drops a cancelled waiter from its queue.
func (g *Governor) removeItem(q *identifyQueue, item *identifyItem) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, it := range q.items {
		if it == item {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// IsRateLimited reports whether an Acquire on the key would block right
// now. Non-mutating.
func (g *Governor) IsRateLimited(key string) bool {
	info := g.BucketInfo(key)
	return info.Remaining == 0
}

// BucketInfo returns a snapshot of the named bucket without mutating
// it. Unknown keys report a full bucket.
func (g *Governor) BucketInfo(key string) BucketInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[key]
	if !ok {
		return BucketInfo{Remaining: g.cfg.CommandCapacity, Capacity: g.cfg.CommandCapacity}
	}

	// Compute the virtual post-refill state without writing it back.
	now := time.Now()
	remaining := b.remaining
	resetAfter := b.lastRefill.Add(g.cfg.CommandInterval).Sub(now)
	if !b.blocked && now.Sub(b.lastRefill) >= g.cfg.CommandInterval {
		remaining = b.capacity
		resetAfter = 0
	}
	if resetAfter < 0 {
		resetAfter = 0
	}

	return BucketInfo{
		Remaining:  remaining,
		Capacity:   b.capacity,
		ResetAfter: resetAfter,
		Blocked:    b.blocked,
	}
}

// SetBlocked marks or unmarks a bucket as blocked. Acquire on a blocked
// bucket fails instead of waiting.
func (g *Governor) SetBlocked(key string, blocked bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getBucket(key).blocked = blocked
}

// Reset clears all buckets and aborts every queued identify waiter.
// The governor remains usable afterwards.
func (g *Governor) Reset() {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return
	}
	g.abortLocked()
	g.buckets = make(map[string]*bucket)
	g.queues = make(map[int]*identifyQueue)
	g.destroyed = false
	g.done = make(chan struct{})
	g.mu.Unlock()
}

// Destroy aborts every waiter and shuts the governor down permanently.
func (g *Governor) Destroy() {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return
	}
	g.abortLocked()
	g.mu.Unlock()
}

// abortLocked rejects all pending identify waiters and releases queue
// goroutines. Waiters are never silently dropped. Must hold the lock.
func (g *Governor) abortLocked() {
	g.destroyed = true
	close(g.done)
	for _, q := range g.queues {
		for _, item := range q.items {
			item.done <- ErrGovernorAborted
		}
		q.items = nil
	}
}

// getBucket returns the bucket for key, creating it lazily with a full
// budget. Must hold the lock.
func (g *Governor) getBucket(key string) *bucket {
	b, ok := g.buckets[key]
	if !ok {
		b = &bucket{
			remaining:  g.cfg.CommandCapacity,
			capacity:   g.cfg.CommandCapacity,
			lastRefill: time.Now(),
		}
		g.buckets[key] = b
	}
	return b
}

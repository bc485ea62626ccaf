package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"attendance-service/pkg/response"

	"github.com/redis/go-redis/v9"
)

// Clock supplies the single authoritative "now" for all window arithmetic.
// Implementations must never fall back to the caller's local clock: a failed
// clock reads as an error, and callers fail closed.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

// RedisClock resolves server time from Redis TIME, caches it, and serves
// cached-time-plus-elapsed between refreshes. Elapsed is measured on the
// local monotonic clock, so served values are non-decreasing even if the
// server time jumps backward between refreshes.
type RedisClock struct {
	client     *redis.Client
	refresh    time.Duration
	staleAfter time.Duration
	timeout    time.Duration

	mu         sync.Mutex
	serverTime time.Time
	syncedAt   time.Time // local monotonic reference
	lastServed time.Time

	done chan struct{}
}

func NewRedisClock(redisAddr string, refresh, staleAfter, timeout time.Duration) (*RedisClock, error) {
	const op = "clock.NewRedisClock"

	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	c := &RedisClock{
		client:     client,
		refresh:    refresh,
		staleAfter: staleAfter,
		timeout:    timeout,
		done:       make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.sync(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	go c.refreshLoop()

	return c, nil
}

func (c *RedisClock) sync(ctx context.Context) error {
	const op = "clock.RedisClock.sync"

	serverTime, err := c.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	c.serverTime = serverTime
	c.syncedAt = time.Now()
	c.mu.Unlock()

	return nil
}

func (c *RedisClock) refreshLoop() {
	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			// A failed refresh keeps the last known-good value; Now starts
			// erroring only once that value goes stale.
			_ = c.sync(ctx)
			cancel()
		}
	}
}

func (c *RedisClock) Now(ctx context.Context) (time.Time, error) {
	const op = "clock.RedisClock.Now"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.syncedAt.IsZero() {
		return time.Time{}, fmt.Errorf("%s: %w", op, response.ErrClockUnavailable)
	}

	elapsed := time.Since(c.syncedAt)
	if elapsed > c.staleAfter {
		return time.Time{}, fmt.Errorf("%s: %w", op, response.ErrClockUnavailable)
	}

	now := c.serverTime.Add(elapsed)
	if now.Before(c.lastServed) {
		now = c.lastServed
	}
	c.lastServed = now

	return now, nil
}

func (c *RedisClock) Close() error {
	close(c.done)
	return c.client.Close()
}

// Manual is a hand-driven clock for tests.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	fail bool
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return time.Time{}, response.ErrClockUnavailable
	}

	return m.now, nil
}

func (m *Manual) Set(now time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// SetFailing makes Now return ErrClockUnavailable until cleared.
func (m *Manual) SetFailing(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

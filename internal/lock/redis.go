package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"attendance-service/internal/models"

	"github.com/redis/go-redis/v9"
)

// Locker serializes writers on a single attendance record key. Contention is
// scoped to the composite key; there is no global lock across students or
// slots.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// RecordLockKey names the per-record lock for a composite key.
func RecordLockKey(key models.RecordKey) string {
	return fmt.Sprintf("attendance:%s:%s:%s", key.StudentID, key.SlotID, key.Date)
}

type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(redisAddr string) (*RedisLock, error) {
	const op = "lock.NewRedisLock"

	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisLock{client: client}, nil
}

func (r *RedisLock) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	const op = "lock.RedisLock.Lock"

	lockKey := fmt.Sprintf("lock:%s", key)
	result, err := r.client.SetNX(ctx, lockKey, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	const op = "lock.RedisLock.Unlock"

	lockKey := fmt.Sprintf("lock:%s", key)
	_, err := r.client.Del(ctx, lockKey).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisLock) Close() error {
	return r.client.Close()
}

// MemoryLock is a single-process Locker for tests and local development.
type MemoryLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]struct{})}
}

func (m *MemoryLock) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return false, nil
	}

	m.held[key] = struct{}{}
	return true, nil
}

func (m *MemoryLock) Unlock(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.held, key)
	m.mu.Unlock()

	return nil
}

func (m *MemoryLock) Close() error {
	return nil
}

package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const submissionKeyPrefix = "traillend:submission:"

// SubmissionGuard allows one submission in flight per draft id
type SubmissionGuard interface {
	// Acquire returns false when a submission for key is already in flight
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemorySubmissionGuard guards submissions within one process
type MemorySubmissionGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewMemorySubmissionGuard creates an in-process guard
func NewMemorySubmissionGuard() *MemorySubmissionGuard {
	return &MemorySubmissionGuard{inFlight: make(map[string]struct{})}
}

// Acquire implements SubmissionGuard
func (g *MemorySubmissionGuard) Acquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[key]; busy {
		return false, nil
	}
	g.inFlight[key] = struct{}{}
	return true, nil
}

// Release implements SubmissionGuard
func (g *MemorySubmissionGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
	return nil
}

// RedisSubmissionGuard guards submissions across replicas. The TTL bounds how
// long a crashed replica can block a draft.
type RedisSubmissionGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSubmissionGuard creates a Redis-backed guard
func NewRedisSubmissionGuard(client *redis.Client, ttl time.Duration) *RedisSubmissionGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisSubmissionGuard{client: client, ttl: ttl}
}

func (g *RedisSubmissionGuard) key(draftKey string) string {
	return submissionKeyPrefix + draftKey
}

// Acquire implements SubmissionGuard
func (g *RedisSubmissionGuard) Acquire(ctx context.Context, key string) (bool, error) {
	_, err := g.client.SetArgs(ctx, g.key(key), "processing", redis.SetArgs{Mode: "NX", TTL: g.ttl}).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set: %w", err)
	}
	return true, nil
}

// Release implements SubmissionGuard
func (g *RedisSubmissionGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

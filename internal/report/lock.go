package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLocker serializes report generation per project. A later run that
// acquires the lock supersedes any still-running earlier one; the earlier run
// detects this through Current before persisting.
type RunLocker interface {
	// Acquire takes the per-project lock. ok is false when another run holds it.
	Acquire(ctx context.Context, projectID string, ttl time.Duration) (token string, ok bool, err error)
	// Current returns the token currently holding the lock, or "" when free.
	Current(ctx context.Context, projectID string) (string, error)
	Release(ctx context.Context, projectID, token string) error
}

// RedisLocker implements RunLocker on a shared Redis instance.
type RedisLocker struct {
	Client *redis.Client
}

func lockKey(projectID string) string {
	return "seatwise:report_lock:" + projectID
}

func (l *RedisLocker) Acquire(ctx context.Context, projectID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, lockKey(projectID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire report lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Current(ctx context.Context, projectID string) (string, error) {
	val, err := l.Client.Get(ctx, lockKey(projectID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read report lock: %w", err)
	}
	return val, nil
}

// Release deletes the lock only when still held by token. A GET/DEL pair is
// sufficient here: the worst case of the race is an extra skipped run, never a
// double-persist, because persistence is guarded by Current.
func (l *RedisLocker) Release(ctx context.Context, projectID, token string) error {
	cur, err := l.Current(ctx, projectID)
	if err != nil {
		return err
	}
	if cur != token {
		return nil
	}
	return l.Client.Del(ctx, lockKey(projectID)).Err()
}

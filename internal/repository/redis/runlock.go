package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/YonghoLee79/saramjobhunter/internal/repository"
)

var _ repository.RunLock = (*redisRunLock)(nil)

const (
	runLockKey = "saramjobhunter:run-lock"
	// DefaultRunLockTTL bounds how long a crashed holder can block other hosts.
	// A live holder extends it while the run lasts.
	DefaultRunLockTTL = 3 * time.Hour
)

// releaseScript deletes the key only when the caller still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript resets the expiry only when the caller still owns the key.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

type redisRunLock struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewRunLock creates a Redis-backed run lock using SET NX.
func NewRunLock(client *goredis.Client, ttl time.Duration) repository.RunLock {
	if ttl <= 0 {
		ttl = DefaultRunLockTTL
	}
	return &redisRunLock{client: client, ttl: ttl}
}

// Acquire uses SETNX to atomically take the account-wide run lock.
func (r *redisRunLock) Acquire(ctx context.Context, owner string) (bool, error) {
	ok, err := r.client.SetNX(ctx, runLockKey, owner, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire run lock: %w", err)
	}
	return ok, nil
}

func (r *redisRunLock) Extend(ctx context.Context, owner string) (bool, error) {
	n, err := extendScript.Run(ctx, r.client, []string{runLockKey}, owner, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: extend run lock: %w", err)
	}
	return n == 1, nil
}

func (r *redisRunLock) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{runLockKey}, owner).Err(); err != nil {
		return fmt.Errorf("redis: release run lock: %w", err)
	}
	return nil
}

// Package lock provides a Redis-backed lease used as a fast-fail front lock
// ahead of the database critical section. It never replaces the database
// locks: a lost or expired lease only costs a wasted transaction attempt.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultPrefix = "slotbook:lock:"
	defaultTTL    = 10 * time.Second
)

// ErrHeld is returned by TryLock when another holder owns the lease.
var ErrHeld = errors.New("lock held")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Lease is a held lock. The zero value is not held.
type Lease struct {
	Key   string
	Token string
}

// Held reports whether the lease was granted.
func (l Lease) Held() bool { return l.Token != "" }

// RedisLocker grants short leases with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewRedisLocker returns a locker whose leases expire after ttl.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		prefix: defaultPrefix,
		logger: logger.With().Str("component", "redis_lock").Logger(),
	}
}

func (l *RedisLocker) redisKey(key string) string { return l.prefix + key }

// TryLock attempts to take key without waiting. It returns ErrHeld when the
// lease belongs to someone else and a wrapped error when Redis is unreachable.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.redisKey(key), token, l.ttl).Result()
	if err != nil {
		return Lease{}, fmt.Errorf("set lock %s: %w", key, err)
	}
	if !ok {
		return Lease{}, ErrHeld
	}
	return Lease{Key: key, Token: token}, nil
}

// Unlock releases lease if it is still ours. Releasing an unheld lease is a
// no-op.
func (l *RedisLocker) Unlock(ctx context.Context, lease Lease) error {
	if !lease.Held() {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.redisKey(lease.Key)}, lease.Token).Err(); err != nil {
		l.logger.Warn().Err(err).Str("key", lease.Key).Msg("release lock failed")
		return fmt.Errorf("release lock %s: %w", lease.Key, err)
	}
	return nil
}

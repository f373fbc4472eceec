package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func unreachable(t *testing.T) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewRedisLocker_Defaults(t *testing.T) {
	l := NewRedisLocker(unreachable(t), 0, zerolog.Nop())
	if l.ttl != defaultTTL {
		t.Fatalf("expected default ttl, got %v", l.ttl)
	}
	if got := l.redisKey("link:abc"); got != "slotbook:lock:link:abc" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestTryLock_RedisDownIsNotHeld(t *testing.T) {
	l := NewRedisLocker(unreachable(t), time.Second, zerolog.Nop())
	lease, err := l.TryLock(context.Background(), "link:abc")
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if errors.Is(err, ErrHeld) {
		t.Fatalf("connection failure must not look like contention")
	}
	if lease.Held() {
		t.Fatalf("lease must not be held on error")
	}
}

func TestUnlock_ZeroLeaseIsNoop(t *testing.T) {
	l := NewRedisLocker(unreachable(t), time.Second, zerolog.Nop())
	if err := l.Unlock(context.Background(), Lease{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Unlock(context.Background(), Lease{Key: "k", Token: "t"}); err == nil {
		t.Fatalf("expected release error against unreachable redis")
	}
}

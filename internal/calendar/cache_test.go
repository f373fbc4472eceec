package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestCachedSource_FallsThroughWhenRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	m := NewMemory()
	base := time.Date(2030, 1, 15, 14, 0, 0, 0, time.UTC)
	m.AddBusy("u1", window(base, time.Hour))

	c := NewCachedSource(m, client, time.Minute, zerolog.Nop())
	if c.Provider() != ProviderMemory {
		t.Fatalf("unexpected provider %q", c.Provider())
	}
	got, err := c.ListBusyIntervals(context.Background(), "u1", window(base, 2*time.Hour))
	if err != nil || len(got) != 1 {
		t.Fatalf("expected fallback to inner source, got %+v err=%v", got, err)
	}

	ev, err := c.CreateEvent(context.Background(), "u1", EventRequest{Window: window(base, time.Hour), IdempotencyKey: "k"})
	if err != nil || ev.Provider != ProviderMemory {
		t.Fatalf("CreateEvent passthrough: %+v err=%v", ev, err)
	}
}

func TestCachedSource_DisabledWithoutClient(t *testing.T) {
	m := NewMemory()
	c := NewCachedSource(m, nil, time.Minute, zerolog.Nop())
	if c.enabled() {
		t.Fatalf("expected cache disabled without client")
	}
	if k := busyKey("google", "u1", window(time.Unix(0, 0).UTC(), time.Second)); k != "slotbook:busy:google:u1:0:1" {
		t.Fatalf("unexpected key %q", k)
	}
}

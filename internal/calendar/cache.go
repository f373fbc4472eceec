package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/slotbook/internal/domain"
)

const keyBusy = "slotbook:busy:" // + provider:owner:start:end

// CachedSource caches busy intervals from another Source in Redis for a short
// TTL. Redis failures fall through to the wrapped source. Event writes are
// never cached.
type CachedSource struct {
	inner  Source
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedSource wraps inner. A nil client or non-positive ttl disables
// caching.
func NewCachedSource(inner Source, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedSource {
	return &CachedSource{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "busy_cache").Logger(),
	}
}

// Provider implements Source.
func (c *CachedSource) Provider() string { return c.inner.Provider() }

func (c *CachedSource) enabled() bool { return c.client != nil && c.ttl > 0 }

func busyKey(provider, ownerID string, w domain.TimeWindow) string {
	return fmt.Sprintf("%s%s:%s:%d:%d", keyBusy, provider, ownerID, w.Start.Unix(), w.End.Unix())
}

// ListBusyIntervals implements Source.
func (c *CachedSource) ListBusyIntervals(ctx context.Context, ownerID string, w domain.TimeWindow) ([]domain.BusyInterval, error) {
	if !c.enabled() {
		return c.inner.ListBusyIntervals(ctx, ownerID, w)
	}
	key := busyKey(c.inner.Provider(), ownerID, w)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out []domain.BusyInterval
		if jerr := json.Unmarshal(data, &out); jerr == nil {
			return out, nil
		}
		c.logger.Debug().Str("key", key).Msg("discarding undecodable cache entry")
	case err != redis.Nil:
		c.logger.Debug().Err(err).Str("operation", "get").Msg("cache operation failed")
	}

	out, err := c.inner.ListBusyIntervals(ctx, ownerID, w)
	if err != nil {
		return nil, err
	}
	if data, jerr := json.Marshal(out); jerr == nil {
		if serr := c.client.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.logger.Debug().Err(serr).Str("operation", "set").Msg("cache operation failed")
		}
	}
	return out, nil
}

// CreateEvent implements Source.
func (c *CachedSource) CreateEvent(ctx context.Context, ownerID string, req EventRequest) (Event, error) {
	return c.inner.CreateEvent(ctx, ownerID, req)
}

package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/domain"
	"github.com/tbourn/slotbook/internal/repo"
)

// Registry builds Sources from users' active calendar connections.
type Registry struct {
	DB     *gorm.DB
	Google *oauth2.Config // nil disables Google connections
	Memory *Memory        // backs "memory" connections; nil disables them

	Redis    *redis.Client // optional busy cache
	CacheTTL time.Duration
	Logger   zerolog.Logger
}

// SourceFor implements Resolver.
func (r *Registry) SourceFor(ctx context.Context, userID string) (Source, error) {
	conn, err := repo.GetActiveConnection(ctx, r.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoSource
	}
	if err != nil {
		return nil, err
	}

	src, err := r.build(ctx, conn)
	if err != nil {
		return nil, err
	}
	if r.Redis != nil && r.CacheTTL > 0 {
		return NewCachedSource(src, r.Redis, r.CacheTTL, r.Logger), nil
	}
	return src, nil
}

func (r *Registry) build(ctx context.Context, conn *domain.CalendarConnection) (Source, error) {
	switch conn.Provider {
	case ProviderGoogle:
		if r.Google == nil {
			return nil, fmt.Errorf("connection %s: google client is not configured", conn.ID)
		}
		var tok oauth2.Token
		if err := json.Unmarshal([]byte(conn.Secret), &tok); err != nil {
			return nil, fmt.Errorf("connection %s: decode token: %w", conn.ID, err)
		}
		return NewGoogleSource(ctx, r.Google, &tok, conn.CalendarID)
	case ProviderCalDAV:
		return NewCalDAVSource(conn.Endpoint, conn.Username, conn.Secret, conn.CalendarID, nil)
	case ProviderMemory:
		if r.Memory == nil {
			return nil, fmt.Errorf("connection %s: memory calendar is not enabled", conn.ID)
		}
		return r.Memory, nil
	default:
		return nil, fmt.Errorf("connection %s: unknown provider %q", conn.ID, conn.Provider)
	}
}

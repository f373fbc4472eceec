// Package calendar adapts external calendar providers to one interface used by
// the booking engine: read busy intervals for a user and write an event with
// an idempotency key. Adapters consume credentials that were issued
// elsewhere; no OAuth exchange happens here.
package calendar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/tbourn/slotbook/internal/domain"
)

// Provider names stored in CalendarConnection.Provider.
const (
	ProviderGoogle = "google"
	ProviderCalDAV = "caldav"
	ProviderMemory = "memory"
)

// ErrNoSource is returned when a user has no active calendar connection.
var ErrNoSource = errors.New("no calendar source for user")

// EventRequest describes an event to create. Creating twice with the same
// IdempotencyKey must yield the same event.
type EventRequest struct {
	Window         domain.TimeWindow
	Title          string
	Description    string
	Attendees      []string
	IdempotencyKey string
}

// Event identifies a created provider event.
type Event struct {
	Ref      string
	Provider string
}

// Source is a single user's calendar at one provider.
type Source interface {
	Provider() string
	ListBusyIntervals(ctx context.Context, ownerID string, w domain.TimeWindow) ([]domain.BusyInterval, error)
	CreateEvent(ctx context.Context, ownerID string, req EventRequest) (Event, error)
}

// Resolver finds the active Source for a user. It returns ErrNoSource when the
// user has not connected a calendar.
type Resolver interface {
	SourceFor(ctx context.Context, userID string) (Source, error)
}

// StaticResolver maps user IDs to fixed sources.
type StaticResolver map[string]Source

// SourceFor implements Resolver.
func (r StaticResolver) SourceFor(_ context.Context, userID string) (Source, error) {
	if s, ok := r[userID]; ok && s != nil {
		return s, nil
	}
	return nil, ErrNoSource
}

// IdempotencyKey derives the provider-side key for a booking's event.
func IdempotencyKey(bookingID string) string { return "slotbook-" + bookingID }

// eventID hashes key into a lowercase hex string. Hex digits are a subset of
// the base32hex alphabet Google requires for client-supplied event IDs, and
// the result is also safe as a CalDAV resource name.
func eventID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func externalBusy(ownerID, provider string, w domain.TimeWindow) domain.BusyInterval {
	return domain.BusyInterval{
		OwnerID: ownerID,
		Window:  w,
		Source:  domain.BusySource{Kind: domain.SourceExternal, Provider: provider},
	}
}

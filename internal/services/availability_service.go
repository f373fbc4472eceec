package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/slotbook/internal/assignment"
	"github.com/tbourn/slotbook/internal/availability"
	"github.com/tbourn/slotbook/internal/domain"
	"github.com/tbourn/slotbook/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Slot is a bookable window and how many candidates could take it.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available int       `json:"available"`
}

// AvailableSlots lists the slots of a link on one calendar day in loc. Slots
// are back-to-back windows of the link's duration starting at local
// midnight; a slot is listed when at least one candidate passes the
// availability checks. The result is advisory: CreateBooking re-checks
// under lock.
func (s *BookingService) AvailableSlots(ctx context.Context, linkID string, date time.Time, loc *time.Location) ([]Slot, error) {
	tr := otel.Tracer("services/BookingService")
	ctx, span := tr.Start(ctx, "AvailableSlots",
		trace.WithAttributes(
			attribute.String("link.id", linkID),
			attribute.String("date", date.Format("2006-01-02")),
		),
	)
	defer span.End()

	if loc == nil {
		loc = time.UTC
	}
	link, err := repo.GetLink(ctx, s.DB, linkID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	if !link.IsActive {
		return nil, reject(ReasonLinkInactive, "link %s is not accepting bookings", link.ID)
	}
	if link.DurationMinutes <= 0 {
		return nil, fmt.Errorf("link %s has no duration", link.ID)
	}

	day := availability.LocalDay(time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, loc), loc)
	members := link.Members()
	rules, err := repo.ListRules(ctx, s.DB, members)
	if err != nil {
		return nil, err
	}
	rules = s.usableRules(rules)

	// Wide enough for every member's local day and buffers around any slot.
	lookup := domain.TimeWindow{Start: day.Start.Add(-24 * time.Hour), End: day.End.Add(24 * time.Hour)}
	external, err := s.gatherBusy(ctx, members, lookup)
	if err != nil {
		return nil, err
	}
	current, err := repo.ListActiveBookings(ctx, s.DB, members, lookup)
	if err != nil {
		return nil, err
	}
	busy := append(bookingBusy(current), external...)

	now := s.now()
	out := []Slot{}
	for _, w := range availability.Slots(day, link.Duration()) {
		if s.validate(link, w, now) != nil {
			continue
		}
		n := 0
		for _, m := range members {
			rule, ok := rules[m]
			if !ok {
				continue
			}
			v, err := availability.Check(now, w, rule, availability.OwnedBy(busy, m))
			if err != nil {
				return nil, err
			}
			if v.Available {
				n++
			}
		}
		if n > 0 {
			out = append(out, Slot{Start: w.Start, End: w.End, Available: n})
		}
	}
	return out, nil
}

// PreviewOrder returns the order in which a link's candidates would be tried
// right now.
func (s *BookingService) PreviewOrder(ctx context.Context, linkID string) ([]string, error) {
	link, err := repo.GetLink(ctx, s.DB, linkID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	strategy, err := assignment.StrategyFor(link.AssignmentMethod)
	if err != nil {
		return nil, err
	}
	var state *domain.RotationState
	if assignment.Uses(strategy) {
		if state, err = repo.LoadRotation(ctx, s.DB, link.ID); err != nil {
			return nil, err
		}
	}
	order := assignment.Order(strategy, *link, state)
	out := make([]string, 0, len(order))
	for _, c := range order {
		out = append(out, c.UserID)
	}
	return out, nil
}

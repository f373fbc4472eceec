package domain

import (
	"errors"
	"time"
)

// ErrInvalidWindow is returned when a window does not satisfy start < end.
var ErrInvalidWindow = errors.New("window start must be before end")

// TimeWindow is a half-open [Start, End) range of UTC instants.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow normalizes both endpoints to UTC and validates start < end.
func NewWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: start.UTC(), End: end.UTC()}
	if !w.Start.Before(w.End) {
		return TimeWindow{}, ErrInvalidWindow
	}
	return w, nil
}

// Duration returns End - Start.
func (w TimeWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

// Overlaps reports whether two half-open windows intersect. Touching
// boundaries do not overlap.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Expand widens the window by before at the start and after at the end.
func (w TimeWindow) Expand(before, after time.Duration) TimeWindow {
	return TimeWindow{Start: w.Start.Add(-before), End: w.End.Add(after)}
}

// Union returns the smallest window covering both w and o.
func (w TimeWindow) Union(o TimeWindow) TimeWindow {
	out := w
	if o.Start.Before(out.Start) {
		out.Start = o.Start
	}
	if o.End.After(out.End) {
		out.End = o.End
	}
	return out
}

// SourceKind tells where a busy interval came from.
type SourceKind string

const (
	SourceInternal SourceKind = "internal"
	SourceExternal SourceKind = "external"
)

// BusySource identifies the producer of a BusyInterval. Provider is set for
// external sources ("google", "caldav", ...) and for internal recurring blocks
// ("recurring").
type BusySource struct {
	Kind     SourceKind `json:"kind"`
	Provider string     `json:"provider,omitempty"`
}

func (s BusySource) String() string {
	if s.Provider == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.Provider
}

// BusyInterval is a range during which a candidate cannot take a booking.
// Never persisted; recomputed per request from bookings, recurring blocks and
// calendar sources.
type BusyInterval struct {
	OwnerID string     `json:"owner_id"`
	Window  TimeWindow `json:"window"`
	Source  BusySource `json:"source"`

	// BookingID and Status are set when the interval is an internal booking.
	BookingID string        `json:"booking_id,omitempty"`
	Status    BookingStatus `json:"status,omitempty"`
}

// IsConfirmedBooking reports whether the interval represents a confirmed
// internal booking (the unit counted against daily caps).
func (b BusyInterval) IsConfirmedBooking() bool {
	return b.Source.Kind == SourceInternal && b.BookingID != "" && b.Status == BookingConfirmed
}

// Package availability decides whether a single candidate can take a time
// window. Everything here is pure: callers gather busy intervals (internal
// bookings, recurring blocks, external calendars) and pass them in, so the
// same checks run before the booking transaction and again inside it.
package availability

import (
	"time"

	"github.com/tbourn/slotbook/internal/domain"
)

// Reason explains why a candidate is unavailable.
type Reason string

const (
	LeadTimeViolation   Reason = "LeadTimeViolation"
	OutsideWorkingHours Reason = "OutsideWorkingHours"
	Conflict            Reason = "Conflict"
	DailyCapReached     Reason = "DailyCapReached"
)

// Verdict is the outcome of Check. Blocking is set for Conflict.
type Verdict struct {
	Available bool
	Reason    Reason
	Blocking  *domain.BusyInterval
}

func available() Verdict { return Verdict{Available: true} }

func unavailable(r Reason) Verdict { return Verdict{Reason: r} }

// Check evaluates w for the owner of rule against busy, which must hold only
// that owner's intervals. Rules apply in order: lead time, working days and
// hours, buffered conflicts, daily cap. The first failing rule wins.
//
// Working hours are compared in the rule's timezone with each endpoint
// converted on its own, so a window crossing a DST switch is judged by the
// wall-clock times it actually starts and ends at. A window whose local end
// falls on a later date than its start is judged by its start only.
func Check(now time.Time, w domain.TimeWindow, rule domain.AvailabilityRule, busy []domain.BusyInterval) (Verdict, error) {
	loc, err := rule.Location()
	if err != nil {
		return Verdict{}, err
	}

	if now.Add(rule.LeadTime()).After(w.Start) {
		return unavailable(LeadTimeViolation), nil
	}

	if !withinWorkingHours(w, rule, loc) {
		return unavailable(OutsideWorkingHours), nil
	}

	padded := w.Expand(rule.BufferBefore(), rule.BufferAfter())
	for i := range busy {
		if padded.Overlaps(busy[i].Window) {
			v := unavailable(Conflict)
			v.Blocking = &busy[i]
			return v, nil
		}
	}

	if rule.MaxBookingsPerDay > 0 {
		day := LocalDay(w.Start, loc)
		n := 0
		for _, b := range busy {
			if b.IsConfirmedBooking() && !b.Window.Start.Before(day.Start) && b.Window.Start.Before(day.End) {
				n++
			}
		}
		if n >= rule.MaxBookingsPerDay {
			return unavailable(DailyCapReached), nil
		}
	}

	return available(), nil
}

func withinWorkingHours(w domain.TimeWindow, rule domain.AvailabilityRule, loc *time.Location) bool {
	ls := w.Start.In(loc)
	le := w.End.In(loc)

	if !rule.WorkingDays.Has(ls.Weekday()) {
		return false
	}

	opens := time.Duration(rule.WorkStartMinute) * time.Minute
	closes := time.Duration(rule.WorkEndMinute) * time.Minute
	start := wallClock(ls)
	if start < opens || start >= closes {
		return false
	}
	if sameDate(ls, le) && wallClock(le) > closes {
		return false
	}
	return true
}

// wallClock returns the local time of day of t as an offset from midnight.
func wallClock(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// LocalDay returns the calendar day containing t in loc, as UTC instants.
// On DST transition days the result is 23 or 25 hours long.
func LocalDay(t time.Time, loc *time.Location) domain.TimeWindow {
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return domain.TimeWindow{Start: start.UTC(), End: end.UTC()}
}

// LookupWindow returns the range of busy data Check needs for w: the window
// padded by the rule's buffers, widened to the whole local day for the cap.
func LookupWindow(w domain.TimeWindow, rule domain.AvailabilityRule) (domain.TimeWindow, error) {
	loc, err := rule.Location()
	if err != nil {
		return domain.TimeWindow{}, err
	}
	return w.Expand(rule.BufferBefore(), rule.BufferAfter()).Union(LocalDay(w.Start, loc)), nil
}

// Slots splits day into back-to-back windows of length d, starting at
// day.Start. A trailing remainder shorter than d is dropped.
func Slots(day domain.TimeWindow, d time.Duration) []domain.TimeWindow {
	if d <= 0 {
		return nil
	}
	var out []domain.TimeWindow
	for s := day.Start; !s.Add(d).After(day.End); s = s.Add(d) {
		out = append(out, domain.TimeWindow{Start: s, End: s.Add(d)})
	}
	return out
}

// OwnedBy returns the intervals in busy that belong to ownerID.
func OwnedBy(busy []domain.BusyInterval, ownerID string) []domain.BusyInterval {
	out := make([]domain.BusyInterval, 0, len(busy))
	for _, b := range busy {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	return out
}

package assignment

import (
	"errors"

	"github.com/tbourn/slotbook/internal/availability"
	"github.com/tbourn/slotbook/internal/domain"
)

// ErrNoneAvailable is returned when no candidate can take the window.
var ErrNoneAvailable = errors.New("no candidate available")

// Checker reports whether userID can take the window under consideration.
type Checker func(userID string) (availability.Verdict, error)

// Attempt records the verdict for one evaluated candidate.
type Attempt struct {
	Candidate
	Verdict availability.Verdict
}

// Result is the chosen candidate plus every verdict collected on the way.
type Result struct {
	Assigned Candidate
	Attempts []Attempt
}

// Select evaluates candidates in the strategy's order and returns the first
// available one. With no available candidate it returns ErrNoneAvailable and
// the collected attempts; state is never modified.
func Select(s Strategy, link domain.BookingLink, state *domain.RotationState, check Checker) (Result, error) {
	var res Result
	for _, c := range s.order(link, state) {
		v, err := check(c.UserID)
		if err != nil {
			return res, err
		}
		res.Attempts = append(res.Attempts, Attempt{Candidate: c, Verdict: v})
		if v.Available {
			res.Assigned = c
			return res, nil
		}
	}
	return res, ErrNoneAvailable
}

// Order exposes the evaluation order, for previews and diagnostics.
func Order(s Strategy, link domain.BookingLink, state *domain.RotationState) []Candidate {
	return s.order(link, state)
}

// Advance records a successful assignment of c on state. It reports whether
// state changed and must be saved.
func Advance(s Strategy, state *domain.RotationState, c Candidate) bool {
	if !s.rotates() || state == nil || c.Index < 0 {
		return false
	}
	if state.MemberLoad == nil {
		state.MemberLoad = map[string]int{}
	}
	state.LastAssignedIndex = c.Index
	state.MemberLoad[c.UserID]++
	return true
}

// Release undoes the load recorded for userID when a booking is cancelled.
// The turn pointer is left alone. It reports whether state changed.
func Release(s Strategy, state *domain.RotationState, userID string) bool {
	if !s.rotates() || state == nil || state.Load(userID) == 0 {
		return false
	}
	state.MemberLoad[userID]--
	return true
}

// Uses reports whether the strategy reads and writes rotation state.
func Uses(s Strategy) bool { return s.rotates() }

// Package assignment picks which team member receives a booking. Each
// assignment method is one Strategy; the set is closed because Strategy has
// unexported methods, so every method value maps to exactly one ordering.
package assignment

import (
	"fmt"
	"sort"

	"github.com/tbourn/slotbook/internal/domain"
)

// Candidate is a user the engine may evaluate. Index is the position in
// BookingLink.CandidateIDs, or -1 for the owner of an individual link.
type Candidate struct {
	UserID string
	Index  int
}

// Strategy orders candidates for one assignment method.
type Strategy interface {
	Method() domain.AssignmentMethod
	order(link domain.BookingLink, state *domain.RotationState) []Candidate
	rotates() bool
}

type (
	specific     struct{}
	roundRobin   struct{}
	pooled       struct{}
	loadBalanced struct{}
)

// StrategyFor returns the strategy for m.
func StrategyFor(m domain.AssignmentMethod) (Strategy, error) {
	switch m {
	case domain.MethodSpecific:
		return specific{}, nil
	case domain.MethodRoundRobin:
		return roundRobin{}, nil
	case domain.MethodPooled:
		return pooled{}, nil
	case domain.MethodLoadBalanced:
		return loadBalanced{}, nil
	default:
		return nil, fmt.Errorf("unsupported assignment method %q", m)
	}
}

func (specific) Method() domain.AssignmentMethod { return domain.MethodSpecific }
func (specific) rotates() bool                   { return false }

// The owner only; rotation state is never consulted.
func (specific) order(link domain.BookingLink, _ *domain.RotationState) []Candidate {
	return []Candidate{{UserID: link.OwnerID, Index: -1}}
}

func (roundRobin) Method() domain.AssignmentMethod { return domain.MethodRoundRobin }
func (roundRobin) rotates() bool                   { return true }

// Members starting after the last assigned index, wrapping.
func (roundRobin) order(link domain.BookingLink, state *domain.RotationState) []Candidate {
	ids := link.CandidateIDs
	n := len(ids)
	if n == 0 {
		return nil
	}
	last := -1
	if state != nil {
		last = state.LastAssignedIndex
	}
	start := ((last+1)%n + n) % n
	out := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		out = append(out, Candidate{UserID: ids[idx], Index: idx})
	}
	return out
}

func (pooled) Method() domain.AssignmentMethod { return domain.MethodPooled }
func (pooled) rotates() bool                   { return true }

// Members in configured order.
func (pooled) order(link domain.BookingLink, _ *domain.RotationState) []Candidate {
	out := make([]Candidate, 0, len(link.CandidateIDs))
	for i, id := range link.CandidateIDs {
		out = append(out, Candidate{UserID: id, Index: i})
	}
	return out
}

func (loadBalanced) Method() domain.AssignmentMethod { return domain.MethodLoadBalanced }
func (loadBalanced) rotates() bool                   { return true }

// Members by ascending load; ties keep round-robin order.
func (loadBalanced) order(link domain.BookingLink, state *domain.RotationState) []Candidate {
	out := roundRobin{}.order(link, state)
	sort.SliceStable(out, func(i, j int) bool {
		return state.Load(out[i].UserID) < state.Load(out[j].UserID)
	})
	return out
}

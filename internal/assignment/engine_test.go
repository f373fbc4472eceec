package assignment

import (
	"errors"
	"reflect"
	"testing"

	"github.com/tbourn/slotbook/internal/availability"
	"github.com/tbourn/slotbook/internal/domain"
)

func team(method domain.AssignmentMethod, ids ...string) domain.BookingLink {
	return domain.BookingLink{ID: "l1", OwnerID: "owner", AssignmentMethod: method, CandidateIDs: ids}
}

func allFree(string) (availability.Verdict, error) { return availability.Verdict{Available: true}, nil }

func busyFor(ids ...string) Checker {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	return func(u string) (availability.Verdict, error) {
		if set[u] {
			return availability.Verdict{Reason: availability.Conflict}, nil
		}
		return availability.Verdict{Available: true}, nil
	}
}

func ids(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.UserID)
	}
	return out
}

func mustStrategy(t *testing.T, m domain.AssignmentMethod) Strategy {
	t.Helper()
	s, err := StrategyFor(m)
	if err != nil {
		t.Fatalf("StrategyFor(%s): %v", m, err)
	}
	if s.Method() != m {
		t.Fatalf("Method() = %s, want %s", s.Method(), m)
	}
	return s
}

func TestStrategyFor_Unknown(t *testing.T) {
	if _, err := StrategyFor("random"); err == nil {
		t.Fatalf("expected error for unknown method")
	}
}

func TestRoundRobin_WrapsAfterLastIndex(t *testing.T) {
	s := mustStrategy(t, domain.MethodRoundRobin)
	link := team(domain.MethodRoundRobin, "a", "b", "c")
	state := &domain.RotationState{LinkID: "l1", LastAssignedIndex: 2, MemberLoad: map[string]int{}}

	res, err := Select(s, link, state, allFree)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if res.Assigned.UserID != "a" || res.Assigned.Index != 0 {
		t.Fatalf("expected member 0, got %+v", res.Assigned)
	}
	if !Advance(s, state, res.Assigned) || state.LastAssignedIndex != 0 || state.Load("a") != 1 {
		t.Fatalf("unexpected state after advance: %+v", state)
	}
}

func TestRoundRobin_FreshStateAndOutOfRangeIndex(t *testing.T) {
	s := mustStrategy(t, domain.MethodRoundRobin)
	link := team(domain.MethodRoundRobin, "a", "b", "c")

	got := ids(Order(s, link, &domain.RotationState{LastAssignedIndex: -1}))
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("fresh order = %v", got)
	}
	// A shrunk candidate list must not panic.
	got = ids(Order(s, link, &domain.RotationState{LastAssignedIndex: 7}))
	if !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("out-of-range order = %v", got)
	}
}

func TestRoundRobin_SkipsBusyWithoutAdvancingOnFailure(t *testing.T) {
	s := mustStrategy(t, domain.MethodRoundRobin)
	link := team(domain.MethodRoundRobin, "a", "b", "c")
	state := &domain.RotationState{LastAssignedIndex: -1, MemberLoad: map[string]int{}}

	res, err := Select(s, link, state, busyFor("a"))
	if err != nil || res.Assigned.UserID != "b" || len(res.Attempts) != 2 {
		t.Fatalf("expected b after skipping a, got %+v err=%v", res, err)
	}

	res, err = Select(s, link, state, busyFor("a", "b", "c"))
	if !errors.Is(err, ErrNoneAvailable) || len(res.Attempts) != 3 {
		t.Fatalf("expected ErrNoneAvailable with 3 attempts, got %+v err=%v", res, err)
	}
	if state.LastAssignedIndex != -1 || len(state.MemberLoad) != 0 {
		t.Fatalf("state must not change on failure: %+v", state)
	}
}

func TestRoundRobin_Fairness(t *testing.T) {
	s := mustStrategy(t, domain.MethodRoundRobin)
	link := team(domain.MethodRoundRobin, "a", "b", "c")
	state := &domain.RotationState{LastAssignedIndex: -1, MemberLoad: map[string]int{}}

	const n = 7
	for i := 0; i < n; i++ {
		res, err := Select(s, link, state, allFree)
		if err != nil {
			t.Fatalf("Select %d: %v", i, err)
		}
		Advance(s, state, res.Assigned)
	}
	// Every member holds floor(N/M) or ceil(N/M) bookings.
	for _, id := range link.CandidateIDs {
		if l := state.Load(id); l < n/3 || l > n/3+1 {
			t.Fatalf("member %s has load %d", id, l)
		}
	}
}

func TestPooled_FirstAvailableInConfiguredOrder(t *testing.T) {
	s := mustStrategy(t, domain.MethodPooled)
	link := team(domain.MethodPooled, "a", "b", "c")
	state := &domain.RotationState{LastAssignedIndex: 0, MemberLoad: map[string]int{}}

	res, err := Select(s, link, state, busyFor("a"))
	if err != nil || res.Assigned.UserID != "b" {
		t.Fatalf("expected b, got %+v err=%v", res, err)
	}
	// Pooled ignores the turn pointer.
	res, _ = Select(s, link, state, allFree)
	if res.Assigned.UserID != "a" {
		t.Fatalf("expected a, got %+v", res.Assigned)
	}
}

func TestLoadBalanced_LowestLoadThenRoundRobin(t *testing.T) {
	s := mustStrategy(t, domain.MethodLoadBalanced)
	link := team(domain.MethodLoadBalanced, "a", "b", "c")
	state := &domain.RotationState{LastAssignedIndex: 0, MemberLoad: map[string]int{"a": 1, "b": 2, "c": 1}}

	// a and c tie at 1; round-robin after index 0 puts c before a.
	got := ids(Order(s, link, state))
	if !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Fatalf("order = %v", got)
	}
	res, _ := Select(s, link, state, busyFor("c"))
	if res.Assigned.UserID != "a" {
		t.Fatalf("expected a, got %+v", res.Assigned)
	}
}

func TestSpecific_OwnerOnlyAndNoRotation(t *testing.T) {
	s := mustStrategy(t, domain.MethodSpecific)
	link := domain.BookingLink{ID: "l1", OwnerID: "owner", AssignmentMethod: domain.MethodSpecific}

	res, err := Select(s, link, nil, allFree)
	if err != nil || res.Assigned.UserID != "owner" || res.Assigned.Index != -1 {
		t.Fatalf("unexpected result: %+v err=%v", res, err)
	}
	if Uses(s) || Advance(s, nil, res.Assigned) {
		t.Fatalf("specific links must not touch rotation state")
	}

	_, err = Select(s, link, nil, busyFor("owner"))
	if !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable, got %v", err)
	}
}

func TestSelect_PropagatesCheckerError(t *testing.T) {
	s := mustStrategy(t, domain.MethodPooled)
	boom := errors.New("bad timezone")
	_, err := Select(s, team(domain.MethodPooled, "a"), nil, func(string) (availability.Verdict, error) {
		return availability.Verdict{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected checker error, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	s := mustStrategy(t, domain.MethodLoadBalanced)
	state := &domain.RotationState{MemberLoad: map[string]int{"a": 1}}
	if !Release(s, state, "a") || state.Load("a") != 0 {
		t.Fatalf("expected load to drop to 0: %+v", state)
	}
	if Release(s, state, "a") {
		t.Fatalf("load must not go negative")
	}
}

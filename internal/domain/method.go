package domain

import "fmt"

// AssignmentMethod names how a link picks its assignee. The set is closed;
// the assignment package maps each value to exactly one strategy.
type AssignmentMethod string

const (
	MethodSpecific     AssignmentMethod = "specific"
	MethodRoundRobin   AssignmentMethod = "round_robin"
	MethodPooled       AssignmentMethod = "pooled"
	MethodLoadBalanced AssignmentMethod = "load_balanced"
)

// ParseAssignmentMethod validates s against the closed set.
func ParseAssignmentMethod(s string) (AssignmentMethod, error) {
	switch m := AssignmentMethod(s); m {
	case MethodSpecific, MethodRoundRobin, MethodPooled, MethodLoadBalanced:
		return m, nil
	default:
		return "", fmt.Errorf("unknown assignment method %q", s)
	}
}

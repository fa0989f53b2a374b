package selector

import "github.com/fyrsmithlabs/convsim/internal/trajectory"

// Fallback applies policy to the eligible set. Stay keeps the step being
// pursued while it is still eligible and otherwise behaves like sequential. Sequential
// advances to the next eligible step after current, wrapping to the start of
// the declared order.
func Fallback(policy trajectory.FallbackPolicy, in Input) Selection {
	if len(in.Eligible) == 0 {
		return Selection{Method: trajectory.MethodNone}
	}
	if policy == trajectory.FallbackStay && in.Pursuing != "" && isEligible(in, in.Pursuing) {
		return Selection{Chosen: in.Pursuing, Method: trajectory.MethodStay}
	}
	if in.Current == "" {
		return Selection{Chosen: initial(in), Method: trajectory.MethodSequential}
	}
	if id, ok := after(in, in.Current); ok {
		return Selection{Chosen: id, Method: trajectory.MethodSequential}
	}
	return Selection{Chosen: earliest(in), Method: trajectory.MethodSequential}
}

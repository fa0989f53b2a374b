// Package trajectory defines the trajectory execution model: the immutable
// step graph, per-step runtime state, traces and results, and the pure
// evaluators the orchestrator drives each turn (eligibility, satisfaction,
// loop detection, and the continue/stop policy).
//
// Nothing in this package performs I/O. Custom preconditions and satisfaction
// predicates are user code and may block; they receive the caller's context.
package trajectory

// Package orchestrator drives a trajectory run turn by turn.
//
// # Overview
//
// Each turn runs the same pipeline:
//
//	select → loop check → policy check → generate user message → call agent → record trace → update state
//
// The run stops with a trajectory.StopReason (max-turns, goal-reached or
// agent-loop); stops are results, not errors. A failed external call
// (user-message generation, the agent, ranking, or a custom predicate)
// aborts the run with a *RunError carrying the traces recorded so far.
//
// # Ownership
//
// The trace list, the runtime-state map and the message history belong to
// a single Run call and are never shared. An Orchestrator may serve
// concurrent Run calls for different trajectories.
//
// # Usage Example
//
//	orch, err := orchestrator.New(orchestrator.Config{
//	    Agent:  agent,
//	    Store:  st,
//	    Logger: logger,
//	})
//	orch.OnProgress(func(p orchestrator.Progress) { ... })
//	result, err := orch.Run(ctx, traj)
//
// # Persistence
//
// After a run stops, the conversation record, the trajectory snapshot and
// the raw traces are handed to the store under the trajectory and run ids.
// Store failures are logged and do not change the result.
//
// # Observability
//
// Runs and turns are traced as "trajectory.run" and "trajectory.turn"
// spans; counters and histograms are exported through Prometheus with the
// convsim_orchestrator_ prefix.
package orchestrator

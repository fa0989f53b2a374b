package trajectory

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
)

// Eligible returns the steps whose preconditions all hold, in declared order.
// Satisfied, skipped and failed steps are never eligible. Preconditions across
// all steps are evaluated in parallel; the first predicate error cancels the
// rest and is returned.
func Eligible(ctx context.Context, graph *StepGraph, states RuntimeStates, history []conversation.Message) ([]StepDefinition, error) {
	if graph.Len() == 0 {
		return nil, nil
	}

	snap := states.Snapshot()
	steps := graph.steps
	results := make([][]bool, len(steps))
	considered := make([]bool, len(steps))

	g, gctx := errgroup.WithContext(ctx)
	for i, step := range steps {
		switch states.Status(step.ID) {
		case StatusSatisfied, StatusSkipped, StatusFailed:
			continue
		}
		considered[i] = true
		results[i] = make([]bool, len(step.Preconditions))

		for j, p := range step.Preconditions {
			if p.Type == PreconditionStepSatisfied {
				results[i][j] = snap.Satisfied[p.StepID]
				continue
			}

			i, j, p, step := i, j, p, step
			ec := EvalContext{
				History:  history,
				Snapshot: snap,
				Step:     step,
				State:    stateCopy(states, step.ID),
			}
			g.Go(func() error {
				ok, err := p.Evaluate(gctx, ec)
				if err != nil {
					return fmt.Errorf("step %q precondition %d: %w", step.ID, j, err)
				}
				results[i][j] = ok
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var eligible []StepDefinition
	for i, step := range steps {
		if !considered[i] {
			continue
		}
		if allTrue(results[i]) {
			eligible = append(eligible, step)
		}
	}
	return eligible, nil
}

func allTrue(v []bool) bool {
	for _, b := range v {
		if !b {
			return false
		}
	}
	return true
}

func stateCopy(states RuntimeStates, id StepID) StepRuntimeState {
	if s, ok := states[id]; ok {
		return *s
	}
	return StepRuntimeState{StepID: id, Status: StatusIdle}
}

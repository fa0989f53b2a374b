// Package selector chooses the step a turn pursues.
//
// Strict selection walks the graph in declared order and is deterministic.
// Ranked selection asks a Ranker to score eligible steps and accepts the top
// candidate only when it is confident and clearly ahead of the runner-up,
// falling back to a fixed policy otherwise.
package selector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// ErrNoCandidates is reported when ranking yields no usable candidate.
var ErrNoCandidates = errors.New("ranking returned no candidates")

// Selection is a selector's decision for one turn.
type Selection = trajectory.Selection

// Input is everything a selector may look at.
type Input struct {
	Graph *trajectory.StepGraph

	// Eligible steps, as returned by trajectory.Eligible.
	Eligible []trajectory.StepDefinition

	// Current is the most recently satisfied step, empty before any.
	Current trajectory.StepID

	// Pursuing is the step chosen last that has not yet been satisfied or
	// failed, empty when there is none.
	Pursuing trajectory.StepID

	History []conversation.Message
	Goal    string
}

// Selector picks the step for the next turn.
type Selector interface {
	Select(ctx context.Context, in Input) (Selection, error)
}

// New returns the selector for mode. Loose mode requires a ranker.
func New(mode trajectory.Mode, ranker Ranker, cfg trajectory.SelectorConfig, logger *zap.Logger) (Selector, error) {
	switch mode {
	case "", trajectory.ModeStrict:
		return Strict{}, nil
	case trajectory.ModeLoose:
		if ranker == nil {
			return nil, errors.New("loose mode requires a ranker")
		}
		return NewRanked(ranker, cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

// Strict selects the first eligible step after the current one in graph
// order. Before any step is current it prefers the start step.
type Strict struct{}

// Select implements Selector. It never wraps around.
func (Strict) Select(_ context.Context, in Input) (Selection, error) {
	if len(in.Eligible) == 0 {
		return Selection{Method: trajectory.MethodNone}, nil
	}
	if in.Current == "" {
		return Selection{Chosen: initial(in), Method: trajectory.MethodStrict}, nil
	}
	if id, ok := after(in, in.Current); ok {
		return Selection{Chosen: id, Method: trajectory.MethodStrict}, nil
	}
	return Selection{Method: trajectory.MethodNone}, nil
}

// initial returns start when eligible, else the earliest eligible step.
func initial(in Input) trajectory.StepID {
	start := in.Graph.Start()
	for _, s := range in.Eligible {
		if s.ID == start {
			return start
		}
	}
	return earliest(in)
}

func earliest(in Input) trajectory.StepID {
	best, bestIdx := trajectory.StepID(""), -1
	for _, s := range in.Eligible {
		idx := in.Graph.IndexOf(s.ID)
		if bestIdx < 0 || idx < bestIdx {
			best, bestIdx = s.ID, idx
		}
	}
	return best
}

// after returns the eligible step with the smallest declared index greater
// than current's.
func after(in Input, current trajectory.StepID) (trajectory.StepID, bool) {
	from := in.Graph.IndexOf(current)
	best, bestIdx := trajectory.StepID(""), -1
	for _, s := range in.Eligible {
		idx := in.Graph.IndexOf(s.ID)
		if idx > from && (bestIdx < 0 || idx < bestIdx) {
			best, bestIdx = s.ID, idx
		}
	}
	return best, bestIdx >= 0
}

func isEligible(in Input, id trajectory.StepID) bool {
	for _, s := range in.Eligible {
		if s.ID == id {
			return true
		}
	}
	return false
}

package trajectory

import "fmt"

// StepGraph is an immutable, validated set of steps in declared order.
type StepGraph struct {
	steps     []StepDefinition
	start     StepID
	terminals []StepID
	index     map[StepID]int
	terminal  map[StepID]bool
}

// NewStepGraph validates and builds a graph. Every integrity problem is
// reported in a single *GraphError.
func NewStepGraph(steps []StepDefinition, start StepID, terminals ...StepID) (*StepGraph, error) {
	g := &StepGraph{
		steps:     append([]StepDefinition(nil), steps...),
		start:     start,
		terminals: append([]StepID(nil), terminals...),
		index:     make(map[StepID]int, len(steps)),
		terminal:  make(map[StepID]bool, len(terminals)),
	}

	var problems []string
	for i, s := range g.steps {
		if s.ID == "" {
			problems = append(problems, fmt.Sprintf("step %d has an empty id", i))
			continue
		}
		if _, dup := g.index[s.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate step id %q", s.ID))
			continue
		}
		g.index[s.ID] = i
	}

	if len(g.steps) > 0 {
		if start == "" {
			problems = append(problems, "start step is required")
		} else if _, ok := g.index[start]; !ok {
			problems = append(problems, fmt.Sprintf("start step %q does not exist", start))
		}
	} else if start != "" {
		problems = append(problems, fmt.Sprintf("start step %q does not exist", start))
	}

	for _, s := range g.steps {
		if s.MaxAttempts < 0 {
			problems = append(problems, fmt.Sprintf("step %q: max attempts must be non-negative", s.ID))
		}
		if s.Timeout < 0 {
			problems = append(problems, fmt.Sprintf("step %q: timeout must be non-negative", s.ID))
		}
		for j, p := range s.Preconditions {
			switch p.Type {
			case PreconditionStepSatisfied:
				if _, ok := g.index[p.StepID]; !ok {
					problems = append(problems, fmt.Sprintf("step %q: precondition %d references unknown step %q", s.ID, j, p.StepID))
				} else if p.StepID == s.ID {
					problems = append(problems, fmt.Sprintf("step %q: precondition %d references itself", s.ID, j))
				}
			case PreconditionCustom:
				if p.Evaluate == nil {
					problems = append(problems, fmt.Sprintf("step %q: custom precondition %d has no predicate", s.ID, j))
				}
			default:
				problems = append(problems, fmt.Sprintf("step %q: precondition %d has unknown type %q", s.ID, j, p.Type))
			}
		}
	}

	for _, t := range g.terminals {
		if _, ok := g.index[t]; !ok {
			problems = append(problems, fmt.Sprintf("terminal step %q does not exist", t))
			continue
		}
		g.terminal[t] = true
	}

	if len(problems) > 0 {
		return nil, &GraphError{Problems: problems}
	}
	return g, nil
}

// MustStepGraph is like NewStepGraph but panics on error. Intended for tests
// and static graphs.
func MustStepGraph(steps []StepDefinition, start StepID, terminals ...StepID) *StepGraph {
	g, err := NewStepGraph(steps, start, terminals...)
	if err != nil {
		panic(err)
	}
	return g
}

// Steps returns the steps in declared order.
func (g *StepGraph) Steps() []StepDefinition {
	if g == nil {
		return nil
	}
	return append([]StepDefinition(nil), g.steps...)
}

// Len returns the number of steps. A nil graph has none.
func (g *StepGraph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.steps)
}

// Start returns the start step id.
func (g *StepGraph) Start() StepID {
	if g == nil {
		return ""
	}
	return g.start
}

// Terminals returns the terminal step ids.
func (g *StepGraph) Terminals() []StepID {
	if g == nil {
		return nil
	}
	return append([]StepID(nil), g.terminals...)
}

// Step looks up a step by id.
func (g *StepGraph) Step(id StepID) (StepDefinition, bool) {
	if g == nil {
		return StepDefinition{}, false
	}
	i, ok := g.index[id]
	if !ok {
		return StepDefinition{}, false
	}
	return g.steps[i], true
}

// IndexOf returns the declared position of id, or -1.
func (g *StepGraph) IndexOf(id StepID) int {
	if g == nil {
		return -1
	}
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// IsTerminal reports whether id is a terminal step.
func (g *StepGraph) IsTerminal(id StepID) bool {
	return g != nil && g.terminal[id]
}

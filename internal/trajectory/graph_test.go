package trajectory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearSteps() []StepDefinition {
	return []StepDefinition{
		{ID: "greet", Instruction: "Greet the agent"},
		{ID: "ask", Instruction: "Ask about order status", Preconditions: []Precondition{StepSatisfied("greet")}},
		{ID: "close", Instruction: "Thank the agent", Preconditions: []Precondition{StepSatisfied("ask")}},
	}
}

func TestNewStepGraph_Valid(t *testing.T) {
	g, err := NewStepGraph(linearSteps(), "greet", "close")
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, StepID("greet"), g.Start())
	assert.Equal(t, []StepID{"close"}, g.Terminals())
	assert.True(t, g.IsTerminal("close"))
	assert.False(t, g.IsTerminal("ask"))
	assert.Equal(t, 1, g.IndexOf("ask"))
	assert.Equal(t, -1, g.IndexOf("missing"))

	s, ok := g.Step("ask")
	require.True(t, ok)
	assert.Equal(t, "Ask about order status", s.Instruction)
}

func TestNewStepGraph_Empty(t *testing.T) {
	g, err := NewStepGraph(nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0, g.Len())
}

func TestNewStepGraph_Problems(t *testing.T) {
	steps := []StepDefinition{
		{ID: "a"},
		{ID: "a"},
		{ID: ""},
		{ID: "b", Preconditions: []Precondition{StepSatisfied("ghost"), StepSatisfied("b"), {Type: PreconditionCustom}}},
		{ID: "c", MaxAttempts: -1},
	}

	_, err := NewStepGraph(steps, "nope", "z")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))

	var ge *GraphError
	require.True(t, errors.As(err, &ge))
	assert.Len(t, ge.Problems, 8)
	assert.Contains(t, err.Error(), `duplicate step id "a"`)
	assert.Contains(t, err.Error(), `start step "nope" does not exist`)
	assert.Contains(t, err.Error(), `unknown step "ghost"`)
	assert.Contains(t, err.Error(), `terminal step "z" does not exist`)
}

func TestNewStepGraph_MissingStart(t *testing.T) {
	_, err := NewStepGraph(linearSteps(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start step is required")
}

func TestNewStepGraph_CopiesInput(t *testing.T) {
	steps := linearSteps()
	g := MustStepGraph(steps, "greet")
	steps[0].Instruction = "changed"

	s, _ := g.Step("greet")
	assert.Equal(t, "Greet the agent", s.Instruction)
}

func TestMustStepGraph_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustStepGraph([]StepDefinition{{ID: "a"}}, "b")
	})
}

func TestNilGraph(t *testing.T) {
	var g *StepGraph
	assert.Equal(t, 0, g.Len())
	assert.Equal(t, StepID(""), g.Start())
	assert.False(t, g.IsTerminal("a"))
	assert.Nil(t, g.Steps())

	eligible, err := Eligible(context.Background(), g, NewRuntimeStates(), nil)
	require.NoError(t, err)
	assert.Empty(t, eligible)
}

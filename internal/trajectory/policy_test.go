package trajectory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestPolicy_Evaluate(t *testing.T) {
	g := MustStepGraph([]StepDefinition{{ID: "s1"}, {ID: "s2"}}, "s1", "s1", "s2")
	empty := MustStepGraph(nil, "")

	tests := []struct {
		name   string
		in     PolicyInput
		stop   bool
		reason StopReason
	}{
		{"max turns reached", PolicyInput{TurnIndex: 3, MaxTurns: intPtr(3), Graph: g}, true, StopMaxTurns},
		{"below max turns", PolicyInput{TurnIndex: 2, MaxTurns: intPtr(3), Graph: g}, false, ""},
		{"zero max turns", PolicyInput{TurnIndex: 0, MaxTurns: intPtr(0), Graph: g}, true, StopMaxTurns},
		{"terminal start gated at turn zero", PolicyInput{TurnIndex: 0, Graph: g, CurrentStep: "s1"}, false, ""},
		{"terminal after first turn", PolicyInput{TurnIndex: 1, Graph: g, CurrentStep: "s1"}, true, StopGoalReached},
		{"empty graph continues", PolicyInput{TurnIndex: 10, MaxTurns: intPtr(20), Graph: empty, CurrentStep: "s1"}, false, ""},
		{"nil graph continues", PolicyInput{TurnIndex: 10}, false, ""},
		{"ceiling with nil max turns", PolicyInput{TurnIndex: SafetyCeiling}, true, StopMaxTurns},
		{"ceiling beats large max turns", PolicyInput{TurnIndex: SafetyCeiling, MaxTurns: intPtr(1000), Graph: g}, true, StopMaxTurns},
		{"max turns checked before goal", PolicyInput{TurnIndex: 2, MaxTurns: intPtr(2), Graph: g, CurrentStep: "s2"}, true, StopMaxTurns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Policy{}.Evaluate(tt.in)
			assert.Equal(t, tt.stop, d.Stop)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.reason == StopGoalReached, d.Completed)
		})
	}
}

func TestPolicy_Limit(t *testing.T) {
	assert.Equal(t, SafetyCeiling, Policy{}.Limit(nil))
	assert.Equal(t, 5, Policy{}.Limit(intPtr(5)))
	assert.Equal(t, 4, Policy{Ceiling: 4}.Limit(intPtr(5)))
}

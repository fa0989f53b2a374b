package trajectory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
)

func TestDefaultSatisfied(t *testing.T) {
	step := StepDefinition{ID: "ask", Instruction: "Ask about the refund policy", Hints: []string{"refund"}}

	tests := []struct {
		name    string
		history []conversation.Message
		want    bool
	}{
		{
			name:    "empty history",
			history: nil,
			want:    false,
		},
		{
			name: "non-empty user reply after agent",
			history: []conversation.Message{
				conversation.User("hello"),
				conversation.Assistant("hi, how can I help"),
				conversation.User("what is your return window"),
				conversation.Assistant("30 days"),
			},
			want: true,
		},
		{
			name: "first turn without prior agent",
			history: []conversation.Message{
				conversation.User("hello"),
				conversation.Assistant("hi"),
			},
			want: true,
		},
		{
			name: "blank user reply",
			history: []conversation.Message{
				conversation.Assistant("welcome"),
				conversation.User("   "),
				conversation.Assistant("are you there?"),
			},
			want: false,
		},
		{
			name: "only assistant messages",
			history: []conversation.Message{
				conversation.Assistant("welcome"),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultSatisfied(step, tt.history))
		})
	}
}

func TestInstructionTokens(t *testing.T) {
	assert.Equal(t, []string{"about", "refund", "policy"}, InstructionTokens("Ask about the refund-policy!"))
	assert.Empty(t, InstructionTokens("go to it"))
}

func TestMentionsStep(t *testing.T) {
	step := StepDefinition{Instruction: "Request a replacement", Hints: []string{"Swap"}}
	assert.True(t, mentionsStep("can I SWAP it", step))
	assert.True(t, mentionsStep("i want a replacement", step))
	assert.False(t, mentionsStep("thanks", step))
}

func TestIsSatisfied_CustomPredicate(t *testing.T) {
	states := NewRuntimeStates()
	now := time.Now()
	states.Get("prior", now).Status = StatusSatisfied
	state := states.Select("ask", now)
	state.Attempts = 2

	var got EvalContext
	step := StepDefinition{
		ID: "ask",
		IsSatisfied: func(_ context.Context, ec EvalContext) (bool, error) {
			got = ec
			return false, nil
		},
	}
	history := []conversation.Message{conversation.User("x"), conversation.Assistant("y")}

	ok, err := IsSatisfied(context.Background(), step, state, states, history)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, got.State.Attempts)
	assert.True(t, got.Snapshot.Satisfied["prior"])
	assert.Equal(t, 2, got.Snapshot.AttemptsByStep["ask"])
	assert.Equal(t, StepID("ask"), got.Step.ID)
	assert.Len(t, got.History, 2)
}

func TestIsSatisfied_DefaultHeuristic(t *testing.T) {
	history := []conversation.Message{conversation.User("hello"), conversation.Assistant("hi")}
	ok, err := IsSatisfied(context.Background(), StepDefinition{ID: "s"}, nil, NewRuntimeStates(), history)
	require.NoError(t, err)
	assert.True(t, ok)
}

package trajectory

import (
	"context"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
)

// minTokenLength is the exclusive lower bound for instruction tokens used by
// the default heuristic.
const minTokenLength = 4

// IsSatisfied evaluates whether step was accomplished by the latest turn.
// A custom IsSatisfied predicate wins; otherwise DefaultSatisfied applies.
func IsSatisfied(ctx context.Context, step StepDefinition, state *StepRuntimeState, states RuntimeStates, history []conversation.Message) (bool, error) {
	if step.IsSatisfied != nil {
		ec := EvalContext{
			History:  history,
			Snapshot: states.Snapshot(),
			Step:     step,
		}
		if state != nil {
			ec.State = *state
		} else {
			ec.State = StepRuntimeState{StepID: step.ID, Status: StatusIdle}
		}
		return step.IsSatisfied(ctx, ec)
	}
	return DefaultSatisfied(step, history), nil
}

// DefaultSatisfied is the permissive progress heuristic. It finds the user
// message that opened the latest exchange (the first user message after the
// assistant message preceding the most recent user message) and reports true
// when it is non-empty or mentions a hint or an instruction token.
func DefaultSatisfied(step StepDefinition, history []conversation.Message) bool {
	lastUser := conversation.LastIndexOf(history, conversation.RoleUser, len(history))
	if lastUser < 0 {
		return false
	}
	anchor := conversation.LastIndexOf(history, conversation.RoleAssistant, lastUser)

	target := -1
	for i := anchor + 1; i < len(history); i++ {
		if history[i].Role == conversation.RoleUser {
			target = i
			break
		}
	}
	if target < 0 {
		return false
	}

	text := strings.TrimSpace(history[target].Text())
	if text != "" {
		return true
	}
	return mentionsStep(text, step)
}

func mentionsStep(text string, step StepDefinition) bool {
	lower := strings.ToLower(text)
	for _, h := range step.Hints {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" && strings.Contains(lower, h) {
			return true
		}
	}
	for _, tok := range InstructionTokens(step.Instruction) {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// InstructionTokens returns the lowercased words of instruction longer than
// four characters.
func InstructionTokens(instruction string) []string {
	fields := strings.FieldsFunc(strings.ToLower(instruction), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > minTokenLength {
			out = append(out, f)
		}
	}
	return out
}

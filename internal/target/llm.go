package target

import (
	"context"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/llm"
)

// LLM answers with a language model, useful for dry runs and for testing
// prompts without a deployed agent.
type LLM struct {
	client       *llm.Client
	systemPrompt string
}

// NewLLM creates an LLM-backed agent.
func NewLLM(client *llm.Client, systemPrompt string) *LLM {
	return &LLM{client: client, systemPrompt: systemPrompt}
}

// Respond implements Agent.
func (a *LLM) Respond(ctx context.Context, history []conversation.Message) (*Response, error) {
	msg, err := a.client.Chat(ctx, a.systemPrompt, history)
	if err != nil {
		return nil, err
	}
	return &Response{Messages: []conversation.Message{msg}}, nil
}

package llm

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrScriptExhausted is returned by FakeModel when no scripted reply remains.
var ErrScriptExhausted = errors.New("fake model script exhausted")

// FakeReply is one scripted FakeModel answer.
type FakeReply struct {
	Content   string
	ToolCalls []llms.ToolCall
	Err       error
}

// FakeModel is a deterministic llms.Model for offline runs and tests. It
// returns scripted replies in order, then Respond's output if set.
type FakeModel struct {
	mu      sync.Mutex
	replies []FakeReply
	calls   [][]llms.MessageContent

	// Respond answers once the script is exhausted.
	Respond func(msgs []llms.MessageContent) (string, error)
}

// NewFakeModel creates a fake that replies with texts in order.
func NewFakeModel(texts ...string) *FakeModel {
	f := &FakeModel{}
	for _, t := range texts {
		f.replies = append(f.replies, FakeReply{Content: t})
	}
	return f
}

// Script appends replies.
func (f *FakeModel) Script(replies ...FakeReply) *FakeModel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
	return f
}

// GenerateContent implements llms.Model.
func (f *FakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, msgs)
	var (
		reply FakeReply
		ok    bool
	)
	if len(f.replies) > 0 {
		reply, f.replies, ok = f.replies[0], f.replies[1:], true
	}
	respond := f.Respond
	f.mu.Unlock()

	if !ok {
		if respond == nil {
			return nil, ErrScriptExhausted
		}
		text, err := respond(msgs)
		reply = FakeReply{Content: text, Err: err}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: reply.Content, ToolCalls: reply.ToolCalls}},
	}, nil
}

// Call implements llms.Model.
func (f *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// Calls returns the messages of every call so far.
func (f *FakeModel) Calls() [][]llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]llms.MessageContent(nil), f.calls...)
}

// PromptText concatenates the text parts of a call's messages.
func PromptText(msgs []llms.MessageContent) string {
	var b strings.Builder
	for _, m := range msgs {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				b.WriteString(t.Text)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// Package target adapts the agent under test to a single capability:
// given the conversation so far, respond with zero or more messages.
//
// Adapters are selected through Spec, a tagged union naming exactly one
// backend: an HTTP endpoint, a language model, or an in-process function.
package target

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/llm"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// Response is the agent's reply to one turn.
type Response struct {
	Messages []conversation.Message `json:"messages"`
}

// Agent is the agent-under-test capability.
type Agent interface {
	Respond(ctx context.Context, history []conversation.Message) (*Response, error)
}

// Func adapts an in-process function to Agent.
type Func func(ctx context.Context, history []conversation.Message) (*Response, error)

// Respond implements Agent.
func (f Func) Respond(ctx context.Context, history []conversation.Message) (*Response, error) {
	return f(ctx, history)
}

// Kind discriminates Spec variants.
type Kind string

const (
	KindHTTP Kind = "http"
	KindLLM  Kind = "llm"
	KindFunc Kind = "func"
)

// ErrInvalidSpec is wrapped by Spec resolution errors.
var ErrInvalidSpec = errors.New("invalid target spec")

// Spec names the agent under test.
type Spec struct {
	Kind Kind `json:"kind" koanf:"kind"`

	// HTTP variant.
	URL     string            `json:"url,omitempty" koanf:"url"`
	Headers map[string]string `json:"headers,omitempty" koanf:"headers"`
	Timeout time.Duration     `json:"timeout,omitempty" koanf:"timeout"`

	// LLM variant.
	Model        trajectory.ModelConfig `json:"model,omitempty" koanf:"model"`
	SystemPrompt string                 `json:"system_prompt,omitempty" koanf:"system_prompt"`

	// Func variant. Not serializable.
	Func Func `json:"-" koanf:"-"`
}

// Build resolves spec into an Agent.
func Build(spec Spec, opts llm.Options, logger *zap.Logger) (Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch spec.Kind {
	case KindHTTP:
		if spec.URL == "" {
			return nil, fmt.Errorf("%w: http target requires url", ErrInvalidSpec)
		}
		return NewHTTP(HTTPConfig{URL: spec.URL, Headers: spec.Headers, Timeout: spec.Timeout, Logger: logger})
	case KindLLM:
		model, err := llm.NewModel(spec.Model)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		opts.Logger = logger
		return NewLLM(llm.New(model, opts), spec.SystemPrompt), nil
	case KindFunc:
		if spec.Func == nil {
			return nil, fmt.Errorf("%w: func target requires a function", ErrInvalidSpec)
		}
		return spec.Func, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSpec, spec.Kind)
}

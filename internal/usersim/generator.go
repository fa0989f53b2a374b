// Package usersim generates the simulated user's messages. Each message is a
// single free-text generation combining the persona, the trajectory goal, the
// step being pursued, and a bounded window of the conversation so far.
package usersim

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// LLMClient is the free-text generation capability.
type LLMClient interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config configures a Generator.
type Config struct {
	LLM    LLMClient
	Logger *zap.Logger

	// Now overrides the message timestamp clock.
	Now func() time.Time
}

// Generator produces simulated user messages.
type Generator struct {
	llm    LLMClient
	logger *zap.Logger
	now    func() time.Time
}

// New creates a new generator.
func New(cfg Config) (*Generator, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Generator{llm: cfg.LLM, logger: logger, now: now}, nil
}

// Request is the input for one simulated user message.
type Request struct {
	Persona trajectory.Persona
	Goal    string

	// Step is the step being pursued, nil when none was selected.
	Step *trajectory.StepDefinition

	History     []conversation.Message
	WindowTurns int
}

// Next generates the simulated user's next message. Failures are returned
// unchanged in meaning; the caller decides whether they end the run.
func (g *Generator) Next(ctx context.Context, req Request) (conversation.Message, error) {
	window := req.WindowTurns
	if window <= 0 {
		window = trajectory.DefaultWindowTurns
	}

	text, err := g.llm.Generate(ctx, SystemPrompt(req.Persona), UserPrompt(req, window))
	if err != nil {
		return conversation.Message{}, fmt.Errorf("generating user message: %w", err)
	}

	text = StripRoleLabel(text)
	stepID := ""
	if req.Step != nil {
		stepID = string(req.Step.ID)
	}
	g.logger.Debug("generated user message",
		zap.String("persona", req.Persona.Name),
		zap.String("step_id", stepID),
		zap.Int("length", len(text)))

	msg := conversation.User(text)
	msg.Timestamp = g.now()
	return msg, nil
}

// SystemPrompt frames the model as the user, never the assistant.
func SystemPrompt(p trajectory.Persona) string {
	var b strings.Builder
	b.WriteString("You are role-playing a USER talking to an AI assistant or service agent. ")
	b.WriteString("You are not the assistant. Never offer help, never answer your own questions, ")
	b.WriteString("and never speak as customer support. Write only what the user would type next, ")
	b.WriteString("in the first person, without labels or quotation marks.\n\n")

	if p.Name != "" {
		fmt.Fprintf(&b, "Persona: %s\n", p.Name)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "Who you are: %s\n", p.Description)
	}
	if len(p.Guardrails) > 0 {
		b.WriteString("You must respect these guardrails:\n")
		for _, gr := range p.Guardrails {
			fmt.Fprintf(&b, "- %s\n", gr)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// UserPrompt describes the goal, current step and recent conversation.
func UserPrompt(req Request, windowTurns int) string {
	var b strings.Builder
	if req.Goal != "" {
		fmt.Fprintf(&b, "Your overall goal: %s\n", req.Goal)
	}
	if req.Step != nil {
		fmt.Fprintf(&b, "What you want to accomplish right now: %s\n", req.Step.Instruction)
		if len(req.Step.Hints) > 0 {
			fmt.Fprintf(&b, "Things worth mentioning: %s\n", strings.Join(req.Step.Hints, ", "))
		}
	}

	recent := conversation.Window(req.History, windowTurns)
	if len(recent) == 0 {
		b.WriteString("\nThe conversation has not started. Write your opening message as the user.")
		return b.String()
	}

	b.WriteString("\nRecent conversation:\n")
	b.WriteString(conversation.FormatTranscript(recent))
	b.WriteString("\n\nWrite the user's next message. Reply as the user, not as the assistant.")
	return b.String()
}

var roleLabel = regexp.MustCompile(`(?i)^\s*(user|assistant|customer|agent)\s*:\s*`)

// StripRoleLabel removes a leading speaker label and surrounding quotes the
// model sometimes echoes from the transcript.
func StripRoleLabel(text string) string {
	text = strings.TrimSpace(roleLabel.ReplaceAllString(text, ""))
	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	return text
}

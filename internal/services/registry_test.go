package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/convsim/internal/config"
	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/llm"
	"github.com/fyrsmithlabs/convsim/internal/logging"
	"github.com/fyrsmithlabs/convsim/internal/orchestrator"
	"github.com/fyrsmithlabs/convsim/internal/store"
	"github.com/fyrsmithlabs/convsim/internal/target"
	"github.com/fyrsmithlabs/convsim/internal/telemetry"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

const twoStepDoc = `
goal: Get a refund
persona:
  description: A customer with a damaged order
mode: strict
terminals: [refund]
steps:
  - id: order
    instruction: Give the order number
    satisfied_when: "true"
  - id: refund
    instruction: Ask for a refund
    preconditions:
      - step: order
    satisfied_when: "true"
`

func fakeUser() *llm.FakeModel {
	f := llm.NewFakeModel()
	f.Respond = func([]llms.MessageContent) (string, error) {
		return "My order is 42 and I want a refund", nil
	}
	return f
}

func echoTarget() *target.Spec {
	return &target.Spec{
		Kind: target.KindFunc,
		Func: func(_ context.Context, history []conversation.Message) (*target.Response, error) {
			return &target.Response{Messages: []conversation.Message{
				conversation.Assistant("ack: " + history[len(history)-1].Text()),
			}}, nil
		},
	}
}

func newTestRegistry(t *testing.T, def *target.Spec) (*Registry, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	return NewRegistry(Options{
		Logger:        logger.Logger,
		Resolver:      definition.Resolver{Model: fakeUser()},
		LLM:           llm.Options{RequestsPerMinute: -1},
		DefaultTarget: def,
	}), logger
}

func parseDoc(t *testing.T, src string) *definition.Document {
	t.Helper()
	doc, err := definition.Parse([]byte(src), definition.FormatYAML)
	require.NoError(t, err)
	return doc
}

func TestNewRegistry_Defaults(t *testing.T) {
	reg := NewRegistry(Options{})
	assert.IsType(t, store.Nop{}, reg.Store())
	assert.NotNil(t, reg.Logger())
}

func TestRegistry_RunDocument(t *testing.T) {
	reg, _ := newTestRegistry(t, echoTarget())

	var reports []orchestrator.Progress
	res, err := reg.RunDocument(context.Background(), parseDoc(t, twoStepDoc), func(p orchestrator.Progress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, trajectory.StopGoalReached, res.Reason)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, trajectory.StepID("order"), res.Steps[0].StepID)
	assert.Equal(t, trajectory.StepID("refund"), res.Steps[1].StepID)
	assert.NotEmpty(t, res.TrajectoryID)
	assert.NotEmpty(t, res.RunID)
	assert.NotEmpty(t, reports)
}

func TestRegistry_RunDocumentTraced(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	reg := NewRegistry(Options{
		Logger:        logging.Nop(),
		Resolver:      definition.Resolver{Model: fakeUser()},
		LLM:           llm.Options{RequestsPerMinute: -1},
		DefaultTarget: echoTarget(),
		Tracer:        tel.Tracer("test"),
	})

	res, err := reg.RunDocument(context.Background(), parseDoc(t, twoStepDoc), nil)
	require.NoError(t, err)

	require.Len(t, tel.SpansNamed("trajectory.run"), 1)
	assert.NotEmpty(t, tel.SpansNamed("trajectory.turn"))
	tel.AssertSpanAttribute(t, "trajectory.run", "trajectory.id", res.TrajectoryID)
	tel.AssertSpanAttribute(t, "trajectory.run", "trajectory.steps", int64(2))
}

func TestRegistry_NoTarget(t *testing.T) {
	reg, _ := newTestRegistry(t, nil)

	_, err := reg.RunDocument(context.Background(), parseDoc(t, twoStepDoc), nil)
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestRegistry_DocumentTargetWins(t *testing.T) {
	reg, _ := newTestRegistry(t, echoTarget())

	doc := parseDoc(t, twoStepDoc)
	doc.Target = &definition.TargetDoc{Kind: "http"}

	_, err := reg.Agent(doc)
	assert.ErrorIs(t, err, target.ErrInvalidSpec)
}

func TestRegistry_InvalidGraph(t *testing.T) {
	reg, _ := newTestRegistry(t, echoTarget())

	doc := parseDoc(t, twoStepDoc)
	doc.Steps[1].Preconditions[0].Step = "missing"

	_, err := reg.RunDocument(context.Background(), doc, nil)
	assert.ErrorIs(t, err, definition.ErrInvalidDocument)
	assert.ErrorIs(t, err, trajectory.ErrInvalidGraph)
}

func TestTargetFromConfig(t *testing.T) {
	model := trajectory.ModelConfig{Provider: "openai", Model: "gpt-4o-mini"}

	assert.Nil(t, TargetFromConfig(config.TargetConfig{Kind: "http"}, model))

	spec := TargetFromConfig(config.TargetConfig{Kind: "llm", SystemPrompt: "be brief"}, model)
	require.NotNil(t, spec)
	assert.Equal(t, target.KindLLM, spec.Kind)
	assert.Equal(t, model, spec.Model)
	assert.Equal(t, "be brief", spec.SystemPrompt)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Target.URL = "http://localhost:8080/chat"

	opts := OptionsFromConfig(cfg, nil, nil)
	require.NotNil(t, opts.DefaultTarget)
	assert.Equal(t, "http://localhost:8080/chat", opts.DefaultTarget.URL)
	assert.Equal(t, cfg.LLM.RequestsPerMinute, opts.LLM.RequestsPerMinute)
	assert.Equal(t, &cfg.Run, opts.Resolver.Run)
}

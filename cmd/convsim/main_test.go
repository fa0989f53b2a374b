package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/awalterschulze/gographviz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/orchestrator"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
	"github.com/fyrsmithlabs/convsim/internal/workflows"
)

const refundYAML = `
goal: Get a refund
persona:
  description: A customer with a damaged order
terminals: [refund]
steps:
  - id: order
    instruction: Give the order number
  - id: refund
    instruction: Ask for a refund
    preconditions:
      - step: order
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		out, err := execute(t, "validate", writeFile(t, "refund.yaml", refundYAML))
		require.NoError(t, err)
		assert.Contains(t, out, "OK")
		assert.Contains(t, out, "(2 steps)")
	})

	t.Run("dangling precondition", func(t *testing.T) {
		broken := writeFile(t, "broken.yaml", `
goal: Get a refund
steps:
  - id: refund
    instruction: Ask for a refund
    preconditions:
      - step: order
`)
		out, err := execute(t, "validate", broken)
		require.Error(t, err)
		assert.Equal(t, 1, exitCode(err))
		assert.Contains(t, out, "INVALID")
		assert.Contains(t, out, "order")
	})

	t.Run("parse only skips graph checks", func(t *testing.T) {
		broken := writeFile(t, "broken.yaml", `
goal: Get a refund
steps:
  - id: refund
    instruction: Ask for a refund
    preconditions:
      - step: order
`)
		_, err := execute(t, "validate", "--build=false", broken)
		assert.NoError(t, err)
	})
}

func TestGraphCommand(t *testing.T) {
	out, err := execute(t, "graph", writeFile(t, "refund.yaml", refundYAML))
	require.NoError(t, err)

	ast, err := gographviz.ParseString(out)
	require.NoError(t, err)
	g := gographviz.NewGraph()
	require.NoError(t, gographviz.Analyse(ast, g))
	assert.Contains(t, g.Edges.SrcToDsts, `"order"`)
}

func TestGraphCommand_NoSteps(t *testing.T) {
	_, err := execute(t, "graph", writeFile(t, "empty.yaml", "goal: chat\n"))
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 2, exitCode(&exitError{code: 2, err: errors.New("incomplete")}))
}

func TestRenderOutcome(t *testing.T) {
	t.Run("result", func(t *testing.T) {
		out := renderOutcome(runOutcome{
			path: "refund.yaml",
			result: &trajectory.Result{
				RunID:     "run-1",
				Completed: true,
				Reason:    trajectory.StopGoalReached,
				Steps: []trajectory.StepTrace{
					{TurnIndex: 1, StepID: "order", UserMessage: conversation.User("My order is 42"), Selection: trajectory.Selection{Method: trajectory.MethodStrict}},
				},
				StepStates: []trajectory.StepRuntimeState{{StepID: "order", Status: trajectory.StatusSatisfied}},
			},
		})
		assert.Contains(t, out, "refund.yaml")
		assert.Contains(t, out, "goal-reached")
		assert.Contains(t, out, "My order is 42")
		assert.Contains(t, out, "satisfied")
	})

	t.Run("run error", func(t *testing.T) {
		out := renderOutcome(runOutcome{
			path: "refund.yaml",
			err: &orchestrator.RunError{
				Phase:     orchestrator.PhaseAgent,
				TurnIndex: 2,
				Traces:    []trajectory.StepTrace{{TurnIndex: 1, StepID: "order"}},
				Err:       errors.New("connection refused"),
			},
		})
		assert.Contains(t, out, "FAILED")
		assert.Contains(t, out, "connection refused")
		assert.Contains(t, out, "order")
	})
}

func TestJSONOutcome(t *testing.T) {
	j := jsonOutcome(runOutcome{path: "a.yaml", err: &orchestrator.RunError{Phase: orchestrator.PhaseGenerate, Err: errors.New("x")}})
	assert.Equal(t, orchestrator.PhaseGenerate, j.Phase)
	assert.NotEmpty(t, j.Error)
	assert.Nil(t, j.Result)
}

func TestBatchDocuments(t *testing.T) {
	p := writeFile(t, "refund.yaml", refundYAML)

	docs, err := batchDocuments([]string{p})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "refund", docs[0].Name)
	assert.Equal(t, definition.FormatYAML, docs[0].Format)
	assert.Equal(t, refundYAML, docs[0].Content)

	_, err = batchDocuments([]string{writeFile(t, "refund.txt", refundYAML)})
	assert.ErrorIs(t, err, definition.ErrInvalidDocument)
}

func TestRenderBatch(t *testing.T) {
	out := renderBatch(&workflows.BatchResult{
		Runs:      []workflows.RunSummary{{Name: "a"}, {Name: "b", Error: "agent unreachable"}},
		Reasons:   map[string]int{"goal-reached": 1},
		Completed: 1,
		Failed:    1,
	})
	assert.Contains(t, out, "goal-reached")
	assert.Contains(t, out, "agent unreachable")
}

func TestClip(t *testing.T) {
	assert.Equal(t, "a b", clip("a\n  b", 10))
	assert.Equal(t, "abcd…", clip("abcdefgh", 5))
}

func TestTranscripts_WriteThenPrint(t *testing.T) {
	dir := t.TempDir()
	outcomes := []runOutcome{
		{
			path: "refund.yaml",
			result: &trajectory.Result{
				TrajectoryID: "refund-request",
				RunID:        "run-1",
				Steps: []trajectory.StepTrace{{
					TurnIndex:     0,
					StepID:        "order",
					UserMessage:   conversation.User("My order is 42"),
					AgentMessages: []conversation.Message{conversation.Assistant("Thanks, looking it up")},
				}},
			},
		},
		{
			path: "cancel.yaml",
			err: &orchestrator.RunError{
				Phase:  orchestrator.PhaseAgent,
				Traces: []trajectory.StepTrace{{UserMessage: conversation.User("Cancel please")}},
				Err:    errors.New("connection refused"),
			},
		},
		{path: "broken.yaml", err: errors.New("invalid document")},
	}

	written, err := writeTranscripts(dir, outcomes)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "refund-request-run-1.jsonl"),
		filepath.Join(dir, "cancel-failed-1.jsonl"),
	}, written)

	res, err := conversation.ReadJSONLFile(written[0])
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, conversation.RoleUser, res.Messages[0].Role)
	assert.Equal(t, "Thanks, looking it up", res.Messages[1].Text())

	out, err := execute(t, "transcript", written[0])
	require.NoError(t, err)
	assert.Contains(t, out, "(2 messages)")
	assert.Contains(t, out, "My order is 42")
	assert.Contains(t, out, "Thanks, looking it up")
}

func TestTranscriptCommand_ReportsBadLines(t *testing.T) {
	path := writeFile(t, "t.jsonl", `{"role":"user","content":"hi"}
not json
`)
	out, err := execute(t, "transcript", path)
	require.NoError(t, err)
	assert.Contains(t, out, "(1 messages)")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "line 2")
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/llm"
	"github.com/fyrsmithlabs/convsim/internal/logging"
	"github.com/fyrsmithlabs/convsim/internal/orchestrator"
	"github.com/fyrsmithlabs/convsim/internal/services"
	"github.com/fyrsmithlabs/convsim/internal/target"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

const refundDoc = `
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

const refundJSON = `{
  "goal": "Get a refund",
  "persona": {"description": "A customer"},
  "steps": [{"id": "order", "instruction": "Give the order number"}]
}`

// mockRunner is a mock implementation of Runner.
type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Build(doc *definition.Document) (*trajectory.Trajectory, error) {
	args := m.Called(doc)
	t, _ := args.Get(0).(*trajectory.Trajectory)
	return t, args.Error(1)
}

func (m *mockRunner) RunDocument(ctx context.Context, doc *definition.Document, progress orchestrator.ProgressCallback) (*trajectory.Result, error) {
	args := m.Called(ctx, doc, progress)
	r, _ := args.Get(0).(*trajectory.Result)
	return r, args.Error(1)
}

func setupTestServer(t *testing.T, runner Runner) *Server {
	t.Helper()
	s, err := NewServer(runner, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(&mockRunner{}, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", s.config.Host)
		assert.Equal(t, 9191, s.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&mockRunner{}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when runner is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "runner cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	rec := do(setupTestServer(t, &mockRunner{}), http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleMetrics(t *testing.T) {
	rec := do(setupTestServer(t, &mockRunner{}), http.MethodGet, "/metrics", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleRun(t *testing.T) {
	t.Run("returns the result", func(t *testing.T) {
		runner := &mockRunner{}
		want := &trajectory.Result{TrajectoryID: "t1", RunID: "r1", Completed: true, Reason: trajectory.StopGoalReached}
		runner.On("RunDocument", mock.Anything, mock.MatchedBy(func(d *definition.Document) bool {
			return d.Goal == "Get a refund"
		}), mock.Anything).Return(want, nil)

		rec := do(setupTestServer(t, runner), http.MethodPost, "/api/v1/runs", "application/yaml", refundDoc)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got trajectory.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "t1", got.TrajectoryID)
		assert.Equal(t, trajectory.StopGoalReached, got.Reason)
		runner.AssertExpectations(t)
	})

	t.Run("accepts json", func(t *testing.T) {
		runner := &mockRunner{}
		runner.On("RunDocument", mock.Anything, mock.Anything, mock.Anything).
			Return(&trajectory.Result{Reason: trajectory.StopMaxTurns}, nil)

		rec := do(setupTestServer(t, runner), http.MethodPost, "/api/v1/runs", echo.MIMEApplicationJSONCharsetUTF8, refundJSON)

		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("rejects invalid documents", func(t *testing.T) {
		runner := &mockRunner{}
		rec := do(setupTestServer(t, runner), http.MethodPost, "/api/v1/runs", "application/yaml", "persona: {}\n")

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "goal is required")
		runner.AssertNotCalled(t, "RunDocument", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects unsupported content types", func(t *testing.T) {
		rec := do(setupTestServer(t, &mockRunner{}), http.MethodPost, "/api/v1/runs", "application/xml", "<doc/>")
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("rejects empty bodies", func(t *testing.T) {
		rec := do(setupTestServer(t, &mockRunner{}), http.MethodPost, "/api/v1/runs", "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps run errors to bad gateway", func(t *testing.T) {
		runner := &mockRunner{}
		runErr := &orchestrator.RunError{
			Phase:     orchestrator.PhaseAgent,
			TurnIndex: 2,
			Traces:    []trajectory.StepTrace{{TurnIndex: 1, StepID: "order"}},
			Err:       errors.New("connection refused"),
		}
		runner.On("RunDocument", mock.Anything, mock.Anything, mock.Anything).Return(nil, runErr)

		rec := do(setupTestServer(t, runner), http.MethodPost, "/api/v1/runs", "", refundDoc)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		var resp RunErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, orchestrator.PhaseAgent, resp.Phase)
		assert.Equal(t, 2, resp.TurnIndex)
		assert.Equal(t, "connection refused", resp.Error)
		require.Len(t, resp.Steps, 1)
	})

	t.Run("maps timeouts to gateway timeout", func(t *testing.T) {
		runner := &mockRunner{}
		runner.On("RunDocument", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, &orchestrator.RunError{Phase: orchestrator.PhaseGenerate, TurnIndex: 1, Err: context.DeadlineExceeded})

		rec := do(setupTestServer(t, runner), http.MethodPost, "/api/v1/runs", "", refundDoc)
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})

	t.Run("maps missing targets to unprocessable", func(t *testing.T) {
		runner := &mockRunner{}
		runner.On("RunDocument", mock.Anything, mock.Anything, mock.Anything).Return(nil, services.ErrNoTarget)

		rec := do(setupTestServer(t, runner), http.MethodPost, "/api/v1/runs", "", refundDoc)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("hides unexpected errors", func(t *testing.T) {
		runner := &mockRunner{}
		runner.On("RunDocument", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("disk on fire"))

		rec := do(setupTestServer(t, runner), http.MethodPost, "/api/v1/runs", "", refundDoc)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk on fire")
	})
}

func TestHandleValidate(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		g := trajectory.MustStepGraph([]trajectory.StepDefinition{
			{ID: "order", Instruction: "Give the order number"},
			{ID: "refund", Instruction: "Ask for a refund"},
		}, "order", "refund")
		runner := &mockRunner{}
		runner.On("Build", mock.Anything).Return(&trajectory.Trajectory{Steps: g}, nil)

		rec := do(setupTestServer(t, runner), http.MethodPost, "/api/v1/validate", "", refundDoc)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp ValidateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Valid)
		assert.Equal(t, 2, resp.Steps)
		assert.Equal(t, "order", resp.Start)
		assert.Equal(t, []string{"refund"}, resp.Terminals)
	})

	t.Run("lists every document problem", func(t *testing.T) {
		rec := do(setupTestServer(t, &mockRunner{}), http.MethodPost, "/api/v1/validate", "", "mode: sideways\n")

		require.Equal(t, http.StatusOK, rec.Code)
		var resp ValidateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Valid)
		assert.GreaterOrEqual(t, len(resp.Errors), 2)
	})

	t.Run("reports graph problems", func(t *testing.T) {
		runner := &mockRunner{}
		runner.On("Build", mock.Anything).Return(nil, &trajectory.GraphError{Problems: []string{"unknown step \"x\""}})

		rec := do(setupTestServer(t, runner), http.MethodPost, "/api/v1/validate", "", refundDoc)

		var resp ValidateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Valid)
		require.Len(t, resp.Errors, 1)
		assert.Contains(t, resp.Errors[0], "unknown step")
	})
}

func TestServer_RunsWithRegistry(t *testing.T) {
	user := llm.NewFakeModel()
	user.Respond = func([]llms.MessageContent) (string, error) {
		return "My order is 42 and I want a refund", nil
	}
	reg := services.NewRegistry(services.Options{
		Logger:   logging.NewTestLogger().Logger,
		Resolver: definition.Resolver{Model: user},
		LLM:      llm.Options{RequestsPerMinute: -1},
		DefaultTarget: &target.Spec{
			Kind: target.KindFunc,
			Func: func(_ context.Context, history []conversation.Message) (*target.Response, error) {
				return &target.Response{Messages: []conversation.Message{conversation.Assistant("ok")}}, nil
			},
		},
	})

	rec := do(setupTestServer(t, reg), http.MethodPost, "/api/v1/runs", "", refundDoc)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res trajectory.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Completed)
	assert.Len(t, res.Steps, 2)
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		contentType string
		want        definition.Format
		wantErr     bool
	}{
		{"", definition.FormatYAML, false},
		{"application/x-yaml", definition.FormatYAML, false},
		{"application/json; charset=utf-8", definition.FormatJSON, false},
		{"application/toml", definition.FormatTOML, false},
		{"image/png", "", true},
		{";;", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, err := formatOf(tt.contentType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestIDReachesRunContext(t *testing.T) {
	runner := &mockRunner{}
	var gotID string
	runner.On("RunDocument", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			gotID = logging.RequestIDFromContext(args.Get(0).(context.Context))
		}).
		Return(&trajectory.Result{Reason: trajectory.StopMaxTurns}, nil)
	s := setupTestServer(t, runner)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(refundDoc))
	req.Header.Set(echo.HeaderXRequestID, "client-req-1")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "client-req-1", gotID)

	// Ids the logger would reject are not propagated.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(refundDoc))
	req.Header.Set(echo.HeaderXRequestID, "bad id/with spaces")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gotID)
}

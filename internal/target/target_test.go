package target

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/llm"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

func TestHTTP_Respond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer t0k", r.Header.Get("Authorization"))

		var payload struct {
			Messages []conversation.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Messages, 1)
		assert.Equal(t, "hello", payload.Messages[0].Text())

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"role":"assistant","content":[{"type":"tool-call","id":"c1","name":"lookup","args":{}}]},{"role":"assistant","content":"done"}]}`))
	}))
	defer srv.Close()

	agent, err := NewHTTP(HTTPConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t0k"}})
	require.NoError(t, err)

	resp, err := agent.Respond(context.Background(), []conversation.Message{conversation.User("hello")})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 2)
	assert.Len(t, resp.Messages[0].ToolCalls(), 1)
	assert.Equal(t, "done", resp.Messages[1].Text())
}

func TestHTTP_RecordsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text answer"))
	}))
	defer srv.Close()

	agent, err := NewHTTP(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	resp, err := agent.Respond(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, conversation.RoleAssistant, resp.Messages[0].Role)
	assert.Equal(t, "plain text answer", resp.Messages[0].Text())
}

func TestHTTP_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	agent, err := NewHTTP(HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = agent.Respond(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewHTTP_RequiresURL(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{})
	assert.Error(t, err)
}

func TestLLM_Respond(t *testing.T) {
	fake := llm.NewFakeModel("Your order shipped.")
	agent := NewLLM(llm.New(fake, llm.Options{RequestsPerMinute: -1}), "You are a support bot.")

	resp, err := agent.Respond(context.Background(), []conversation.Message{conversation.User("where is it")})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "Your order shipped.", resp.Messages[0].Text())
	assert.Contains(t, llm.PromptText(fake.Calls()[0]), "You are a support bot.")
}

func TestBuild(t *testing.T) {
	fn := Func(func(ctx context.Context, history []conversation.Message) (*Response, error) {
		return &Response{Messages: []conversation.Message{conversation.Assistant("ok")}}, nil
	})

	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{name: "func", spec: Spec{Kind: KindFunc, Func: fn}},
		{name: "func missing", spec: Spec{Kind: KindFunc}, wantErr: true},
		{name: "http", spec: Spec{Kind: KindHTTP, URL: "http://localhost:1"}},
		{name: "http missing url", spec: Spec{Kind: KindHTTP}, wantErr: true},
		{name: "llm", spec: Spec{Kind: KindLLM, Model: trajectory.ModelConfig{Provider: "ollama", Model: "llama3"}}},
		{name: "llm bad provider", spec: Spec{Kind: KindLLM, Model: trajectory.ModelConfig{Provider: "x"}}, wantErr: true},
		{name: "unknown", spec: Spec{Kind: "grpc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent, err := Build(tt.spec, llm.Options{}, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSpec)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, agent)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "ok", truncate("ok", 200))
	assert.Equal(t, "ab...", truncate("abécd", 3))
	assert.Equal(t, "日...", truncate("日本語", 4))
}

package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "strict", cfg.Run.Mode)
	assert.Equal(t, 30, cfg.Run.MaxTurns)
	assert.Equal(t, 2, cfg.Run.WindowTurns)
	assert.Equal(t, LoopDetectionConfig{MaxConsecutiveSameStep: 3, MaxCycleLength: 3, MaxCycleRepetitions: 2}, cfg.Run.LoopDetection)
	require.NotNil(t, cfg.Run.Selector.ScoreThreshold)
	require.NotNil(t, cfg.Run.Selector.Margin)
	assert.InDelta(t, 0.5, *cfg.Run.Selector.ScoreThreshold, 1e-9)
	assert.InDelta(t, 0.1, *cfg.Run.Selector.Margin, 1e-9)
	assert.Equal(t, "sequential", cfg.Run.Selector.Fallback)
	assert.Equal(t, "file", cfg.Store.Kind)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, 10*time.Minute, cfg.Server.RunTimeout.Duration())
	assert.Equal(t, "convsim-runs", cfg.Temporal.TaskQueue)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "nope"
	cfg.Run.MaxTurns = -1
	cfg.Store.Kind = "file"
	cfg.Store.Dir = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
	assert.Contains(t, err.Error(), "run.max_turns")
	assert.Contains(t, err.Error(), "store.dir")
}

func TestConfig_Validate_SelectorRanges(t *testing.T) {
	cfg := Default()
	zero, over := 0.0, 1.5
	cfg.Run.Selector.Margin = &zero
	require.NoError(t, cfg.Validate())

	cfg.Run.Selector.Margin = &over
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run.selector.margin")
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	var back Secret
	require.NoError(t, json.Unmarshal([]byte(`"[REDACTED]"`), &back))
	assert.False(t, back.IsSet())
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, json.Unmarshal([]byte(`2500`), &d))
	assert.Equal(t, 2500*time.Millisecond, d.Duration())

	assert.Error(t, json.Unmarshal([]byte(`"-5s"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`-5`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

package logging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newRedacting(t *testing.T) *RedactingEncoder {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)
	return enc
}

func encode(t *testing.T, enc zapcore.Encoder, msg string, fields ...zap.Field) map[string]interface{} {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Level: zapcore.InfoLevel, Message: msg}, fields)
	require.NoError(t, err)
	defer buf.Free()

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestRedactingEncoder_Keys(t *testing.T) {
	out := encode(t, newRedacting(t), "calling agent",
		zap.String("api_key", "abc"),
		zap.String("Authorization", "Basic Zm9vOmJhcg=="),
		zap.Int("token", 42),
		zap.String("step_id", "order"),
	)
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "[REDACTED]", out["Authorization"])
	assert.Equal(t, "[REDACTED]", out["token"])
	assert.Equal(t, "order", out["step_id"])
}

func TestRedactingEncoder_Patterns(t *testing.T) {
	out := encode(t, newRedacting(t), "sent Bearer abc.def to agent",
		zap.String("user_message", "my key is sk-abcdefghijklmnopqrstuvwx ok"),
	)
	assert.Equal(t, "sent [REDACTED] to agent", out["msg"])
	assert.Equal(t, "my key is [REDACTED] ok", out["user_message"])
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc := newRedacting(t).Clone()
	enc.AddString("password", "hunter2")
	enc.AddString("note", "Bearer xyz")
	require.NoError(t, enc.AddReflected("secret", map[string]string{"a": "b"}))

	out := encode(t, enc, "child")
	assert.Equal(t, "[REDACTED]", out["password"])
	assert.Equal(t, "[REDACTED]", out["note"])
	assert.Equal(t, "[REDACTED]", out["secret"])
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Patterns: []string{"[bad"}})
	require.NoError(t, err)

	out := encode(t, enc, "plain", zap.String("api_key", "abc"))
	assert.Equal(t, "abc", out["api_key"])
}

func TestNewRedactingEncoder_Errors(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"[bad"}})
	assert.ErrorContains(t, err, "redaction pattern")

	long := make([]byte, maxPatternLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{string(long)}})
	assert.ErrorContains(t, err, "longer than")
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("api_key", "sk-1234567890abcdef")
	assert.Equal(t, "[REDACTED:19]", f.String)
}

func TestHeaders(t *testing.T) {
	enc := zapcore.NewMapObjectEncoder()
	Headers("headers", map[string]string{
		"Authorization":   "Bearer abc",
		"X-Api-Key":       "k",
		"X-Session-Token": "t",
		"Content-Type":    "application/json",
	}).AddTo(enc)

	h, ok := enc.Fields["headers"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", h["Authorization"])
	assert.Equal(t, "[REDACTED]", h["X-Api-Key"])
	assert.Equal(t, "[REDACTED]", h["X-Session-Token"])
	assert.Equal(t, "application/json", h["Content-Type"])
}

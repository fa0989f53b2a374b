package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.NoError(t, logger.Sync())
}

func TestNewLogger_Invalid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "invalid logging config")
}

func TestNewLogger_OTELWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Console, cfg.OTEL = false, true
	_, err := NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "no log output")
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "run-1")

	tl.Trace(ctx, "prompt", zap.String("text", "hello"))
	tl.Debug(ctx, "turn recorded")
	tl.Info(ctx, "run finished")
	tl.Warn(ctx, "store unavailable")
	tl.Error(ctx, "agent failed")

	entries := tl.All()
	require.Len(t, entries, 5)
	assert.Equal(t, TraceLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[4].Level)
	for _, e := range entries {
		assert.Equal(t, "run-1", e.ContextMap()["run.id"], e.Message)
	}
	tl.AssertField(t, "prompt", "text", "hello")
	tl.AssertLogged(t, zapcore.WarnLevel, "store")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "store")

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestLogger_WithAndNamed(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core)}

	child := logger.With(zap.String("trajectory", "refund")).Named("orchestrator")
	child.Info(context.Background(), "started")
	logger.Info(context.Background(), "parent")

	entries := observed.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "orchestrator", entries[0].LoggerName)
	assert.Equal(t, "refund", entries[0].ContextMap()["trajectory"])
	assert.NotContains(t, entries[1].ContextMap(), "trajectory")
}

func TestLogger_DisabledLevelSkipsContext(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	logger := &Logger{zap: zap.New(core)}

	logger.Debug(WithTurn(context.Background(), 1), "hidden")
	assert.Zero(t, observed.Len())
}

func TestNewCore_Sampling(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling = SamplingConfig{Enabled: true, Tick: cfg.Sampling.Tick, Initial: 2, Thereafter: 0}

	core, err := newCore(cfg, nil)
	require.NoError(t, err)

	info := zapcore.Entry{Level: zapcore.InfoLevel, Message: "same"}
	checked := 0
	for i := 0; i < 5; i++ {
		if core.Check(info, nil) != nil {
			checked++
		}
	}
	assert.Equal(t, 2, checked, "info entries beyond the initial budget are dropped")

	errEntry := zapcore.Entry{Level: zapcore.ErrorLevel, Message: "same"}
	for i := 0; i < 5; i++ {
		assert.NotNil(t, core.Check(errEntry, nil), "errors are never sampled")
	}
}

func TestLevelRange(t *testing.T) {
	core, _ := observer.New(TraceLevel)
	r := levelRange{Core: core, min: zapcore.DebugLevel, max: zapcore.WarnLevel}

	assert.False(t, r.Enabled(TraceLevel))
	assert.True(t, r.Enabled(zapcore.InfoLevel))
	assert.False(t, r.Enabled(zapcore.ErrorLevel))
	assert.IsType(t, levelRange{}, r.With([]zapcore.Field{zap.String("k", "v")}))
}

package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// fieldMap encodes fields the way a real encoder would see them.
func fieldMap(fields []zap.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_Span(t *testing.T) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(tracetest.NewInMemoryExporter()),
	)
	ctx, span := tp.Tracer("test").Start(context.Background(), "turn")
	defer span.End()

	got := fieldMap(ContextFields(ctx))
	assert.Equal(t, span.SpanContext().TraceID().String(), got["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), got["span_id"])
	assert.Equal(t, true, got["trace_sampled"])
}

func TestContextFields_Run(t *testing.T) {
	ctx := WithTrajectoryID(context.Background(), "refund-flow")
	ctx = WithRunID(ctx, "run_2")
	ctx = WithTurn(ctx, 4)
	ctx = WithRequestID(ctx, "req-9")

	got := fieldMap(ContextFields(ctx))
	assert.Equal(t, map[string]interface{}{
		"trajectory.id": "refund-flow",
		"run.id":        "run_2",
		"turn.index":    int64(4),
		"request.id":    "req-9",
	}, got)
}

func TestTurnFromContext(t *testing.T) {
	_, ok := TurnFromContext(context.Background())
	assert.False(t, ok)

	turn, ok := TurnFromContext(WithTurn(context.Background(), 0))
	assert.True(t, ok)
	assert.Zero(t, turn)
}

func TestWithID_Panics(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"spaces", "has space"},
		{"slash", "a/b"},
		{"too_long", strings.Repeat("a", maxIDLen+1)},
		{"invalid_utf8", "\xff\xfe"},
	}
	setters := map[string]func(context.Context, string) context.Context{
		"trajectory": WithTrajectoryID,
		"run":        WithRunID,
		"request":    WithRequestID,
	}
	for setter, fn := range setters {
		for _, tt := range tests {
			t.Run(setter+"/"+tt.name, func(t *testing.T) {
				assert.Panics(t, func() { fn(context.Background(), tt.id) })
			})
		}
	}
}

func TestWithID_MaxLength(t *testing.T) {
	id := strings.Repeat("a", maxIDLen)
	assert.Equal(t, id, RunIDFromContext(WithRunID(context.Background(), id)))
}

func TestFromContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))

	fallback := FromContext(context.Background())
	require.NotNil(t, fallback)
	fallback.Info(ctx, "discarded")
	assert.Empty(t, tl.All())
}

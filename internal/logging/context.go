package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id := TrajectoryIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("trajectory.id", id))
	}

	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}

	if turn, ok := TurnFromContext(ctx); ok {
		fields = append(fields, zap.Int("turn.index", turn))
	}

	// Request ID
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// Context key types
type trajectoryCtxKey struct{}
type runCtxKey struct{}
type turnCtxKey struct{}
type requestCtxKey struct{}

// maxIDLen bounds correlation ids.
const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateID validates a correlation ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// ValidID reports whether id is accepted by the With*ID setters.
func ValidID(id string) bool {
	return validateID(id, "id") == nil
}

// TrajectoryIDFromContext extracts the trajectory ID from context.
func TrajectoryIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(trajectoryCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithTrajectoryID adds the trajectory ID to context.
// Panics if id is empty or contains invalid characters.
func WithTrajectoryID(ctx context.Context, id string) context.Context {
	if err := validateID(id, "trajectoryID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, trajectoryCtxKey{}, id)
}

// RunIDFromContext extracts the run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRunID adds the run ID to context.
// Panics if id is empty or contains invalid characters.
func WithRunID(ctx context.Context, id string) context.Context {
	if err := validateID(id, "runID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, runCtxKey{}, id)
}

// TurnFromContext extracts the turn index from context.
func TurnFromContext(ctx context.Context) (int, bool) {
	turn, ok := ctx.Value(turnCtxKey{}).(int)
	return turn, ok
}

// WithTurn adds the turn index to context.
func WithTurn(ctx context.Context, turn int) context.Context {
	return context.WithValue(ctx, turnCtxKey{}, turn)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}

// Package logging wraps zap with context correlation for trajectory runs.
//
// Every entry picks up trace_id and span_id from the active span, plus
// trajectory.id, run.id, turn.index and request.id when the context carries
// them:
//
//	ctx = logging.WithTrajectoryID(ctx, "refund-flow")
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithTurn(ctx, 3)
//	logger.Info(ctx, "turn recorded", zap.String("step_id", "order"))
//
// The console core writes to stderr so stdout stays free for command output.
// When telemetry is enabled the otelzap bridge forwards entries to the OTLP
// log pipeline as well.
//
// Console output is redacted by key (api_key, authorization, ...) and by
// value pattern (bearer tokens, provider keys). Use RedactedString and
// Headers for values that must never be written in full.
//
// Debug through Warn are sampled at Info and above; errors never are.
// Selecting debug or trace disables sampling so every turn is logged.
package logging

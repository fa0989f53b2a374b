// Package telemetry starts the OpenTelemetry pipelines for convsim.
//
// Traces, metrics and logs are exported over OTLP (gRPC or HTTP) to a
// collector. Every trajectory run is a "trajectory.run" span with one
// "trajectory.turn" child per turn; the zap bridge in package logging sends
// entries through the log pipeline so they carry the same trace ids.
//
// Telemetry is off by default:
//
//	telemetry:
//	  enabled: true
//	  endpoint: localhost:4317
//	  protocol: grpc   # or http/protobuf
//	  sample_rate: 0.25
//
// Pipelines that fail to start are skipped and reported by Err. Tests use
// NewTestTelemetry to record spans and metrics in memory.
package telemetry

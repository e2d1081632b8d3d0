// Package observe provides the logging, tracing and metrics used across
// catalogops.
//
// Logs are structured JSON written through zap. Spans and metrics go through
// OpenTelemetry; exporters are chosen by name (see package exporters).
// Every catalog operation is wrapped by Middleware, which opens a span named
// catalogops.op.<namespace>.<name>, records the catalogops.op.* instruments
// and writes one log line per execution.
package observe

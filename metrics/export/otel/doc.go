// Package otel publishes Coordinator counters and retry statistics as OpenTelemetry
// observable instruments. A single callback reads one snapshot per collection cycle;
// the caller owns the MeterProvider.
package otel

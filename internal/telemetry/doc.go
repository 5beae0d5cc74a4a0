// Package telemetry initializes the OpenTelemetry trace pipeline.
// Metrics are served by internal/metrics over Prometheus.
package telemetry

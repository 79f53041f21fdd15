// Package observability provides structured logging, Prometheus metrics
// and HTTP instrumentation for the command bridge.
//
// Metrics are package-level collectors registered with the default
// registry at init time and exposed on /metrics by the router.
package observability

// Package observability provides the Prometheus metrics and the
// request-scoped logging helpers shared by the audit pipeline.
package observability

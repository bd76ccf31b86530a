// Package metrics records cache lookups, downloads, joined waiters and
// prefetch batches as OpenTelemetry instruments and exposes them through a
// Prometheus scrape handler.
//
// Contract:
// - Concurrency: Recorder is safe for concurrent use.
// - Errors: recording never fails; instrument creation errors surface from New.
package metrics

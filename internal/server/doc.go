// Package server hosts the Fiber HTTP service for imgcache: the request-ID and
// access-log middleware chain, the /image endpoint that serves cached bytes
// (fetching on a miss), and the /-/cache, /-/prefetch and /-/clear admin
// endpoints. Diagnostics (/-/status, /-/metrics) live in the routes subpackage
// so callers can opt into them. Dependencies are injected through AppOptions.
package server

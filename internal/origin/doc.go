// Package origin maps image hosts to their cache options. Each configured
// [[Origin]] table becomes a Route carrying the cache group, query-key policy
// and a header resolver (static headers, basic auth or a short-lived HS256
// bearer token); hosts without a table fall back to the global defaults.
package origin

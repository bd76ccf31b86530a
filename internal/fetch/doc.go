// Package fetch implements cache.Transport over net/http. Responses are
// streamed into a temporary file next to the destination and renamed into
// place only after the body has been fully written, so readers never observe
// a half-written image under its final name.
package fetch

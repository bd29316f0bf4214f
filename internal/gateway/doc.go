// Package gateway wraps every call to the metadata provider behind a shared
// throttle, retry, and circuit breaker policy.
//
// A Gateway owns a golang.org/x/time/rate token bucket sized to the
// provider's published budget, so concurrent callers block on token
// availability rather than failing. Timeouts, 5xx, and 429 responses are
// retried with jittered exponential backoff (cenkalti/backoff) up to a bounded
// attempt count and then surface as *TransientFailure. Other 4xx responses and
// malformed bodies surface immediately as *PermanentFailure. A gobreaker
// circuit trips after a run of consecutive transient failures; during its
// cooldown callers receive *CircuitOpen without network I/O.
//
// The gateway knows nothing about movies. Typed decoding lives in package tmdb.
package gateway

// Package tmdb exposes the provider operations the sync engine consumes (movie
// details with credits, discover by year, title search, search by id, and the
// changelog) as typed calls over the rate-limited gateway.
//
// Payloads are validated at this boundary: the envelope is probed with gjson,
// then decoded and checked with go-playground/validator. Anything that fails
// becomes a gateway.PermanentFailure so untyped data never reaches selection,
// review, or merge.
package tmdb

// Command cinesync keeps a local movie catalog in sync with TMDB.
//
// Ingestion modes (init, missing, changes, update, search) fetch provider
// records into review batches; the review subcommands record decisions; load
// commits approved records and advances the mode cursor. serve exposes the
// review workflow and Prometheus metrics over HTTP.
package main

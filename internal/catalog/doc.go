// Package catalog is the relational store behind cinesync: movies, genres,
// people, credits and the per-mode sync cursors.
//
// SQLite (modernc.org/sqlite) is the default backend and PostgreSQL
// (lib/pq) is supported through the same sqlx handle; statements are built
// with go-sqlbuilder using the flavor of the configured driver. Writers
// receive a Tx so one enrichment record commits atomically.
package catalog

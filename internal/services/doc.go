// Package services defines shared utilities consumed by the sync workflows and
// the provider integration.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, ingestion modes, batch IDs, and movie
//     IDs for logging.
//   - Structured error markers plus the Wrap helper that separate failures
//     which abort a workflow from failures scoped to a single record.
package services

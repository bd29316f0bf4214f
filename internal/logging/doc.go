// Package logging assembles structured zap loggers and field helpers used
// across cinesync.
//
// It owns the console/JSON encoder setup, centralizes level and output
// plumbing, and exposes context-aware helpers so workflow code can tag log
// lines with run IDs, ingestion modes, batch IDs, and movie IDs without
// threading them through every call.
package logging

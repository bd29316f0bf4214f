// Package workflow drives the ingestion modes end to end.
//
// The Manager selects candidates, fetches their details on a bounded worker
// pool, stores them as a review batch, and later loads approved records
// through the merge engine. Each mode owns one sync cursor; the cursor moves
// only after every approved record of a complete batch has committed, and a
// per-mode lock file keeps a second process from writing it concurrently.
//
// Every operation returns a Summary, including operations that fail part way,
// so callers can always report what was selected, fetched, committed, and
// left behind.
package workflow

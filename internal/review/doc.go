// Package review persists fetched candidates as named batches awaiting a
// human decision.
//
// A batch moves FETCHED -> UNDER_REVIEW on creation, -> LOADED once the
// approved records have been attempted, and -> ARCHIVED after a complete load.
// Records leave pending exactly once; changing a decision afterwards needs an
// explicit override. Every batch is mirrored as a YAML document under the
// review directory (raw/ while open, processed/ once archived) so any editor
// can serve as the review front-end; Import feeds edited documents back.
//
// When you change the tables, update schema.sql and bump schemaVersion.
package review

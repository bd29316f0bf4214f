package review

import "errors"

var (
	// ErrAlreadyDecided is returned when a decided record would change
	// decision without an explicit override.
	ErrAlreadyDecided = errors.New("record already decided")
	// ErrBatchClosed is returned when a batch is no longer under review.
	ErrBatchClosed     = errors.New("batch is not under review")
	ErrBatchNotFound   = errors.New("batch not found")
	ErrRecordNotFound  = errors.New("record not found in batch")
	ErrInvalidDecision = errors.New("invalid decision")
	ErrInvalidMode     = errors.New("invalid batch mode")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("review schema version mismatch")
)

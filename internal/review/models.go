package review

import (
	"time"

	"cinesync/internal/tmdb"
)

// Mode identifies the ingestion mode that produced a batch.
type Mode string

const (
	ModeInit    Mode = "init"
	ModeMissing Mode = "missing"
	ModeChanges Mode = "changes"
	ModeSearch  Mode = "search"
)

var modeSet = map[Mode]struct{}{
	ModeInit:    {},
	ModeMissing: {},
	ModeChanges: {},
	ModeSearch:  {},
}

// Status is the lifecycle state of a batch.
type Status string

const (
	StatusFetched     Status = "FETCHED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusLoaded      Status = "LOADED"
	StatusArchived    Status = "ARCHIVED"
)

// Decision is the per-record approval state.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionSkipped  Decision = "skipped"
)

// ParseDecision maps user input to a Decision.
func ParseDecision(value string) (Decision, error) {
	switch Decision(value) {
	case DecisionPending, DecisionApproved, DecisionRejected, DecisionSkipped:
		return Decision(value), nil
	case "approve":
		return DecisionApproved, nil
	case "reject":
		return DecisionRejected, nil
	case "skip":
		return DecisionSkipped, nil
	}
	return "", ErrInvalidDecision
}

// CommitStatus is the load outcome recorded against one record.
type CommitStatus string

const (
	CommitNone      CommitStatus = ""
	CommitCommitted CommitStatus = "committed"
	CommitUnchanged CommitStatus = "unchanged"
	CommitFailed    CommitStatus = "failed"
)

// Done reports whether the record needs no further load attempts.
func (c CommitStatus) Done() bool {
	return c == CommitCommitted || c == CommitUnchanged
}

// FetchFailure records a selected candidate that never made it into the batch.
type FetchFailure struct {
	MovieID int64  `json:"movie_id" yaml:"movie_id"`
	Kind    string `json:"kind" yaml:"kind"`
	Error   string `json:"error" yaml:"error"`
}

// Batch is a named set of fetched candidates moving through review together.
type Batch struct {
	ID            string
	Mode          Mode
	CursorStart   string
	CursorEnd     string
	Status        Status
	Incomplete    bool
	RecordCount   int
	FetchFailures []FetchFailure
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LoadedAt      *time.Time
	ArchivedAt    *time.Time
}

// Decidable reports whether records in the batch may still change decision.
func (b *Batch) Decidable() bool {
	return b != nil && b.Status == StatusUnderReview
}

// Record is one candidate snapshot plus its review and load state.
type Record struct {
	BatchID      string
	Position     int
	MovieID      int64
	Movie        tmdb.Movie
	Decision     Decision
	ReviewedAt   *time.Time
	CommitStatus CommitStatus
	CommitError  string
}

// NewBatch describes a batch to persist.
type NewBatch struct {
	Mode        Mode
	CursorStart string
	CursorEnd   string
	Movies      []tmdb.Movie
	Failures    []FetchFailure
	Incomplete  bool
}

// DecisionCounts tallies records per decision.
type DecisionCounts struct {
	Pending  int
	Approved int
	Rejected int
	Skipped  int
}

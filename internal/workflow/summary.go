package workflow

import (
	"context"
	"time"

	"cinesync/internal/merge"
	"cinesync/internal/review"
	"cinesync/internal/selector"
)

// Failure stages.
const (
	StageFetch  = "fetch"
	StageCommit = "commit"
)

// Failure describes one candidate that did not make it into the catalog.
type Failure struct {
	MovieID int64  `json:"movie_id"`
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

// Summary reports the outcome of one workflow operation.
type Summary struct {
	RunID       string        `json:"run_id"`
	Mode        string        `json:"mode"`
	BatchID     string        `json:"batch_id,omitempty"`
	BatchStatus review.Status `json:"batch_status,omitempty"`

	Selected  int `json:"selected"`
	Fetched   int `json:"fetched"`
	Filtered  int `json:"filtered"`
	Approved  int `json:"approved"`
	Committed int `json:"committed"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`

	Failures []Failure `json:"failures,omitempty"`

	CursorBefore   string `json:"cursor_before,omitempty"`
	CursorAfter    string `json:"cursor_after,omitempty"`
	CursorAdvanced bool   `json:"cursor_advanced"`

	Incomplete    bool `json:"incomplete"`
	CircuitOpened bool `json:"circuit_opened"`
	// Truncated counts provider listings cut short by sync.max_pages.
	Truncated int `json:"truncated,omitempty"`

	// ResumeFrom is the earliest init checkpoint left unfetched by an
	// incomplete init run.
	ResumeFrom *selector.Checkpoint `json:"resume_from,omitempty"`

	Duration time.Duration `json:"duration"`
}

func (s *Summary) addFailure(f Failure) {
	s.Failures = append(s.Failures, f)
	s.Failed++
}

// Status names the overall result for metrics.
func (s *Summary) Status() string {
	switch {
	case s.Incomplete || s.CircuitOpened:
		return "incomplete"
	case s.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

// Reviewer decides one pending record during FetchReviewLoad. Returning
// DecisionPending leaves the record undecided.
type Reviewer func(ctx context.Context, record *review.Record) (review.Decision, error)

// ApproveEverything is a Reviewer that approves every record.
func ApproveEverything(context.Context, *review.Record) (review.Decision, error) {
	return review.DecisionApproved, nil
}

func (s *Summary) tally(movieID int64, result merge.CommitResult, err error) {
	if err != nil {
		s.addFailure(Failure{MovieID: movieID, Stage: StageCommit, Kind: "commit", Error: err.Error()})
		return
	}
	if result.Outcome == merge.OutcomeUnchanged {
		s.Unchanged++
		return
	}
	s.Committed++
}

package workflow_test

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinesync/internal/catalog"
	"cinesync/internal/config"
	"cinesync/internal/review"
	"cinesync/internal/selector"
	"cinesync/internal/services"
	"cinesync/internal/testsupport"
	"cinesync/internal/workflow"
)

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type harness struct {
	cfg     *config.Config
	fake    *testsupport.FakeTMDB
	catalog *catalog.Store
	reviews *review.Store
	manager *workflow.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	fake := testsupport.NewFakeTMDB(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithTMDBBaseURL(fake.URL())}, opts...)...)
	client, _ := testsupport.NewClient(t, cfg)
	cat := testsupport.MustOpenCatalog(t, cfg)
	rev := testsupport.MustOpenReview(t, cfg)

	mgr, err := workflow.NewManager(cfg, workflow.Deps{
		Catalog:  cat,
		Reviews:  rev,
		Provider: client,
	}, workflow.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return &harness{cfg: cfg, fake: fake, catalog: cat, reviews: rev, manager: mgr}
}

func (h *harness) cursor(t *testing.T, mode string) string {
	t.Helper()
	cur, ok, err := h.catalog.Cursor(context.Background(), mode)
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return cur.Position
}

func (h *harness) exec(t *testing.T, stmt string) {
	t.Helper()
	_, err := h.catalog.DB().Exec(stmt)
	require.NoError(t, err)
}

func seed1999(h *harness) {
	h.fake.AddMovies(
		testsupport.Movie(10, "Early", "1999-01-10"),
		testsupport.Movie(11, "Middle", "1999-05-05"),
		testsupport.Movie(12, "Gone", "1999-09-09"),
	)
	h.fake.SetStatus(12, 404)
}

func TestInitBackfillsYearAndAdvancesCursor(t *testing.T) {
	h := newHarness(t)
	seed1999(h)

	summary, err := h.manager.Init(context.Background(), workflow.InitOptions{StartYear: 1999, EndYear: 1999})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Selected)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 2, summary.Approved)
	assert.Equal(t, 2, summary.Committed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, int64(12), summary.Failures[0].MovieID)
	assert.Equal(t, workflow.StageFetch, summary.Failures[0].Stage)
	assert.Equal(t, "permanent", summary.Failures[0].Kind)
	assert.False(t, summary.Incomplete)
	assert.True(t, summary.CursorAdvanced)
	assert.Equal(t, "1999-12-31", summary.CursorAfter)
	assert.Equal(t, review.StatusArchived, summary.BatchStatus)
	assert.NotEmpty(t, summary.RunID)

	assert.Equal(t, "1999-12-31", h.cursor(t, "init"))
	counts, err := h.catalog.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Movies)
	assert.Equal(t, 4, counts.Credits)

	batch, err := h.reviews.Get(context.Background(), summary.BatchID)
	require.NoError(t, err)
	require.Len(t, batch.FetchFailures, 1)
	assert.Equal(t, int64(12), batch.FetchFailures[0].MovieID)
}

func TestInitRerunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	seed1999(h)
	ctx := context.Background()

	_, err := h.manager.Init(ctx, workflow.InitOptions{StartYear: 1999, EndYear: 1999})
	require.NoError(t, err)
	before, err := h.catalog.Counts(ctx)
	require.NoError(t, err)

	summary, err := h.manager.Init(ctx, workflow.InitOptions{StartYear: 1999, EndYear: 1999})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Committed)
	assert.Equal(t, 2, summary.Unchanged)
	assert.False(t, summary.CursorAdvanced)
	assert.Equal(t, "1999-12-31", summary.CursorBefore)

	after, err := h.catalog.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInitReviewLeavesBatchOpen(t *testing.T) {
	h := newHarness(t)
	seed1999(h)

	summary, err := h.manager.Init(context.Background(), workflow.InitOptions{StartYear: 1999, EndYear: 1999, Review: true})
	require.NoError(t, err)
	assert.Equal(t, review.StatusUnderReview, summary.BatchStatus)
	assert.Equal(t, 0, summary.Committed)
	assert.Empty(t, h.cursor(t, "init"))
}

func TestMissingAfterDateExcludesAdultAndKnown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	adult := testsupport.Movie(5, "Adult", "2023-04-01")
	adult.Adult = true
	h.fake.AddMovies(
		testsupport.Movie(1, "Old", "2022-12-01"),
		testsupport.Movie(2, "Boundary", "2023-01-01"),
		testsupport.Movie(3, "Fresh", "2023-02-01"),
		testsupport.Movie(4, "Stored", "2023-03-01"),
		adult,
		testsupport.Movie(6, "Later", "2024-01-15"),
	)
	_, err := h.manager.Update(ctx, 4)
	require.NoError(t, err)

	summary, err := h.manager.Missing(ctx, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Selected)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, review.StatusUnderReview, summary.BatchStatus)

	records, err := h.reviews.Records(ctx, summary.BatchID)
	require.NoError(t, err)
	var ids []int64
	for _, rec := range records {
		ids = append(ids, rec.MovieID)
		assert.Equal(t, review.DecisionPending, rec.Decision)
	}
	assert.ElementsMatch(t, []int64{3, 6}, ids)

	batch, err := h.reviews.Get(ctx, summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "2023-01-01", batch.CursorStart)
	assert.Equal(t, "2024-01-15", batch.CursorEnd)
}

func TestLoadCommitsOnlyApprovedRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.AddMovies(
		testsupport.Movie(21, "Approved", "2024-02-01"),
		testsupport.Movie(22, "Rejected", "2024-03-01"),
		testsupport.Movie(23, "Skipped", "2024-04-01"),
	)

	fetched, err := h.manager.Missing(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, h.manager.Decide(ctx, fetched.BatchID, 21, review.DecisionApproved, false))
	require.NoError(t, h.manager.Decide(ctx, fetched.BatchID, 22, review.DecisionRejected, false))
	require.NoError(t, h.manager.Decide(ctx, fetched.BatchID, 23, review.DecisionSkipped, false))

	summary, err := h.manager.Load(ctx, fetched.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "missing", summary.Mode)
	assert.Equal(t, 1, summary.Approved)
	assert.Equal(t, 1, summary.Committed)
	assert.Equal(t, review.StatusArchived, summary.BatchStatus)

	for id, want := range map[int64]bool{21: true, 22: false, 23: false} {
		movie, err := h.catalog.Movie(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, movie != nil, "movie %d stored", id)
	}
	assert.Equal(t, "2024-04-01", h.cursor(t, "missing"))

	err = h.manager.Decide(ctx, fetched.BatchID, 22, review.DecisionApproved, true)
	assert.ErrorIs(t, err, review.ErrBatchClosed)
}

func TestLoadPendingRecordsNeverCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.AddMovies(testsupport.Movie(31, "Undecided", "2024-02-01"))

	fetched, err := h.manager.Missing(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	summary, err := h.manager.Load(ctx, fetched.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Approved)
	assert.Equal(t, 0, summary.Committed)
	movie, err := h.catalog.Movie(ctx, 31)
	require.NoError(t, err)
	assert.Nil(t, movie)
}

func TestLoadIsolatesFailedRecordAndRetriesIt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.AddMovies(
		testsupport.Movie(41, "Fine", "2024-02-01"),
		testsupport.Movie(42, "Broken", "2024-03-01"),
	)
	h.exec(t, `CREATE TRIGGER reject_42 BEFORE INSERT ON movies WHEN NEW.id = 42
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)

	fetched, err := h.manager.Missing(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = h.manager.ApproveAll(ctx, fetched.BatchID)
	require.NoError(t, err)

	first, err := h.manager.Load(ctx, fetched.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Committed)
	assert.Equal(t, 1, first.Failed)
	require.Len(t, first.Failures, 1)
	assert.Equal(t, int64(42), first.Failures[0].MovieID)
	assert.Equal(t, workflow.StageCommit, first.Failures[0].Stage)
	assert.Equal(t, review.StatusLoaded, first.BatchStatus)
	assert.False(t, first.CursorAdvanced)
	assert.Empty(t, h.cursor(t, "missing"))

	rec, err := h.reviews.Record(ctx, fetched.BatchID, 42)
	require.NoError(t, err)
	assert.Equal(t, review.CommitFailed, rec.CommitStatus)
	assert.Contains(t, rec.CommitError, "injected failure")

	credits, err := h.catalog.Credits(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, credits)
	stored, err := h.catalog.Movie(ctx, 41)
	require.NoError(t, err)
	require.NotNil(t, stored)

	h.exec(t, `DROP TRIGGER reject_42`)
	second, err := h.manager.Load(ctx, fetched.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Committed, "only the failed record is retried")
	assert.Equal(t, 0, second.Unchanged)
	assert.Equal(t, review.StatusArchived, second.BatchStatus)
	assert.True(t, second.CursorAdvanced)
	assert.Equal(t, "2024-03-01", h.cursor(t, "missing"))
}

func TestCursorHeldWhenAdvanceFailsAfterCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seed1999(h)
	h.exec(t, `CREATE TRIGGER block_cursor BEFORE INSERT ON sync_cursors
		BEGIN SELECT RAISE(ABORT, 'cursor write failed'); END`)

	summary, err := h.manager.Init(ctx, workflow.InitOptions{StartYear: 1999, EndYear: 1999})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrStorage)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Committed)
	assert.False(t, summary.CursorAdvanced)
	assert.Empty(t, h.cursor(t, "init"))

	batch, err := h.reviews.Get(ctx, summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusLoaded, batch.Status)

	h.exec(t, `DROP TRIGGER block_cursor`)
	resumed, err := h.manager.Load(ctx, summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 0, resumed.Committed)
	assert.Equal(t, 2, resumed.Approved)
	assert.True(t, resumed.CursorAdvanced)
	assert.Equal(t, review.StatusArchived, resumed.BatchStatus)
	assert.Equal(t, "1999-12-31", h.cursor(t, "init"))
}

func TestLoadArchivedBatchIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seed1999(h)

	summary, err := h.manager.Init(ctx, workflow.InitOptions{StartYear: 1999, EndYear: 1999})
	require.NoError(t, err)

	again, err := h.manager.Load(ctx, summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusArchived, again.BatchStatus)
	assert.Zero(t, again.Committed)
	assert.Zero(t, again.Approved)
	assert.False(t, again.CursorAdvanced)
}

func TestLoadUnknownBatch(t *testing.T) {
	h := newHarness(t)
	summary, err := h.manager.Load(context.Background(), "missing-none-20240101T000000-deadbeef")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNotFound)
	require.NotNil(t, summary)
}

func TestChangesWindowAndCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.AddMovies(
		testsupport.Movie(51, "Edited", "2001-01-01"),
		testsupport.Movie(52, "Recast", "2005-05-05"),
	)
	h.fake.AddChanges(
		testsupport.FakeChange{ID: 51, Date: "2024-06-14"},
		testsupport.FakeChange{ID: 52, Date: "2024-06-15"},
		testsupport.FakeChange{ID: 53, Date: "2024-06-14", Adult: true},
		testsupport.FakeChange{ID: 54, Date: "2024-05-01"},
	)

	summary, err := h.manager.Changes(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Selected)
	assert.Equal(t, 1, summary.Filtered)

	batch, err := h.reviews.Get(ctx, summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-14", batch.CursorStart)
	assert.Equal(t, "2024-06-15", batch.CursorEnd)

	_, err = h.manager.ApproveAll(ctx, summary.BatchID)
	require.NoError(t, err)
	loaded, err := h.manager.Load(ctx, summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Committed)
	assert.Equal(t, "2024-06-15", h.cursor(t, "changes"))
}

func TestChangesPageCapHoldsCursor(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxPages(1))
	h.fake.PageSize = 2
	ctx := context.Background()
	h.fake.AddMovies(
		testsupport.Movie(1, "One", "2001-01-01"),
		testsupport.Movie(2, "Two", "2002-02-02"),
		testsupport.Movie(3, "Three", "2003-03-03"),
	)
	h.fake.AddChanges(
		testsupport.FakeChange{ID: 1, Date: "2024-06-14"},
		testsupport.FakeChange{ID: 2, Date: "2024-06-14"},
		testsupport.FakeChange{ID: 3, Date: "2024-06-14"},
	)

	summary, err := h.manager.FetchReviewLoad(ctx, workflow.FetchOptions{Mode: review.ModeChanges, Days: 1}, workflow.ApproveEverything)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Selected)
	assert.Equal(t, 2, summary.Committed)
	assert.Equal(t, 1, summary.Truncated)
	assert.True(t, summary.Incomplete)
	assert.False(t, summary.CursorAdvanced)
	assert.Equal(t, "incomplete", summary.Status())
	assert.Empty(t, h.cursor(t, "changes"))
}

func TestCircuitOpenStopsFetchAndHoldsCursor(t *testing.T) {
	h := newHarness(t, testsupport.WithBreaker(1, 60), testsupport.WithWorkers(1))
	ctx := context.Background()
	seed1999(h)
	h.fake.SetStatus(10, 503)

	summary, err := h.manager.Init(ctx, workflow.InitOptions{StartYear: 1999, EndYear: 1999})
	require.NoError(t, err)
	assert.True(t, summary.CircuitOpened)
	assert.True(t, summary.Incomplete)
	assert.Zero(t, summary.Fetched)
	assert.False(t, summary.CursorAdvanced)
	require.NotNil(t, summary.ResumeFrom)
	assert.Equal(t, selector.Checkpoint{Year: 1999, Page: 1}, *summary.ResumeFrom)
	assert.Equal(t, review.StatusLoaded, summary.BatchStatus)
	assert.Empty(t, h.cursor(t, "init"))
}

func TestUpdateAppliesDirectly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.AddMovies(testsupport.Movie(61, "Direct", "2010-10-10"))

	summary, err := h.manager.Update(ctx, 61)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Committed)
	assert.Empty(t, summary.BatchID)

	again, err := h.manager.Update(ctx, 61)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Unchanged)

	missing, err := h.manager.Update(ctx, 62)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.Equal(t, 1, missing.Failed)
}

func TestSearchCreatesSearchBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.AddMovies(
		testsupport.Movie(71, "Alien", "1979-05-25"),
		testsupport.Movie(72, "Aliens", "1986-07-18"),
		testsupport.Movie(73, "Heat", "1995-12-15"),
	)

	summary, err := h.manager.Search(ctx, workflow.SearchOptions{Query: "alien"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Fetched)
	batch, err := h.reviews.Get(ctx, summary.BatchID)
	require.NoError(t, err)
	assert.Equal(t, review.ModeSearch, batch.Mode)

	best, err := h.manager.Search(ctx, workflow.SearchOptions{Query: "Aliens", BestMatch: true})
	require.NoError(t, err)
	records, err := h.reviews.Records(ctx, best.BatchID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(72), records[0].MovieID)

	byID, err := h.manager.Search(ctx, workflow.SearchOptions{ID: 73})
	require.NoError(t, err)
	records, err = h.reviews.Records(ctx, byID.BatchID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Heat", records[0].Movie.Title)

	unknown, err := h.manager.Search(ctx, workflow.SearchOptions{ID: 9999})
	require.NoError(t, err)
	assert.Equal(t, 0, unknown.Selected)

	_, err = h.manager.Search(ctx, workflow.SearchOptions{Query: "  "})
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestFetchReviewLoadUsesReviewer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.AddMovies(
		testsupport.Movie(81, "Keep", "2024-02-01"),
		testsupport.Movie(82, "Drop", "2024-02-02"),
	)

	reviewer := func(_ context.Context, rec *review.Record) (review.Decision, error) {
		if rec.MovieID == 82 {
			return review.DecisionRejected, nil
		}
		return review.DecisionApproved, nil
	}
	summary, err := h.manager.FetchReviewLoad(ctx, workflow.FetchOptions{
		Mode:  review.ModeMissing,
		After: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, reviewer)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 1, summary.Approved)
	assert.Equal(t, 1, summary.Committed)
	assert.Equal(t, review.StatusArchived, summary.BatchStatus)
	assert.Equal(t, "2024-02-02", h.cursor(t, "missing"))
}

func TestFetchRejectsUnsupportedMode(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.Fetch(context.Background(), workflow.FetchOptions{Mode: review.ModeInit})
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestBusyLockRefusesSecondRun(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.cfg.LockDir(), 0o755))
	held := flock.New(h.cfg.LockPath("init"))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = held.Unlock() })

	_, err = h.manager.Init(context.Background(), workflow.InitOptions{StartYear: 1999, EndYear: 1999})
	assert.ErrorIs(t, err, services.ErrBusy)
}

func TestExportImportThroughManager(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.AddMovies(testsupport.Movie(91, "Doc", "2024-02-01"))

	fetched, err := h.manager.Missing(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.manager.Export(ctx, fetched.BatchID, &buf))
	edited := bytes.Replace(buf.Bytes(), []byte("approval_status: null"), []byte("approval_status: approved"), 1)

	result, err := h.manager.Import(ctx, bytes.NewReader(edited), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Decided)

	rec, err := h.reviews.Record(ctx, fetched.BatchID, 91)
	require.NoError(t, err)
	assert.Equal(t, review.DecisionApproved, rec.Decision)
}

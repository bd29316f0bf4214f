package review_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cinesync/internal/review"
	"cinesync/internal/tmdb"
)

func openStore(t *testing.T) (*review.Store, string) {
	t.Helper()
	dir := t.TempDir()
	docDir := filepath.Join(dir, "review")
	store, err := review.OpenPath(filepath.Join(dir, "review.db"), docDir)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, docDir
}

func movies(ids ...int64) []tmdb.Movie {
	out := make([]tmdb.Movie, 0, len(ids))
	for _, id := range ids {
		out = append(out, tmdb.Movie{ID: id, Title: "Movie", ReleaseDate: "2023-02-01"})
	}
	return out
}

func createBatch(t *testing.T, store *review.Store, mode review.Mode, ids ...int64) *review.Batch {
	t.Helper()
	batch, err := store.Create(context.Background(), review.NewBatch{
		Mode:        mode,
		CursorStart: "2023-01-01",
		CursorEnd:   "2023-01-02",
		Movies:      movies(ids...),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return batch
}

func TestCreateOpensBatchForReview(t *testing.T) {
	store, docDir := openStore(t)
	batch := createBatch(t, store, review.ModeChanges, 3, 1, 2, 1)

	if batch.Status != review.StatusUnderReview {
		t.Fatalf("status = %s, want %s", batch.Status, review.StatusUnderReview)
	}
	if batch.RecordCount != 3 {
		t.Fatalf("record count = %d, want 3 (duplicates collapsed)", batch.RecordCount)
	}
	if !strings.HasPrefix(batch.ID, "changes-2023-01-02-") {
		t.Fatalf("unexpected batch id %q", batch.ID)
	}

	records, err := store.Records(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	got := []int64{records[0].MovieID, records[1].MovieID, records[2].MovieID}
	if got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("records not in candidate order: %v", got)
	}
	for _, record := range records {
		if record.Decision != review.DecisionPending {
			t.Fatalf("record %d decision = %s, want pending", record.MovieID, record.Decision)
		}
	}

	if _, err := os.Stat(filepath.Join(docDir, "raw", batch.ID+".yaml")); err != nil {
		t.Fatalf("expected review document: %v", err)
	}
}

func TestCreateRejectsUnknownMode(t *testing.T) {
	store, _ := openStore(t)
	_, err := store.Create(context.Background(), review.NewBatch{Mode: "update"})
	if !errors.Is(err, review.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestDecideIsIdempotentAndGuarded(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	batch := createBatch(t, store, review.ModeMissing, 10, 11)

	if err := store.Decide(ctx, batch.ID, 10, review.DecisionApproved, false); err != nil {
		t.Fatalf("first decide: %v", err)
	}
	first, err := store.Record(ctx, batch.ID, 10)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Decide(ctx, batch.ID, 10, review.DecisionApproved, false); err != nil {
		t.Fatalf("repeat decide should be a no-op, got %v", err)
	}
	second, err := store.Record(ctx, batch.ID, 10)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if first.ReviewedAt == nil || second.ReviewedAt == nil || !first.ReviewedAt.Equal(*second.ReviewedAt) {
		t.Fatalf("repeat decide must not touch review time: %v vs %v", first.ReviewedAt, second.ReviewedAt)
	}

	err = store.Decide(ctx, batch.ID, 10, review.DecisionRejected, false)
	if !errors.Is(err, review.ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
	unchanged, _ := store.Record(ctx, batch.ID, 10)
	if unchanged.Decision != review.DecisionApproved {
		t.Fatalf("failed decide changed state to %s", unchanged.Decision)
	}

	if err := store.Decide(ctx, batch.ID, 10, review.DecisionRejected, true); err != nil {
		t.Fatalf("override decide: %v", err)
	}
	overridden, _ := store.Record(ctx, batch.ID, 10)
	if overridden.Decision != review.DecisionRejected {
		t.Fatalf("override not applied: %s", overridden.Decision)
	}
}

func TestDecideErrors(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	batch := createBatch(t, store, review.ModeMissing, 10)

	if err := store.Decide(ctx, batch.ID, 99, review.DecisionApproved, false); !errors.Is(err, review.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := store.Decide(ctx, "nope", 10, review.DecisionApproved, false); !errors.Is(err, review.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
	if err := store.Decide(ctx, batch.ID, 10, "maybe", false); !errors.Is(err, review.ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
	if err := store.Decide(ctx, batch.ID, 10, review.DecisionPending, false); !errors.Is(err, review.ErrInvalidDecision) {
		t.Fatalf("expected reset without override to fail, got %v", err)
	}
}

func TestLifecycleClosesBatch(t *testing.T) {
	ctx := context.Background()
	store, docDir := openStore(t)
	batch := createBatch(t, store, review.ModeChanges, 1, 2)

	approved, err := store.ApproveAll(ctx, batch.ID)
	if err != nil {
		t.Fatalf("ApproveAll: %v", err)
	}
	if approved != 2 {
		t.Fatalf("approved = %d, want 2", approved)
	}

	moved, err := store.MarkLoaded(ctx, batch.ID)
	if err != nil || !moved {
		t.Fatalf("MarkLoaded = %v, %v", moved, err)
	}
	moved, err = store.MarkLoaded(ctx, batch.ID)
	if err != nil || moved {
		t.Fatalf("second MarkLoaded = %v, %v; want false, nil", moved, err)
	}
	if err := store.Decide(ctx, batch.ID, 1, review.DecisionRejected, true); !errors.Is(err, review.ErrBatchClosed) {
		t.Fatalf("expected ErrBatchClosed on loaded batch, got %v", err)
	}

	archived, err := store.Archive(ctx, batch.ID)
	if err != nil || !archived {
		t.Fatalf("Archive = %v, %v", archived, err)
	}
	if err := store.Decide(ctx, batch.ID, 1, review.DecisionRejected, true); !errors.Is(err, review.ErrBatchClosed) {
		t.Fatalf("expected ErrBatchClosed on archived batch, got %v", err)
	}
	if _, err := store.MarkLoaded(ctx, batch.ID); !errors.Is(err, review.ErrBatchClosed) {
		t.Fatalf("expected ErrBatchClosed when loading archived batch, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(docDir, "processed", batch.ID+".yaml")); err != nil {
		t.Fatalf("expected processed document: %v", err)
	}
	if _, err := os.Stat(filepath.Join(docDir, "raw", batch.ID+".yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected raw document removed, stat err = %v", err)
	}
}

func TestEmptyBatchLoadsAndArchives(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	batch := createBatch(t, store, review.ModeMissing)

	if batch.RecordCount != 0 {
		t.Fatalf("record count = %d", batch.RecordCount)
	}
	if _, err := store.MarkLoaded(ctx, batch.ID); err != nil {
		t.Fatalf("MarkLoaded: %v", err)
	}
	if _, err := store.Archive(ctx, batch.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
}

func TestApprovedAndOutcomes(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	batch := createBatch(t, store, review.ModeMissing, 1, 2, 3, 4)

	decide := map[int64]review.Decision{
		1: review.DecisionApproved,
		2: review.DecisionRejected,
		3: review.DecisionSkipped,
		4: review.DecisionApproved,
	}
	for id, decision := range decide {
		if err := store.Decide(ctx, batch.ID, id, decision, false); err != nil {
			t.Fatalf("Decide %d: %v", id, err)
		}
	}

	approved, err := store.Approved(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Approved: %v", err)
	}
	if len(approved) != 2 || approved[0].MovieID != 1 || approved[1].MovieID != 4 {
		t.Fatalf("unexpected approved records: %+v", approved)
	}

	if err := store.MarkRecordOutcome(ctx, batch.ID, 1, review.CommitFailed, errors.New("constraint")); err != nil {
		t.Fatalf("MarkRecordOutcome: %v", err)
	}
	record, _ := store.Record(ctx, batch.ID, 1)
	if record.CommitStatus != review.CommitFailed || record.CommitError != "constraint" {
		t.Fatalf("unexpected outcome: %+v", record)
	}

	counts, err := store.Counts(ctx, batch.ID)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts != (review.DecisionCounts{Approved: 2, Rejected: 1, Skipped: 1}) {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	open := createBatch(t, store, review.ModeMissing, 1)
	loaded := createBatch(t, store, review.ModeChanges, 2)
	if _, err := store.MarkLoaded(ctx, loaded.ID); err != nil {
		t.Fatalf("MarkLoaded: %v", err)
	}

	batches, err := store.List(ctx, review.StatusUnderReview)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(batches) != 1 || batches[0].ID != open.ID {
		t.Fatalf("unexpected filtered list: %+v", batches)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(all))
	}
}

func TestExportImportRoundTripsDecisions(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	batch := createBatch(t, store, review.ModeChanges, 1, 2, 3)

	if err := store.Decide(ctx, batch.ID, 3, review.DecisionRejected, false); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	var buf bytes.Buffer
	if err := store.Export(ctx, batch.ID, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	text := buf.String()
	if !strings.Contains(text, "batch_id: "+batch.ID) || !strings.Contains(text, "approval_status: null") {
		t.Fatalf("unexpected document:\n%s", text)
	}

	// Reviewer approves 1, skips 2, and flips 3 to approved.
	edited := strings.Replace(text, "approval_status: null", "approval_status: approved", 1)
	edited = strings.Replace(edited, "approval_status: null", "approval_status: skipped", 1)
	edited = strings.Replace(edited, "approval_status: rejected", "approval_status: approved", 1)

	result, err := store.Import(ctx, strings.NewReader(edited), false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Decided != 2 || len(result.Conflicts) != 1 || result.Conflicts[0] != 3 {
		t.Fatalf("unexpected import result: %+v", result)
	}

	result, err = store.Import(ctx, strings.NewReader(edited), true)
	if err != nil {
		t.Fatalf("Import with override: %v", err)
	}
	if result.Decided != 1 || result.Unchanged != 2 {
		t.Fatalf("unexpected override result: %+v", result)
	}

	counts, _ := store.Counts(ctx, batch.ID)
	if counts.Approved != 2 || counts.Skipped != 1 {
		t.Fatalf("unexpected counts after import: %+v", counts)
	}
}

func TestImportRejectsClosedBatch(t *testing.T) {
	ctx := context.Background()
	store, _ := openStore(t)
	batch := createBatch(t, store, review.ModeChanges, 1)

	var buf bytes.Buffer
	if err := store.Export(ctx, batch.ID, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := store.MarkLoaded(ctx, batch.ID); err != nil {
		t.Fatalf("MarkLoaded: %v", err)
	}
	if _, err := store.Import(ctx, &buf, false); !errors.Is(err, review.ErrBatchClosed) {
		t.Fatalf("expected ErrBatchClosed, got %v", err)
	}
}

func TestReopenKeepsBatches(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "review.db")
	docDir := filepath.Join(dir, "docs")

	store, err := review.OpenPath(dbPath, docDir)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	batch := createBatch(t, store, review.ModeMissing, 5)
	_ = store.Close()

	reopened, err := review.OpenPath(dbPath, docDir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Status != review.StatusUnderReview {
		t.Fatalf("status after reopen = %s", got.Status)
	}
}

package review

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const batchColumns = "id, mode, cursor_start, cursor_end, status, incomplete, record_count, fetch_failures_json, created_at, updated_at, loaded_at, archived_at"

const recordColumns = "batch_id, position, movie_id, movie_json, decision, reviewed_at, commit_status, commit_error"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(scanner rowScanner) (*Batch, error) {
	var (
		id          string
		mode        string
		cursorStart sql.NullString
		cursorEnd   sql.NullString
		status      string
		incomplete  int
		recordCount int
		failures    sql.NullString
		createdRaw  string
		updatedRaw  string
		loadedRaw   sql.NullString
		archivedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &mode, &cursorStart, &cursorEnd, &status, &incomplete, &recordCount,
		&failures, &createdRaw, &updatedRaw, &loadedRaw, &archivedRaw); err != nil {
		return nil, err
	}

	batch := &Batch{
		ID:          id,
		Mode:        Mode(mode),
		CursorStart: cursorStart.String,
		CursorEnd:   cursorEnd.String,
		Status:      Status(status),
		Incomplete:  incomplete != 0,
		RecordCount: recordCount,
	}
	if failures.Valid && failures.String != "" {
		if err := json.Unmarshal([]byte(failures.String), &batch.FetchFailures); err != nil {
			return nil, fmt.Errorf("decode fetch failures for %s: %w", id, err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		batch.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		batch.UpdatedAt = updated
	}
	batch.LoadedAt = parseNullableTime(loadedRaw)
	batch.ArchivedAt = parseNullableTime(archivedRaw)
	return batch, nil
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var (
		batchID     string
		position    int
		movieID     int64
		movieJSON   string
		decision    string
		reviewedRaw sql.NullString
		commit      string
		commitErr   sql.NullString
	)
	if err := scanner.Scan(&batchID, &position, &movieID, &movieJSON, &decision, &reviewedRaw, &commit, &commitErr); err != nil {
		return nil, err
	}
	record := &Record{
		BatchID:      batchID,
		Position:     position,
		MovieID:      movieID,
		Decision:     Decision(decision),
		ReviewedAt:   parseNullableTime(reviewedRaw),
		CommitStatus: CommitStatus(commit),
		CommitError:  commitErr.String,
	}
	if err := json.Unmarshal([]byte(movieJSON), &record.Movie); err != nil {
		return nil, fmt.Errorf("decode snapshot %s/%d: %w", batchID, movieID, err)
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Baseline CSV columns. Only tmdb_id is required; the others may be absent
// or empty.
const (
	colTMDBID      = "tmdb_id"
	colBaselineID  = "baseline_id"
	colTitle       = "title"
	colReleaseDate = "release_date"
	colRating      = "rating"
	colVotes       = "votes"
	colTags        = "tags"
)

// ReadBaselineCSV parses a flattened baseline export with a header row.
// Rows without a provider id are skipped and counted.
func ReadBaselineCSV(r io.Reader) ([]BaselineRow, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, errors.New("baseline csv is empty")
		}
		return nil, 0, fmt.Errorf("read baseline header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := index[colTMDBID]; !ok {
		return nil, 0, fmt.Errorf("baseline csv has no %s column", colTMDBID)
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []BaselineRow
	skipped := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read baseline line %d: %w", line, err)
		}
		rawID := field(record, colTMDBID)
		if rawID == "" {
			skipped++
			continue
		}
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || id <= 0 {
			skipped++
			continue
		}
		row := BaselineRow{
			MovieID:     id,
			Title:       field(record, colTitle),
			ReleaseDate: field(record, colReleaseDate),
			Tags:        field(record, colTags),
		}
		if v := field(record, colBaselineID); v != "" {
			if row.BaselineID, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, 0, fmt.Errorf("baseline line %d: %s %q: %w", line, colBaselineID, v, err)
			}
		}
		if v := field(record, colRating); v != "" {
			if row.Rating, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, 0, fmt.Errorf("baseline line %d: %s %q: %w", line, colRating, v, err)
			}
		}
		if v := field(record, colVotes); v != "" {
			if row.Votes, err = strconv.ParseInt(v, 10, 64); err != nil {
				return nil, 0, fmt.Errorf("baseline line %d: %s %q: %w", line, colVotes, v, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

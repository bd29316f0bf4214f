package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cinesync/internal/testsupport"
	"cinesync/internal/workflow"
)

type cliTestEnv struct {
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) cliTestEnv {
	t.Helper()
	fake := testsupport.NewFakeTMDB(t)
	fake.AddMovies(
		testsupport.Movie(201, "Alpha", "2024-02-01"),
		testsupport.Movie(202, "Beta", "2024-03-01"),
	)

	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %[1]q
log_dir = %[2]q
review_dir = %[3]q

[tmdb]
api_key = "test"
base_url = %[4]q
requests_per_window = 1000
window_seconds = 1
burst = 100
timeout_seconds = 2

[gateway]
max_attempts = 2
initial_backoff_ms = 1
max_backoff_seconds = 1

[catalog]
driver = "sqlite"
dsn = %[5]q

[cache]
backend = "none"

[logging]
level = "error"
`,
		filepath.Join(base, "data"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "review"),
		fake.URL(),
		filepath.Join(base, "data", "catalog.db"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cliTestEnv{configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath, stdin string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	full := args
	if configPath != "" {
		full = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(full)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\noutput:\n%s", needle, haystack)
	}
}

func decodeSummary(t *testing.T, out string) workflow.Summary {
	t.Helper()
	var summary workflow.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\noutput:\n%s", err, out)
	}
	return summary
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration: [OK] valid")
	requireContains(t, out, "Catalog: sqlite")

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected config init to refuse an existing file")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "", ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestMissingReviewLoadFlow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"--json", "missing", "--after-date", "2024-01-01"}, env.configPath, "")
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	summary := decodeSummary(t, out)
	if summary.BatchID == "" || summary.Fetched != 2 {
		t.Fatalf("unexpected missing summary: %+v", summary)
	}
	batchID := summary.BatchID

	out, _, err = runCLI(t, []string{"review", "list", "--status", "under_review"}, env.configPath, "")
	if err != nil {
		t.Fatalf("review list: %v", err)
	}
	requireContains(t, out, batchID)

	out, _, err = runCLI(t, []string{"review", "decide", batchID, "201", "approve"}, env.configPath, "")
	if err != nil {
		t.Fatalf("review decide: %v", err)
	}
	requireContains(t, out, "marked approved")

	if _, _, err := runCLI(t, []string{"review", "decide", batchID, "202", "maybe"}, env.configPath, ""); err == nil {
		t.Fatal("expected invalid decision to fail")
	}

	out, _, err = runCLI(t, []string{"review", "show", batchID}, env.configPath, "")
	if err != nil {
		t.Fatalf("review show: %v", err)
	}
	requireContains(t, out, "1 pending, 1 approved")
	requireContains(t, out, "Alpha")

	out, _, err = runCLI(t, []string{"--json", "load", batchID}, env.configPath, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	loaded := decodeSummary(t, out)
	if loaded.Committed != 1 || string(loaded.BatchStatus) != "ARCHIVED" {
		t.Fatalf("unexpected load summary: %+v", loaded)
	}

	out, _, err = runCLI(t, []string{"cursor"}, env.configPath, "")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	requireContains(t, out, "missing")
	requireContains(t, out, "2024-03-01")
}

func TestReviewExportImport(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"--json", "missing", "--after-date", "2024-01-01"}, env.configPath, "")
	if err != nil {
		t.Fatalf("missing: %v", err)
	}
	batchID := decodeSummary(t, out).BatchID

	docPath := filepath.Join(env.baseDir, "export.yaml")
	if _, _, err := runCLI(t, []string{"review", "export", batchID, "--output", docPath}, env.configPath, ""); err != nil {
		t.Fatalf("review export: %v", err)
	}
	data, err := os.ReadFile(docPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	edited := strings.Replace(string(data), "approval_status: null", "approval_status: approved", 1)
	if err := os.WriteFile(docPath, []byte(edited), 0o644); err != nil {
		t.Fatalf("write edited export: %v", err)
	}

	out, _, err = runCLI(t, []string{"review", "import", docPath}, env.configPath, "")
	if err != nil {
		t.Fatalf("review import: %v", err)
	}
	requireContains(t, out, "1 decided")
}

func TestFetchReviewLoadPrompts(t *testing.T) {
	env := setupCLITestEnv(t)

	out, stderr, err := runCLI(t, []string{"--json", "fetch-review-load", "--mode", "missing", "--after-date", "2024-01-01"},
		env.configPath, "x\na\nr\n")
	if err != nil {
		t.Fatalf("fetch-review-load: %v", err)
	}
	requireContains(t, stderr, "Please answer a, r, s or q.")
	summary := decodeSummary(t, out)
	if summary.Committed != 1 || summary.Approved != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestFetchReviewLoadQuitLeavesBatchUnderReview(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"fetch-review-load", "--after-date", "2024-01-01"}, env.configPath, "q\n")
	if !errors.Is(err, errReviewStopped) {
		t.Fatalf("expected errReviewStopped, got %v", err)
	}

	out, _, err := runCLI(t, []string{"--json", "review", "list", "--status", "UNDER_REVIEW"}, env.configPath, "")
	if err != nil {
		t.Fatalf("review list: %v", err)
	}
	var batches []map[string]any
	if err := json.Unmarshal([]byte(out), &batches); err != nil {
		t.Fatalf("decode batches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected one batch under review, got %d", len(batches))
	}
}

func TestFlagValidation(t *testing.T) {
	env := setupCLITestEnv(t)

	cases := [][]string{
		{"init", "--from-page", "2"},
		{"missing", "--after-date", "01/02/2024"},
		{"fetch", "--mode", "init"},
		{"changes", "--days", "3", "--start", "2024-01-01"},
		{"update", "abc"},
	}
	for _, args := range cases {
		if _, _, err := runCLI(t, args, env.configPath, ""); err == nil {
			t.Fatalf("expected %v to fail", args)
		}
	}
}

func TestSeedAndStats(t *testing.T) {
	env := setupCLITestEnv(t)

	csvPath := filepath.Join(env.baseDir, "baseline.csv")
	content := "baseline_id,tmdb_id,title,release_date\n1,862,Toy Story,1995-10-30\n2,,Unlinked,\n"
	if err := os.WriteFile(csvPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	out, _, err := runCLI(t, []string{"seed", csvPath}, env.configPath, "")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	requireContains(t, out, "Seeded 1 movie(s); skipped 1")

	out, _, err = runCLI(t, []string{"--json", "stats"}, env.configPath, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var counts map[string]int
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if counts["movies"] != 1 {
		t.Fatalf("expected 1 movie, got %+v", counts)
	}
}

func TestChangesLogListsCommittedMovies(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"changes-log"}, env.configPath, "")
	if err != nil {
		t.Fatalf("changes-log on empty catalog: %v", err)
	}
	requireContains(t, out, "No catalog changes in the last 7 day(s)")

	if _, _, err := runCLI(t, []string{"fetch-review-load", "--approve-all", "--after-date", "2024-01-01"}, env.configPath, ""); err != nil {
		t.Fatalf("fetch-review-load: %v", err)
	}

	out, _, err = runCLI(t, []string{"--json", "changes-log", "--days", "1"}, env.configPath, "")
	if err != nil {
		t.Fatalf("changes-log: %v", err)
	}
	var changes []struct {
		MovieID    int64  `json:"movie_id"`
		Title      string `json:"title"`
		ChangeType string `json:"change_type"`
		Mode       string `json:"mode"`
	}
	if err := json.Unmarshal([]byte(out), &changes); err != nil {
		t.Fatalf("decode changes: %v\noutput:\n%s", err, out)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	for _, change := range changes {
		if change.ChangeType != "created" || change.Mode != "missing" {
			t.Fatalf("unexpected change entry: %+v", change)
		}
	}

	out, _, err = runCLI(t, []string{"changes-log"}, env.configPath, "")
	if err != nil {
		t.Fatalf("changes-log table: %v", err)
	}
	requireContains(t, out, "Alpha")
	requireContains(t, out, "created")

	if _, _, err := runCLI(t, []string{"changes-log", "--days", "0"}, env.configPath, ""); err == nil {
		t.Fatal("expected --days 0 to fail")
	}
}

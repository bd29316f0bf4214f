package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"cinesync/internal/workflow"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

type statusKind int

const (
	statusOK statusKind = iota
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag := map[statusKind]string{statusOK: "OK", statusWarn: "WARN", statusError: "ERROR"}[kind]
	line := fmt.Sprintf("%s: [%s] %s", label, tag, message)
	if !colorize {
		return line
	}
	color := map[statusKind]string{statusOK: ansiGreen, statusWarn: ansiYellow, statusError: ansiRed}[kind]
	return color + line + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSummary renders a workflow summary. It is printed even when the
// workflow failed so partial progress stays visible.
func printSummary(cmd *cobra.Command, s *workflow.Summary, asJSON bool) error {
	if s == nil {
		return nil
	}
	if asJSON {
		return writeJSON(cmd, s)
	}
	out := cmd.OutOrStdout()

	rows := [][]string{
		{"Mode", s.Mode},
		{"Run", s.RunID},
	}
	if s.BatchID != "" {
		rows = append(rows, []string{"Batch", s.BatchID}, []string{"Batch status", string(s.BatchStatus)})
	}
	for _, kv := range []struct {
		label string
		value int
	}{
		{"Selected", s.Selected},
		{"Fetched", s.Fetched},
		{"Filtered", s.Filtered},
		{"Approved", s.Approved},
		{"Committed", s.Committed},
		{"Unchanged", s.Unchanged},
		{"Failed", s.Failed},
	} {
		rows = append(rows, []string{kv.label, strconv.Itoa(kv.value)})
	}
	if s.CursorBefore != "" || s.CursorAfter != "" {
		rows = append(rows,
			[]string{"Cursor before", dash(s.CursorBefore)},
			[]string{"Cursor after", dash(s.CursorAfter)},
			[]string{"Cursor advanced", yesNo(s.CursorAdvanced)},
		)
	}
	if s.Incomplete {
		rows = append(rows, []string{"Incomplete", "yes"})
	}
	if s.Truncated > 0 {
		rows = append(rows, []string{"Truncated listings", strconv.Itoa(s.Truncated)})
	}
	if s.ResumeFrom != nil {
		rows = append(rows, []string{"Resume from", fmt.Sprintf("--from-year %d --from-page %d", s.ResumeFrom.Year, s.ResumeFrom.Page)})
	}
	rows = append(rows, []string{"Duration", s.Duration.Round(1e6).String()})
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))

	if len(s.Failures) > 0 {
		failureRows := make([][]string, 0, len(s.Failures))
		for _, f := range s.Failures {
			failureRows = append(failureRows, []string{strconv.FormatInt(f.MovieID, 10), f.Stage, f.Kind, truncate(f.Error, 80)})
		}
		fmt.Fprintln(out, renderTable([]string{"Movie", "Stage", "Kind", "Error"}, failureRows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
	}

	kind, message := statusOK, "completed"
	switch {
	case s.CircuitOpened:
		kind, message = statusWarn, "provider circuit opened; re-run once it recovers"
	case s.Truncated > 0:
		kind, message = statusWarn, "listing hit sync.max_pages; cursor held"
	case s.Incomplete:
		kind, message = statusWarn, "batch has fetch gaps; cursor held"
	case s.Failed > 0:
		kind, message = statusWarn, fmt.Sprintf("%d record(s) failed", s.Failed)
	}
	fmt.Fprintln(out, renderStatusLine("Result", kind, message, shouldColorize(out)))
	return nil
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}

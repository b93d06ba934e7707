package render

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"golang.org/x/term"

	"github.com/dbcrust/dbcrust/internal/backend"
)

// ColumnSelector decides, when a result set's column count exceeds
// cfg.ColumnSelectionThreshold, which columns to keep. Implementations
// remember the choice keyed by the column-name tuple (this step 1);
// internal/session supplies the interactive implementation.
type ColumnSelector interface {
	Select(columns []backend.ColumnDescriptor) (kept []int, ok bool)
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// Render draws rs as a box-drawn table (or, if expanded is true,
// one-record-per-block form) to w, applying cfg's formatting and a
// bounded row buffer.
func Render(ctx context.Context, w io.Writer, rs backend.RowSet, cfg Config, expanded bool, selector ColumnSelector) (rowCount int, truncated bool, err error) {
	columns := rs.Columns()
	keep := allIndices(len(columns))
	if selector != nil && cfg.ColumnSelectionThreshold > 0 && len(columns) > cfg.ColumnSelectionThreshold {
		if kept, ok := selector.Select(columns); ok {
			keep = kept
		}
	}
	selected := make([]backend.ColumnDescriptor, len(keep))
	for i, idx := range keep {
		selected[i] = columns[idx]
	}

	limit := cfg.RowBufferLimit
	if limit <= 0 {
		limit = 1000
	}
	var rows [][]string
	for rs.Next(ctx) {
		cells, scanErr := rs.Scan()
		if scanErr != nil {
			return rowCount, truncated, scanErr
		}
		row := make([]string, len(keep))
		for i, idx := range keep {
			row[i] = FormatCell(cells[idx], cfg)
		}
		rows = append(rows, row)
		rowCount++
		if rowCount >= limit {
			truncated = rs.Next(ctx)
			break
		}
	}
	if err := rs.Err(); err != nil {
		return rowCount, truncated, err
	}

	if expanded {
		renderExpanded(w, selected, rows)
	} else {
		renderTable(w, selected, rows, cfg)
	}
	if truncated {
		fmt.Fprintf(w, "(showing first %d rows)\n", limit)
	}
	return rowCount, truncated, nil
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func renderTable(w io.Writer, columns []backend.ColumnDescriptor, rows [][]string, cfg Config) {
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = c.Name
	}
	table := tablewriter.NewWriter(w)
	opts := []tablewriter.Option{tablewriter.WithHeader(headers)}
	if borderState := borderStateFor(cfg.BorderStyle); borderState != nil {
		opts = append(opts, tablewriter.WithRendition(tw.Rendition{Borders: *borderState}))
	}
	table.Options(opts...)
	for _, row := range rows {
		_ = table.Append(row)
	}
	_ = table.Render()
}

func borderStateFor(style BorderStyle) *tw.Border {
	switch style {
	case BorderNone:
		return &tw.Border{Left: tw.State(0), Top: tw.State(0), Right: tw.State(0), Bottom: tw.State(0)}
	case BorderFull:
		return &tw.Border{Left: tw.State(1), Top: tw.State(1), Right: tw.State(1), Bottom: tw.State(1)}
	default:
		return nil
	}
}

// renderExpanded draws one block per row, each field on its own line,
// matching psql's \x expanded display.
func renderExpanded(w io.Writer, columns []backend.ColumnDescriptor, rows [][]string) {
	width := 0
	for _, c := range columns {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}
	style := headerStyle
	if !isColorTerminal(w) {
		style = lipgloss.NewStyle()
	}
	for i, row := range rows {
		fmt.Fprintln(w, style.Render(fmt.Sprintf("-[ RECORD %d ]%s", i+1, strings.Repeat("-", 10))))
		for j, c := range columns {
			fmt.Fprintf(w, "%-*s | %s\n", width, c.Name, row[j])
		}
	}
}

// isColorTerminal reports whether w is a TTY that can render ANSI color,
// detected the way stacklok-toolhive gates its own colored UI output.
func isColorTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

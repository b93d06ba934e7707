package render

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"

	"github.com/dbcrust/dbcrust/internal/backend"
)

// RenderJSON drains rs and writes it as a JSON array of objects keyed by
// column name, the non-interactive counterpart to Render's table output
// for `-o json`. It shares Render's row buffer limit so a huge result set
// cannot exhaust memory the same way a piped table render cannot.
func RenderJSON(ctx context.Context, w io.Writer, rs backend.RowSet, cfg Config) (rowCount int, truncated bool, err error) {
	columns := rs.Columns()
	limit := cfg.RowBufferLimit
	if limit <= 0 {
		limit = 1000
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	var records []map[string]any
	for rs.Next(ctx) {
		cells, scanErr := rs.Scan()
		if scanErr != nil {
			return rowCount, truncated, scanErr
		}
		rec := make(map[string]any, len(columns))
		for i, c := range columns {
			rec[c.Name] = jsonValue(cells[i])
		}
		records = append(records, rec)
		rowCount++
		if rowCount >= limit {
			truncated = rs.Next(ctx)
			break
		}
	}
	if err := rs.Err(); err != nil {
		return rowCount, truncated, err
	}
	if records == nil {
		records = []map[string]any{}
	}
	if err := enc.Encode(records); err != nil {
		return rowCount, truncated, err
	}
	return rowCount, truncated, nil
}

func jsonValue(c backend.Cell) any {
	if c.Kind == backend.CellNull {
		return nil
	}
	return c.Value
}

// RenderCSV drains rs and writes it as CSV with a header row, for `-o csv`.
// Cell formatting matches FormatCell so numeric and temporal rendering
// stays consistent between -o table and -o csv.
func RenderCSV(ctx context.Context, w io.Writer, rs backend.RowSet, cfg Config) (rowCount int, truncated bool, err error) {
	columns := rs.Columns()
	limit := cfg.RowBufferLimit
	if limit <= 0 {
		limit = 1000
	}
	cw := csv.NewWriter(w)
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = c.Name
	}
	if err := cw.Write(headers); err != nil {
		return 0, false, err
	}

	for rs.Next(ctx) {
		cells, scanErr := rs.Scan()
		if scanErr != nil {
			return rowCount, truncated, scanErr
		}
		row := make([]string, len(cells))
		for i, cell := range cells {
			row[i] = FormatCell(cell, cfg)
		}
		if err := cw.Write(row); err != nil {
			return rowCount, truncated, err
		}
		rowCount++
		if rowCount >= limit {
			truncated = rs.Next(ctx)
			break
		}
	}
	if err := rs.Err(); err != nil {
		return rowCount, truncated, err
	}
	cw.Flush()
	return rowCount, truncated, cw.Error()
}

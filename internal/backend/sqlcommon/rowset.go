// Package sqlcommon factors the pieces shared by every database/sql-based
// adapter (Postgres, MySQL, SQLite, ClickHouse, and the file-query engine):
// a RowSet over one or more *sql.Rows, and naive multi-statement splitting
// so each statement runs as its own query. Adapters compose this instead of reimplementing it, the way
// internal/connector leaves per-engine query building to the engine
// packages but nothing structural.
package sqlcommon

import (
	"context"
	"database/sql"
	"strings"

	"github.com/dbcrust/dbcrust/internal/backend"
)

// RowSet adapts one or more *sql.Rows into backend.RowSet, classifying
// column types using the driver-reported database type name.
type RowSet struct {
	rowsSeq []*sql.Rows
	idx     int
	cur     *sql.Rows
	cols    []backend.ColumnDescriptor
	err     error
	scanBuf []any
}

// NewRowSet wraps a sequence of already-executed *sql.Rows (one per
// statement in a multi-statement submission) as a single backend.RowSet
// addressable in order via HasMore/Advance. Next does not move past an
// exhausted result set on its own — callers that want the next result set
// call Advance explicitly from their render loop; within one statement's
// rows, Next/Scan behave as documented on backend.RowSet.
func NewRowSet(rows []*sql.Rows) (*RowSet, error) {
	rs := &RowSet{rowsSeq: rows}
	if len(rows) > 0 {
		if err := rs.setCurrent(rows[0]); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

func (rs *RowSet) setCurrent(r *sql.Rows) error {
	rs.cur = r
	types, err := r.ColumnTypes()
	if err != nil {
		return err
	}
	cols := make([]backend.ColumnDescriptor, len(types))
	for i, ct := range types {
		cols[i] = backend.ColumnDescriptor{
			Name:   ct.Name(),
			Kind:   classifyDBType(ct.DatabaseTypeName()),
			Native: ct.DatabaseTypeName(),
		}
	}
	rs.cols = cols
	rs.scanBuf = make([]any, len(cols))
	return nil
}

func (rs *RowSet) Columns() []backend.ColumnDescriptor { return rs.cols }

func (rs *RowSet) Next(ctx context.Context) bool {
	if rs.cur == nil {
		return false
	}
	if rs.cur.Next() {
		return true
	}
	rs.err = rs.cur.Err()
	return false
}

func (rs *RowSet) Scan() ([]backend.Cell, error) {
	ptrs := make([]any, len(rs.scanBuf))
	for i := range rs.scanBuf {
		ptrs[i] = &rs.scanBuf[i]
	}
	if err := rs.cur.Scan(ptrs...); err != nil {
		return nil, err
	}
	cells := make([]backend.Cell, len(rs.cols))
	for i, v := range rs.scanBuf {
		cells[i] = backend.Cell{Kind: rs.cols[i].Kind, Value: normalizeScanValue(v)}
		if v == nil {
			cells[i].Kind = backend.CellNull
		}
	}
	return cells, nil
}

func (rs *RowSet) Err() error { return rs.err }

func (rs *RowSet) Close() error {
	var firstErr error
	for _, r := range rs.rowsSeq {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HasMore reports whether additional result sets follow the current one.
func (rs *RowSet) HasMore() bool { return rs.idx+1 < len(rs.rowsSeq) }

// Advance moves to the next result set in a multi-statement submission.
func (rs *RowSet) Advance() error {
	if !rs.HasMore() {
		return nil
	}
	rs.idx++
	return rs.setCurrent(rs.rowsSeq[rs.idx])
}

func normalizeScanValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// classifyDBType maps common driver type names to a backend.CellKind. It
// is intentionally conservative: anything it doesn't recognize falls back
// to CellText, and the renderer's JSON/array detection additionally
// inspects the raw value shape at render time.
func classifyDBType(dbType string) backend.CellKind {
	t := strings.ToUpper(dbType)
	switch {
	case strings.Contains(t, "BOOL"):
		return backend.CellBool
	case strings.Contains(t, "INT") || strings.Contains(t, "SERIAL"):
		return backend.CellInteger
	case strings.Contains(t, "FLOAT") || strings.Contains(t, "DOUBLE") ||
		strings.Contains(t, "DECIMAL") || strings.Contains(t, "NUMERIC") || strings.Contains(t, "REAL"):
		return backend.CellFloat
	case strings.Contains(t, "DATE") || strings.Contains(t, "TIME"):
		return backend.CellTemporal
	case strings.Contains(t, "JSON"):
		return backend.CellJSON
	case strings.Contains(t, "BYTEA") || strings.Contains(t, "BLOB") || strings.Contains(t, "BINARY"):
		return backend.CellBytes
	case strings.HasSuffix(t, "[]") || strings.Contains(t, "ARRAY"):
		return backend.CellArray
	case strings.Contains(t, "VECTOR"):
		return backend.CellVector
	case strings.Contains(t, "GEOMETRY") || strings.Contains(t, "GEOGRAPHY"):
		return backend.CellGeometry
	default:
		return backend.CellText
	}
}

// SplitStatements splits a SQL submission into individually executable
// statements, used by every database/sql-based adapter (Postgres, MySQL,
// SQLite, ClickHouse, the file engine) to run them one query at a time. It is a conservative splitter on top-level semicolons
// that tracks single/double-quote and single-line-comment state; it is
// not a full SQL parser and is not meant to be one (this Non-goals).
func SplitStatements(text string) []string {
	var stmts []string
	var cur strings.Builder
	inSingle, inDouble, inLineComment := false, false, false
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if inLineComment {
			cur.WriteRune(ch)
			if ch == '\n' {
				inLineComment = false
			}
			continue
		}
		switch ch {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '-':
			if !inSingle && !inDouble && i+1 < len(runes) && runes[i+1] == '-' {
				inLineComment = true
			}
		case ';':
			if !inSingle && !inDouble {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					stmts = append(stmts, s)
				}
				cur.Reset()
				continue
			}
		}
		cur.WriteRune(ch)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

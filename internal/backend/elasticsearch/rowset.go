package elasticsearch

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/dbcrust/dbcrust/internal/backenderr"

	"github.com/dbcrust/dbcrust/internal/backend"
)

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// hitRowSet flattens a fully-buffered _search response into backend.RowSet.
// Elasticsearch returns the whole page in one HTTP response (no server-side
// cursor for a plain search, scroll/PIT are a separate API this client
// surface doesn't need), so buffering here is unavoidable rather than a
// shortcut.
type hitRowSet struct {
	rows []map[string]any
	idx  int
	cols []backend.ColumnDescriptor
}

func newHitRowSet(raw []byte, excludedArrays []string) (*hitRowSet, error) {
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, backenderr.Protocolf(err, "decode search response")
	}
	excluded := make(map[string]bool, len(excludedArrays))
	for _, f := range excludedArrays {
		excluded[f] = true
	}
	rows := make([]map[string]any, len(resp.Hits.Hits))
	for i, h := range resp.Hits.Hits {
		rows[i] = h.Source
	}
	var cols []backend.ColumnDescriptor
	if len(rows) > 0 {
		names := make([]string, 0, len(rows[0]))
		for k := range rows[0] {
			if !excluded[k] {
				names = append(names, k)
			}
		}
		sort.Strings(names)
		cols = make([]backend.ColumnDescriptor, len(names))
		for i, n := range names {
			cols[i] = backend.ColumnDescriptor{Name: n, Kind: cellKindFor(rows[0][n])}
		}
	}
	return &hitRowSet{rows: rows, cols: cols}, nil
}

func cellKindFor(v any) backend.CellKind {
	switch v.(type) {
	case nil:
		return backend.CellNull
	case bool:
		return backend.CellBool
	case float64:
		return backend.CellFloat
	case string:
		return backend.CellText
	case []any:
		return backend.CellArray
	case map[string]any:
		return backend.CellDocument
	default:
		return backend.CellText
	}
}

func (rs *hitRowSet) Columns() []backend.ColumnDescriptor { return rs.cols }

func (rs *hitRowSet) Next(ctx context.Context) bool {
	return rs.idx < len(rs.rows)
}

func (rs *hitRowSet) Scan() ([]backend.Cell, error) {
	row := rs.rows[rs.idx]
	rs.idx++
	cells := make([]backend.Cell, len(rs.cols))
	for i, c := range rs.cols {
		v, ok := row[c.Name]
		if !ok || v == nil {
			cells[i] = backend.Cell{Kind: backend.CellNull}
			continue
		}
		cells[i] = backend.Cell{Kind: cellKindFor(v), Value: v}
	}
	return cells, nil
}

func (rs *hitRowSet) Err() error     { return nil }
func (rs *hitRowSet) Close() error   { return nil }
func (rs *hitRowSet) HasMore() bool  { return false }
func (rs *hitRowSet) Advance() error { return nil }

type emptyRS struct{}

func emptyRowSet() *emptyRS                          { return &emptyRS{} }
func (*emptyRS) Columns() []backend.ColumnDescriptor { return nil }
func (*emptyRS) Next(context.Context) bool           { return false }
func (*emptyRS) Scan() ([]backend.Cell, error)       { return nil, nil }
func (*emptyRS) Err() error                          { return nil }
func (*emptyRS) Close() error                        { return nil }
func (*emptyRS) HasMore() bool                       { return false }
func (*emptyRS) Advance() error                      { return nil }

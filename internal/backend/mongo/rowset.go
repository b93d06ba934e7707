package mongo

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dbcrust/dbcrust/internal/backend"
)

// docRowSet flattens a cursor of BSON documents into backend.RowSet's
// fixed-column-count row shape. Columns are determined from the first
// document (document backends have no fixed schema, so later documents
// missing a field simply report CellNull for it); fields present only on
// later documents are not discovered, a known limitation noted in the
// component's doc comment rather than hidden.
type docRowSet struct {
	cur           *mongo.Cursor
	cols          []backend.ColumnDescriptor
	excludedArray map[string]bool
	pending          bson.M
	err           error
}

func newDocRowSet(ctx context.Context, cur *mongo.Cursor, excludedArrays []string) (*docRowSet, error) {
	excluded := make(map[string]bool, len(excludedArrays))
	for _, f := range excludedArrays {
		excluded[f] = true
	}
	rs := &docRowSet{cur: cur, excludedArray: excluded}
	if cur.Next(ctx) {
		var first bson.M
		if err := cur.Decode(&first); err != nil {
			return nil, err
		}
		rs.cols = columnsFromDocument(first, excluded)
		rs.pending = first
	} else if err := cur.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

func columnsFromDocument(doc bson.M, excluded map[string]bool) []backend.ColumnDescriptor {
	names := make([]string, 0, len(doc))
	for k := range doc {
		if excluded[k] {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	cols := make([]backend.ColumnDescriptor, len(names))
	for i, n := range names {
		cols[i] = backend.ColumnDescriptor{Name: n, Kind: cellKindFor(doc[n]), Native: mongoTypeName(doc[n])}
	}
	return cols
}

func cellKindFor(v any) backend.CellKind {
	switch v.(type) {
	case nil:
		return backend.CellNull
	case bool:
		return backend.CellBool
	case int32, int64, int:
		return backend.CellInteger
	case float64:
		return backend.CellFloat
	case string:
		return backend.CellText
	case bson.A:
		return backend.CellArray
	case bson.M, bson.D:
		return backend.CellDocument
	default:
		return backend.CellText
	}
}

func (rs *docRowSet) Columns() []backend.ColumnDescriptor { return rs.cols }

func (rs *docRowSet) Next(ctx context.Context) bool {
	if rs.pending != nil {
		return true
	}
	if !rs.cur.Next(ctx) {
		rs.err = rs.cur.Err()
		return false
	}
	var doc bson.M
	if err := rs.cur.Decode(&doc); err != nil {
		rs.err = err
		return false
	}
	rs.pending = doc
	return true
}

func (rs *docRowSet) Scan() ([]backend.Cell, error) {
	doc := rs.pending
	rs.pending = nil
	cells := make([]backend.Cell, len(rs.cols))
	for i, c := range rs.cols {
		v, ok := doc[c.Name]
		if !ok || v == nil {
			cells[i] = backend.Cell{Kind: backend.CellNull}
			continue
		}
		cells[i] = backend.Cell{Kind: cellKindFor(v), Value: v}
	}
	return cells, nil
}

func (rs *docRowSet) Err() error { return rs.err }

func (rs *docRowSet) Close() error {
	return rs.cur.Close(context.Background())
}

func (rs *docRowSet) HasMore() bool { return false }

func (rs *docRowSet) Advance() error { return nil }

// emptyRowSet satisfies backend.RowSet for DDL-style statements that have
// no tabular result (CREATE/DROP DATABASE/COLLECTION).
type emptyRS struct{}

func emptyRowSet() *emptyRS                               { return &emptyRS{} }
func (*emptyRS) Columns() []backend.ColumnDescriptor      { return nil }
func (*emptyRS) Next(context.Context) bool                { return false }
func (*emptyRS) Scan() ([]backend.Cell, error)            { return nil, nil }
func (*emptyRS) Err() error                               { return nil }
func (*emptyRS) Close() error                             { return nil }
func (*emptyRS) HasMore() bool                            { return false }
func (*emptyRS) Advance() error                           { return nil }

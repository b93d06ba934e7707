// Package fileengine implements backend.Adapter over flat files (CSV,
// newline-delimited JSON, Parquet) by materializing each referenced name as a
// SQLite table: the engine infers a schema on first reference, loads
// matching files into an in-memory modernc.org/sqlite catalog, and answers
// standard SQL against it. Grounded on internal/backend/sqlite (the same
// driver, reused here as the query catalog rather than a fresh SQL engine)
// and on apache/arrow-go/v18 for Parquet decoding, a direct go.mod
// dependency used for schema/columnar data that no other component in
// this module exercises otherwise.
package fileengine

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backend/sqlcommon"
	"github.com/dbcrust/dbcrust/internal/backenderr"
)

// Adapter answers SQL against registered files and directories, materializing
// each referenced table into a private in-memory SQLite catalog the first
// time a query names it.
type Adapter struct {
	catalog *sqlx.DB
	// sources maps an accepted FROM-clause name to the path registered for
	// it (single file, glob, or directory). For a glob or directory only the
	// first matching file is loaded; matches are not unioned into one table.
	sources map[string]string
	loaded  map[string]bool

	tables  []backend.TableDescriptor
	cacheOK bool
}

// New opens a private in-memory catalog database.
func New(ctx context.Context) (*Adapter, error) {
	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		return nil, backenderr.Connectionf(err, "open file engine catalog")
	}
	return &Adapter{catalog: db, sources: map[string]string{}, loaded: map[string]bool{}}, nil
}

// Register associates a table name usable in FROM clauses with a path: a
// single file, a glob (resolved with path/filepath.Glob, which is
// sufficient since the file engine only needs flat *.csv/*.parquet/*.ndjson
// matches rather than ** recursion a third-party matcher would add), or a
// directory. A glob or directory loads the first match with a .csv,
// .parquet, .ndjson or .jsonl extension; other matches are not loaded.
func Register(a *Adapter, name, path string) {
	a.sources[name] = path
	a.InvalidateSchemaCache()
}

func (a *Adapter) Kind() backend.Kind { return backend.KindFile }

func (a *Adapter) Close() error {
	if a.catalog == nil {
		return nil
	}
	return a.catalog.Close()
}

func (a *Adapter) Cancel(ctx context.Context) error { return nil }

func (a *Adapter) Execute(ctx context.Context, text string) (backend.RowSet, error) {
	if err := a.ensureReferencedTablesLoaded(ctx, text); err != nil {
		return nil, err
	}
	stmts := sqlcommon.SplitStatements(text)
	if len(stmts) == 0 {
		return sqlcommon.NewRowSet(nil)
	}
	var allRows []*sql.Rows
	for _, stmt := range stmts {
		rows, err := a.catalog.QueryContext(ctx, stmt)
		if err != nil {
			return nil, backenderr.Queryf(err, "", "query failed")
		}
		allRows = append(allRows, rows)
	}
	return sqlcommon.NewRowSet(allRows)
}

// ensureReferencedTablesLoaded scans text for registered table names and
// lazily materializes any that haven't been loaded into the catalog yet.
// This is a plain substring scan rather than full SQL parsing, matching
// spec's Non-goal of not building a SQL parser: a registered name that
// appears anywhere in the text, even inside a longer word, is loaded.
func (a *Adapter) ensureReferencedTablesLoaded(ctx context.Context, text string) error {
	upper := strings.ToUpper(text)
	for name, path := range a.sources {
		if a.loaded[name] {
			continue
		}
		if !strings.Contains(upper, strings.ToUpper(name)) {
			continue
		}
		if err := a.loadTable(ctx, name, path); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) loadTable(ctx context.Context, name, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	var err error
	switch ext {
	case ".csv":
		err = a.loadCSV(ctx, name, path)
	case ".parquet":
		err = a.loadParquet(ctx, name, path)
	case ".ndjson", ".jsonl":
		err = a.loadNDJSON(ctx, name, path)
	default:
		// A glob or directory: load the first match with a supported
		// extension into the table; further matches are not loaded.
		pattern := path
		if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
			pattern = filepath.Join(path, "*")
		}
		matches, globErr := filepath.Glob(pattern)
		for _, m := range matches {
			switch strings.ToLower(filepath.Ext(m)) {
			case ".csv", ".parquet", ".ndjson", ".jsonl":
				return a.loadTable(ctx, name, m)
			}
		}
		return backenderr.IOf(globErr, "no files matched %q", path)
	}
	if err != nil {
		return err
	}
	a.loaded[name] = true
	a.InvalidateSchemaCache()
	return nil
}

func (a *Adapter) loadCSV(ctx context.Context, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return backenderr.IOf(err, "open %s", path)
	}
	defer f.Close()
	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return backenderr.IOf(err, "read CSV header from %s", path)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = sanitizeColumnName(h)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), columnDefs(cols))
	if _, err := a.catalog.ExecContext(ctx, ddl); err != nil {
		return backenderr.Queryf(err, "", "create catalog table for %s", name)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), placeholders)
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		vals := make([]any, len(record))
		for i, v := range record {
			vals[i] = v
		}
		if _, err := a.catalog.ExecContext(ctx, insert, vals...); err != nil {
			return backenderr.Queryf(err, "", "load row into %s", name)
		}
	}
	return nil
}

func (a *Adapter) loadNDJSON(ctx context.Context, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return backenderr.IOf(err, "open %s", path)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	var rows []map[string]any
	for dec.More() {
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			return backenderr.IOf(err, "decode NDJSON row from %s", path)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return backenderr.IOf(nil, "%s contains no records", path)
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, sanitizeColumnName(k))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), columnDefs(cols))
	if _, err := a.catalog.ExecContext(ctx, ddl); err != nil {
		return backenderr.Queryf(err, "", "create catalog table for %s", name)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), placeholders)
	for _, row := range rows {
		vals := make([]any, len(cols))
		for i, c := range cols {
			v := row[c]
			if m, ok := v.(map[string]any); ok {
				encoded, _ := json.Marshal(m)
				vals[i] = string(encoded)
			} else if arr, ok := v.([]any); ok {
				encoded, _ := json.Marshal(arr)
				vals[i] = string(encoded)
			} else {
				vals[i] = v
			}
		}
		if _, err := a.catalog.ExecContext(ctx, insert, vals...); err != nil {
			return backenderr.Queryf(err, "", "load row into %s", name)
		}
	}
	return nil
}

// loadParquet decodes a Parquet file via apache/arrow-go/v18's file and
// pqarrow readers and re-inserts every row into the SQLite catalog.
// Nested struct/list/map columns are preserved as their JSON encoding so
// the renderer's ComplexValue path can still expand them; only the catalog
// storage is flattened to scalars, not what's shown to the user.
func (a *Adapter) loadParquet(ctx context.Context, name, path string) error {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return backenderr.IOf(err, "open parquet file %s", path)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, nil)
	if err != nil {
		return backenderr.IOf(err, "open parquet reader for %s", path)
	}
	table, err := reader.ReadTable(ctx)
	if err != nil {
		return backenderr.IOf(err, "read parquet table from %s", path)
	}
	defer table.Release()

	schema := table.Schema()
	cols := make([]string, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		cols[i] = sanitizeColumnName(schema.Field(i).Name)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), columnDefs(cols))
	if _, err := a.catalog.ExecContext(ctx, ddl); err != nil {
		return backenderr.Queryf(err, "", "create catalog table for %s", name)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), placeholders)

	tr := arrowTableReader(table)
	for tr.next() {
		vals := tr.row()
		if _, err := a.catalog.ExecContext(ctx, insert, vals...); err != nil {
			return backenderr.Queryf(err, "", "load row into %s", name)
		}
	}
	return nil
}

func columnDefs(cols []string) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c)
	}
	return strings.Join(defs, ", ")
}

func sanitizeColumnName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "col"
	}
	return name
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (a *Adapter) ServerIdentity(ctx context.Context) (backend.Identity, error) {
	return backend.Identity{
		Kind:    backend.KindFile,
		Version: "file-query-engine",
		Capabilities: map[backend.Capability]bool{
			backend.CapJSON: true,
		},
	}, nil
}

func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	return []string{"file"}, nil
}

func (a *Adapter) SwitchDatabase(ctx context.Context, name string) error {
	return backenderr.Unsupportedf("the file engine has a single implicit database")
}

func (a *Adapter) InvalidateSchemaCache() {
	a.cacheOK = false
	a.tables = nil
}

func (a *Adapter) IntrospectTables(ctx context.Context) ([]backend.TableDescriptor, error) {
	if a.cacheOK {
		return a.tables, nil
	}
	out := make([]backend.TableDescriptor, 0, len(a.sources))
	for name := range a.sources {
		out = append(out, backend.TableDescriptor{Name: name, Type: "table"})
	}
	a.tables = out
	a.cacheOK = true
	return out, nil
}

func (a *Adapter) IntrospectColumns(ctx context.Context, table string) ([]backend.ColumnInfo, error) {
	if path, ok := a.sources[table]; ok && !a.loaded[table] {
		if err := a.loadTable(ctx, table, path); err != nil {
			return nil, err
		}
	}
	rows, err := a.catalog.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, backenderr.Protocolf(err, "introspect columns")
	}
	defer rows.Close()
	var out []backend.ColumnInfo
	for rows.Next() {
		var cid int
		var colName, dtype string
		var notNull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &colName, &dtype, &notNull, &dflt, &pk); err != nil {
			return nil, backenderr.Protocolf(err, "scan column row")
		}
		out = append(out, backend.ColumnInfo{Name: colName, Type: dtype, Nullable: notNull == 0})
	}
	return out, nil
}

func (a *Adapter) BeginQueryPlan(ctx context.Context, text string) (*backend.PlanNode, error) {
	if err := a.ensureReferencedTablesLoaded(ctx, text); err != nil {
		return nil, err
	}
	rows, err := a.catalog.QueryxContext(ctx, "EXPLAIN QUERY PLAN "+text)
	if err != nil {
		return nil, backenderr.Queryf(err, "", "explain failed")
	}
	defer rows.Close()
	root := &backend.PlanNode{Operation: "QUERY PLAN"}
	for rows.Next() {
		var id, parent, notused int
		var detail string
		if err := rows.Scan(&id, &parent, &notused, &detail); err != nil {
			return nil, backenderr.Protocolf(err, "scan query plan row")
		}
		root.Children = append(root.Children, &backend.PlanNode{Operation: detail, FullScan: strings.Contains(detail, "SCAN")})
	}
	return root, nil
}

// arrowRowReader iterates an arrow.Table row-by-row, converting each
// column's chunked array into plain Go values for the sqlite insert above.
type arrowRowReader struct {
	table  arrow.Table
	nrows  int64
	pos    int64
	chunks [][]arrow.Array
	offset []int
}

func arrowTableReader(t arrow.Table) *arrowRowReader {
	r := &arrowRowReader{table: t, nrows: t.NumRows()}
	r.chunks = make([][]arrow.Array, t.NumCols())
	r.offset = make([]int, t.NumCols())
	for i := 0; i < int(t.NumCols()); i++ {
		col := t.Column(i)
		r.chunks[i] = col.Data().Chunks()
	}
	return r
}

func (r *arrowRowReader) next() bool {
	if r.pos >= r.nrows {
		return false
	}
	r.pos++
	return true
}

func (r *arrowRowReader) row() []any {
	rowIdx := r.pos - 1
	vals := make([]any, len(r.chunks))
	for col, chunks := range r.chunks {
		vals[col] = valueAtRow(chunks, rowIdx)
	}
	return vals
}

// valueAtRow walks the chunk list to find the chunk containing absolute row
// index idx and extracts its value as a plain Go type, flattening nested
// list/struct values to their JSON text form for SQLite storage.
func valueAtRow(chunks []arrow.Array, idx int64) any {
	var base int64
	for _, chunk := range chunks {
		n := int64(chunk.Len())
		if idx < base+n {
			return scalarFromArray(chunk, int(idx-base))
		}
		base += n
	}
	return nil
}

// scalarFromArray extracts row i of arr as a plain Go value. Scalar Arrow
// types map to their native Go equivalent; list/struct/map columns fall
// back to their JSON marshal form via GetOneForMarshal so nested Parquet
// columns still round-trip into the catalog (and back out through the
// renderer's ComplexValue path) instead of being dropped.
func scalarFromArray(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch arr.DataType().ID() {
	case arrow.STRING, arrow.LARGE_STRING:
		return fmt.Sprintf("%v", arr.GetOneForMarshal(i))
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return arr.GetOneForMarshal(i)
	case arrow.FLOAT32, arrow.FLOAT64:
		return arr.GetOneForMarshal(i)
	case arrow.BOOL:
		return arr.GetOneForMarshal(i)
	default:
		encoded, err := json.Marshal(arr.GetOneForMarshal(i))
		if err != nil {
			return fmt.Sprintf("%v", arr.GetOneForMarshal(i))
		}
		return string(encoded)
	}
}

// Package sqlite implements backend.Adapter over modernc.org/sqlite (a
// cgo-free driver, matching internal/connector/sqlite's choice so
// DBCrust stays a single static binary). The file engine's in-memory
// catalog uses the same driver through its own connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/jmoiron/sqlx"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backend/sqlcommon"
	"github.com/dbcrust/dbcrust/internal/backenderr"
)

type Adapter struct {
	db   *sqlx.DB
	path string

	tables  []backend.TableDescriptor
	cacheOK bool
}

// Dial opens a SQLite database file. path may be ":memory:".
func Dial(ctx context.Context, path string) (*Adapter, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, backenderr.Connectionf(err, "sqlite open")
	}
	// SQLite only tolerates one writer; the REPL issues statements
	// serially, but this still guards against surprises from render
	// goroutines touching the same handle concurrently.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, backenderr.Connectionf(err, "sqlite open")
	}
	return &Adapter{db: db, path: path}, nil
}

func (a *Adapter) Kind() backend.Kind { return backend.KindSQLite }

func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Adapter) Cancel(ctx context.Context) error { return nil }

// Execute splits the submission into individual statements via
// sqlcommon.SplitStatements: modernc.org/sqlite, like database/sql
// generally, does not stream several result sets from one Query call.
func (a *Adapter) Execute(ctx context.Context, text string) (backend.RowSet, error) {
	stmts := sqlcommon.SplitStatements(text)
	if len(stmts) == 0 {
		return sqlcommon.NewRowSet(nil)
	}
	var allRows []*sql.Rows
	for _, stmt := range stmts {
		rows, err := a.db.QueryContext(ctx, stmt)
		if err != nil {
			return nil, classifyQueryErr(err)
		}
		allRows = append(allRows, rows)
	}
	if isDDL(stmts[len(stmts)-1]) {
		a.InvalidateSchemaCache()
	}
	return sqlcommon.NewRowSet(allRows)
}

func isDDL(stmt string) bool {
	s := strings.ToUpper(strings.TrimSpace(stmt))
	for _, kw := range []string{"CREATE ", "ALTER ", "DROP "} {
		if strings.HasPrefix(s, kw) {
			return true
		}
	}
	return false
}

func classifyQueryErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "syntax error"):
		return backenderr.Queryf(err, "", "syntax error")
	case strings.Contains(msg, "no such table"):
		return &backenderr.Error{Kind: backenderr.KindQuery, Message: "no such table", Cause: err}
	case strings.Contains(msg, "UNIQUE constraint"):
		return &backenderr.Error{Kind: backenderr.KindQuery, Message: "unique constraint violation", Cause: err}
	case strings.Contains(msg, "context deadline exceeded"):
		return backenderr.ErrTimeout
	case strings.Contains(msg, "context canceled"):
		return backenderr.ErrCancelled
	default:
		return backenderr.Queryf(err, "", "query failed")
	}
}

func (a *Adapter) ServerIdentity(ctx context.Context) (backend.Identity, error) {
	var version string
	if err := a.db.GetContext(ctx, &version, "SELECT sqlite_version()"); err != nil {
		return backend.Identity{}, backenderr.Protocolf(err, "read sqlite_version")
	}
	caps := map[backend.Capability]bool{
		backend.CapJSON:    true,
		backend.CapCTE:     true,
		backend.CapExplain: true,
	}
	return backend.Identity{Kind: backend.KindSQLite, Version: version, Capabilities: caps}, nil
}

func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	// SQLite has no server-wide database catalog; ATTACH'd databases are
	// the closest analogue, exposed here as a one-entry list naming the
	// currently open file.
	return []string{a.path}, nil
}

func (a *Adapter) SwitchDatabase(ctx context.Context, name string) error {
	return backenderr.Unsupportedf("sqlite has no USE statement; open a new connection with \\c")
}

func (a *Adapter) InvalidateSchemaCache() {
	a.cacheOK = false
	a.tables = nil
}

func (a *Adapter) IntrospectTables(ctx context.Context) ([]backend.TableDescriptor, error) {
	if a.cacheOK {
		return a.tables, nil
	}
	const q = `SELECT name, type FROM sqlite_master WHERE type IN ('table', 'view')
	           AND name NOT LIKE 'sqlite_%' ORDER BY name`
	rows, err := a.db.QueryxContext(ctx, q)
	if err != nil {
		return nil, backenderr.Protocolf(err, "introspect tables")
	}
	defer rows.Close()
	var out []backend.TableDescriptor
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, backenderr.Protocolf(err, "scan table row")
		}
		out = append(out, backend.TableDescriptor{Name: name, Type: typ})
	}
	a.tables = out
	a.cacheOK = true
	return out, nil
}

func (a *Adapter) IntrospectColumns(ctx context.Context, table string) ([]backend.ColumnInfo, error) {
	rows, err := a.db.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdentifier(table)))
	if err != nil {
		return nil, backenderr.Protocolf(err, "introspect columns")
	}
	defer rows.Close()
	var out []backend.ColumnInfo
	for rows.Next() {
		var cid int
		var name, dtype string
		var notNull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &dtype, &notNull, &dflt, &pk); err != nil {
			return nil, backenderr.Protocolf(err, "scan column row")
		}
		out = append(out, backend.ColumnInfo{Name: name, Type: dtype, Nullable: notNull == 0})
	}
	if len(out) == 0 {
		return nil, &backenderr.Error{Kind: backenderr.KindQuery, Message: fmt.Sprintf("no such table: %s", table)}
	}
	return out, nil
}

func (a *Adapter) BeginQueryPlan(ctx context.Context, text string) (*backend.PlanNode, error) {
	rows, err := a.db.QueryxContext(ctx, "EXPLAIN QUERY PLAN "+text)
	if err != nil {
		return nil, classifyQueryErr(err)
	}
	defer rows.Close()
	root := &backend.PlanNode{Operation: "QUERY PLAN"}
	for rows.Next() {
		var id, parent, notused int
		var detail string
		if err := rows.Scan(&id, &parent, &notused, &detail); err != nil {
			return nil, backenderr.Protocolf(err, "scan query plan row")
		}
		root.Children = append(root.Children, &backend.PlanNode{
			Operation: detail,
			FullScan:  strings.Contains(detail, "SCAN"),
		})
	}
	return root, nil
}

// QuoteIdentifier wraps a SQL identifier in double quotes, SQLite's ANSI
// quoting form.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

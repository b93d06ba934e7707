// Package clickhouse implements backend.Adapter for ClickHouse over its
// HTTP interface via clickhouse-go/v2's database/sql driver. ClickHouse is
// not one of internal/connector's original engines; this package follows the same
// sqlx-wrapping shape as internal/backend/postgres and mysql so the four
// relational adapters stay structurally uniform.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backend/sqlcommon"
	"github.com/dbcrust/dbcrust/internal/backenderr"
)

type Adapter struct {
	db       *sqlx.DB
	database string

	tables  []backend.TableDescriptor
	cacheOK bool
}

// Options carries the subset of clickhouse.Options the resolver populates
// from a clickhouse:// URL.
type Options struct {
	Addr     string
	Database string
	User     string
	Password string
	Secure   bool
}

func Dial(ctx context.Context, opt Options) (*Adapter, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{opt.Addr},
		Auth: clickhouse.Auth{
			Database: opt.Database,
			Username: opt.User,
			Password: opt.Password,
		},
		Protocol: clickhouse.HTTP,
	})
	db := sqlx.NewDb(conn, "clickhouse")
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classifyConnectErr(err)
	}
	return &Adapter{db: db, database: opt.Database}, nil
}

func classifyConnectErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "AUTHENTICATION_FAILED") || strings.Contains(msg, "code: 516") {
		return backenderr.Authenticationf(err, "clickhouse authentication failed")
	}
	return backenderr.Connectionf(err, "clickhouse connect")
}

func (a *Adapter) Kind() backend.Kind { return backend.KindClickHouse }

func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Adapter) Cancel(ctx context.Context) error { return nil }

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
	for _, kw := range []string{"CREATE ", "ALTER ", "DROP ", "TRUNCATE ", "RENAME "} {
		if strings.HasPrefix(s, kw) {
			return true
		}
	}
	return false
}

func classifyQueryErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Syntax error"):
		return backenderr.Queryf(err, "", "syntax error")
	case strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "UNKNOWN_TABLE"):
		return &backenderr.Error{Kind: backenderr.KindQuery, Message: "table not found", Cause: err}
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
	if err := a.db.GetContext(ctx, &version, "SELECT version()"); err != nil {
		return backend.Identity{}, backenderr.Protocolf(err, "read version")
	}
	caps := map[backend.Capability]bool{
		backend.CapArrays:   true,
		backend.CapJSON:     true,
		backend.CapExplain:  true,
		backend.CapCTE:      true,
	}
	return backend.Identity{Kind: backend.KindClickHouse, Version: version, Capabilities: caps}, nil
}

func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	var names []string
	if err := a.db.SelectContext(ctx, &names, "SHOW DATABASES"); err != nil {
		return nil, backenderr.Protocolf(err, "list databases")
	}
	return names, nil
}

func (a *Adapter) SwitchDatabase(ctx context.Context, name string) error {
	if _, err := a.db.ExecContext(ctx, "USE "+QuoteIdentifier(name)); err != nil {
		return classifyQueryErr(err)
	}
	a.database = name
	a.InvalidateSchemaCache()
	return nil
}

func (a *Adapter) InvalidateSchemaCache() {
	a.cacheOK = false
	a.tables = nil
}

func (a *Adapter) IntrospectTables(ctx context.Context) ([]backend.TableDescriptor, error) {
	if a.cacheOK {
		return a.tables, nil
	}
	const q = `SELECT name, engine FROM system.tables WHERE database = currentDatabase() ORDER BY name`
	rows, err := a.db.QueryxContext(ctx, q)
	if err != nil {
		return nil, backenderr.Protocolf(err, "introspect tables")
	}
	defer rows.Close()
	var out []backend.TableDescriptor
	for rows.Next() {
		var name, engine string
		if err := rows.Scan(&name, &engine); err != nil {
			return nil, backenderr.Protocolf(err, "scan table row")
		}
		kind := "table"
		if strings.Contains(engine, "View") {
			kind = "view"
		}
		out = append(out, backend.TableDescriptor{Name: name, Type: kind})
	}
	a.tables = out
	a.cacheOK = true
	return out, nil
}

func (a *Adapter) IntrospectColumns(ctx context.Context, table string) ([]backend.ColumnInfo, error) {
	const q = `SELECT name, type FROM system.columns WHERE database = currentDatabase() AND table = ? ORDER BY position`
	rows, err := a.db.QueryxContext(ctx, q, table)
	if err != nil {
		return nil, backenderr.Protocolf(err, "introspect columns")
	}
	defer rows.Close()
	var out []backend.ColumnInfo
	for rows.Next() {
		var name, dtype string
		if err := rows.Scan(&name, &dtype); err != nil {
			return nil, backenderr.Protocolf(err, "scan column row")
		}
		out = append(out, backend.ColumnInfo{
			Name:     name,
			Type:     dtype,
			Nullable: strings.HasPrefix(dtype, "Nullable("),
		})
	}
	if len(out) == 0 {
		return nil, &backenderr.Error{Kind: backenderr.KindQuery, Message: fmt.Sprintf("table %q not found", table)}
	}
	return out, nil
}

func (a *Adapter) BeginQueryPlan(ctx context.Context, text string) (*backend.PlanNode, error) {
	rows, err := a.db.QueryxContext(ctx, "EXPLAIN PLAN "+text)
	if err != nil {
		return nil, classifyQueryErr(err)
	}
	defer rows.Close()
	root := &backend.PlanNode{Operation: "EXPLAIN PLAN"}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, backenderr.Protocolf(err, "scan explain row")
		}
		root.Children = append(root.Children, &backend.PlanNode{Operation: strings.TrimSpace(line)})
	}
	return root, nil
}

// QuoteIdentifier wraps a SQL identifier in backticks, ClickHouse's
// preferred quoting form (double quotes also work but backticks match the
// style of its own client tools).
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

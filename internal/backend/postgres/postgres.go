// Package postgres implements backend.Adapter for PostgreSQL using pgx's
// database/sql shim, grounded on internal/connector/postgres: same
// sqlx.Connect("pgx", dsn) connection setup, same information_schema
// introspection style, generalized from a REST-gateway component to the
// capability interface in internal/backend.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
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

// Dial opens a PostgreSQL connection from a standard postgres:// DSN.
func Dial(ctx context.Context, dsn, database string) (*Adapter, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, backenderr.Connectionf(err, "postgres connect")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classifyConnectErr(err)
	}
	return &Adapter{db: db, database: database}, nil
}

func classifyConnectErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "password authentication failed"), strings.Contains(msg, "SCRAM"):
		return backenderr.Authenticationf(err, "postgres authentication failed")
	case strings.Contains(msg, "certificate"), strings.Contains(msg, "tls"):
		return &backenderr.Error{Kind: backenderr.KindConnection, Message: "postgres TLS handshake failed", Cause: err}
	default:
		return backenderr.Connectionf(err, "postgres connect")
	}
}

func (a *Adapter) Kind() backend.Kind { return backend.KindPostgres }

func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Adapter) Cancel(ctx context.Context) error {
	// pgx's stdlib driver cancels an in-flight query when its context is
	// cancelled; the REPL's SIGINT handler cancels that context, so there
	// is nothing additional to do here beyond satisfying the interface.
	return nil
}

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
	for _, kw := range []string{"CREATE ", "ALTER ", "DROP ", "TRUNCATE "} {
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
		return backenderr.Queryf(err, "42601", "syntax error")
	case strings.Contains(msg, "permission denied"):
		return &backenderr.Error{Kind: backenderr.KindQuery, Message: "permission denied", Cause: err, SQLState: "42501"}
	case strings.Contains(msg, "does not exist"):
		return &backenderr.Error{Kind: backenderr.KindQuery, Message: "object not found", Cause: err, SQLState: "42P01"}
	case strings.Contains(msg, "violates"):
		return &backenderr.Error{Kind: backenderr.KindQuery, Message: "constraint violation", Cause: err, SQLState: "23000"}
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
	if err := a.db.GetContext(ctx, &version, "SHOW server_version"); err != nil {
		return backend.Identity{}, backenderr.Protocolf(err, "read server_version")
	}
	caps := map[backend.Capability]bool{
		backend.CapCTE:          true,
		backend.CapWindowFuncs:  true,
		backend.CapArrays:       true,
		backend.CapJSON:         true,
		backend.CapTextSearch:   true,
		backend.CapRoles:        true,
		backend.CapExplain:      true,
		backend.CapTransactions: true,
	}
	var hasVector bool
	_ = a.db.GetContext(ctx, &hasVector, "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')")
	caps[backend.CapVector] = hasVector
	return backend.Identity{Kind: backend.KindPostgres, Version: version, Capabilities: caps}, nil
}

func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	var names []string
	if err := a.db.SelectContext(ctx, &names, "SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname"); err != nil {
		return nil, backenderr.Protocolf(err, "list databases")
	}
	return names, nil
}

func (a *Adapter) SwitchDatabase(ctx context.Context, name string) error {
	// PostgreSQL has no in-session USE statement; switching databases
	// means reconnecting, which is the resolver's job (\c triggers it).
	return backenderr.Unsupportedf("postgres requires reconnecting to switch databases; use \\c")
}

func (a *Adapter) InvalidateSchemaCache() {
	a.cacheOK = false
	a.tables = nil
}

func (a *Adapter) IntrospectTables(ctx context.Context) ([]backend.TableDescriptor, error) {
	if a.cacheOK {
		return a.tables, nil
	}
	const q = `SELECT table_name, table_type FROM information_schema.tables
	           WHERE table_schema = 'public' ORDER BY table_name`
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
		kind := "table"
		if typ == "VIEW" {
			kind = "view"
		}
		out = append(out, backend.TableDescriptor{Name: name, Type: kind})
	}
	a.tables = out
	a.cacheOK = true
	return out, nil
}

func (a *Adapter) IntrospectColumns(ctx context.Context, table string) ([]backend.ColumnInfo, error) {
	const q = `SELECT column_name, data_type, is_nullable FROM information_schema.columns
	           WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`
	rows, err := a.db.QueryxContext(ctx, q, table)
	if err != nil {
		return nil, backenderr.Protocolf(err, "introspect columns")
	}
	defer rows.Close()
	var out []backend.ColumnInfo
	for rows.Next() {
		var name, dtype, nullable string
		if err := rows.Scan(&name, &dtype, &nullable); err != nil {
			return nil, backenderr.Protocolf(err, "scan column row")
		}
		out = append(out, backend.ColumnInfo{Name: name, Type: dtype, Nullable: nullable == "YES"})
	}
	if len(out) == 0 {
		return nil, &backenderr.Error{Kind: backenderr.KindQuery, Message: fmt.Sprintf("relation %q not found", table), SQLState: "42P01"}
	}
	return out, nil
}

func (a *Adapter) BeginQueryPlan(ctx context.Context, text string) (*backend.PlanNode, error) {
	var raw string
	if err := a.db.GetContext(ctx, &raw, "EXPLAIN (FORMAT JSON) "+text); err != nil {
		return nil, classifyQueryErr(err)
	}
	var plan []struct {
		Plan planJSON `json:"Plan"`
	}
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, backenderr.Protocolf(err, "parse EXPLAIN output")
	}
	if len(plan) == 0 {
		return nil, backenderr.Protocolf(nil, "empty EXPLAIN output")
	}
	return plan[0].Plan.toNode(), nil
}

type planJSON struct {
	NodeType    string     `json:"Node Type"`
	RelationName string    `json:"Relation Name"`
	PlanRows    int64      `json:"Plan Rows"`
	ActualRows  int64      `json:"Actual Rows"`
	Plans       []planJSON `json:"Plans"`
}

func (p planJSON) toNode() *backend.PlanNode {
	n := &backend.PlanNode{
		Operation:  p.NodeType,
		Detail:     p.RelationName,
		EstRows:    p.PlanRows,
		ActualRows: p.ActualRows,
		FullScan:   p.NodeType == "Seq Scan",
	}
	for _, child := range p.Plans {
		n.Children = append(n.Children, child.toNode())
	}
	return n
}

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes. Carried from PostgresConnector.QuoteIdentifier.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

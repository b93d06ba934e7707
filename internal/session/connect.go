// Package session implements the REPL state machine, the backslash
// meta-command dispatcher, and the in-memory session state: the active
// adapter, display toggles, remembered column selections, transient named
// queries, and the last-executed SQL buffer.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backend/clickhouse"
	"github.com/dbcrust/dbcrust/internal/backend/elasticsearch"
	"github.com/dbcrust/dbcrust/internal/backend/fileengine"
	"github.com/dbcrust/dbcrust/internal/backend/mongo"
	"github.com/dbcrust/dbcrust/internal/backend/mysql"
	"github.com/dbcrust/dbcrust/internal/backend/postgres"
	"github.com/dbcrust/dbcrust/internal/backend/sqlite"
	"github.com/dbcrust/dbcrust/internal/backenderr"
)

// Dial dials the adapter matching ci.Kind, exported so the non-interactive
// `-c`/`-f` entry point can connect without going through a REPL.
func Dial(ctx context.Context, ci backend.ConnectionInfo) (backend.Adapter, error) {
	return connect(ctx, ci)
}

// connect dials the adapter matching ci.Kind from the resolved
// ConnectionInfo, in the form each per-adapter Dial function expects: a
// native config for MySQL and ClickHouse, a DSN or URI string for Postgres
// and Mongo, an address for Elasticsearch, and a path for SQLite and files.
func connect(ctx context.Context, ci backend.ConnectionInfo) (backend.Adapter, error) {
	host, port := ci.Endpoint()
	switch ci.Kind {
	case backend.KindPostgres:
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", ci.User, ci.Password, host, port, ci.Database)
		if q := encodeParams(ci.Params); q != "" {
			dsn += "?" + q
		}
		return postgres.Dial(ctx, dsn, ci.Database)
	case backend.KindMySQL:
		cfg := mysqldriver.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", host, port)
		cfg.User = ci.User
		cfg.Passwd = ci.Password
		cfg.DBName = ci.Database
		return mysql.Dial(ctx, *cfg)
	case backend.KindSQLite:
		return sqlite.Dial(ctx, ci.Database)
	case backend.KindClickHouse:
		return clickhouse.Dial(ctx, clickhouse.Options{
			Addr:     fmt.Sprintf("%s:%d", host, port),
			Database: ci.Database,
			User:     ci.User,
			Password: ci.Password,
			Secure:   ci.TLS != nil && ci.TLS.Enabled,
		})
	case backend.KindMongo:
		uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", ci.User, ci.Password, host, port)
		if ci.Database != "" {
			uri += "/" + ci.Database
		}
		return mongo.Dial(ctx, uri, ci.Database)
	case backend.KindElasticsearch:
		scheme := "http"
		if ci.TLS != nil && ci.TLS.Enabled {
			scheme = "https"
		}
		addr := fmt.Sprintf("%s://%s:%d", scheme, host, port)
		return elasticsearch.Dial(ctx, addr, ci.User, ci.Password)
	case backend.KindFile:
		adapter, err := fileengine.New(ctx)
		if err != nil {
			return nil, err
		}
		fileengine.Register(adapter, defaultFileTableName(ci.Database), ci.Database)
		return adapter, nil
	default:
		return nil, backenderr.Unsupportedf("unknown backend kind %q", ci.Kind)
	}
}

// defaultFileTableName derives the table name a bare `\c parquet://path`
// connection registers automatically, so a query can reference it without
// first running \register: the file's base name, stem only.
func defaultFileTableName(path string) string {
	base := filepath.Base(strings.TrimSuffix(path, string(filepath.Separator)))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func encodeParams(params map[string]string) string {
	out := ""
	for k, v := range params {
		if out != "" {
			out += "&"
		}
		out += k + "=" + v
	}
	return out
}

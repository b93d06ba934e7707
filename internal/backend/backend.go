// Package backend defines the capability interface every database adapter
// implements, so the REPL, the result renderer, and the meta-command
// dispatcher are written once against the abstraction. Adding a backend
// means implementing Adapter; no other package changes.
package backend

import (
	"context"
	"time"
)

// Kind tags which engine an adapter, or a resolved ConnectionInfo, belongs
// to. It is a plain string enum rather than an interface type switch so
// that dispatch tables (one entry per Kind) stay exhaustive and easy to
// read, matching the style of internal/connector's driver-name strings.
type Kind string

const (
	KindPostgres      Kind = "postgres"
	KindMySQL         Kind = "mysql"
	KindSQLite        Kind = "sqlite"
	KindClickHouse    Kind = "clickhouse"
	KindMongo         Kind = "mongodb"
	KindElasticsearch Kind = "elasticsearch"
	KindFile          Kind = "file"
)

// Capability is a single optional feature flag reported by ServerIdentity.
type Capability string

const (
	CapRoles         Capability = "roles"
	CapCTE           Capability = "cte"
	CapWindowFuncs   Capability = "window_functions"
	CapArrays        Capability = "arrays"
	CapJSON          Capability = "json_types"
	CapTextSearch    Capability = "text_search"
	CapVector        Capability = "vector_ops"
	CapExplain       Capability = "explain"
	CapTransactions  Capability = "transactions"
)

// Identity describes the connected server: its kind, reported version
// string, and the optional capabilities it advertises.
type Identity struct {
	Kind         Kind
	Version      string
	Capabilities map[Capability]bool
}

// Has reports whether the identity advertises a capability.
func (id Identity) Has(c Capability) bool { return id.Capabilities[c] }

// ConnectionInfo is the fully resolved form of a connection: every field
// the resolver could determine, ready to hand to an Adapter's Connect. It
// is never mutated after construction; a reconnect builds a fresh value.
type ConnectionInfo struct {
	Kind     Kind
	Host     string
	Port     int
	User     string
	Password string // Resolved; never logged, never persisted verbatim.
	Database string
	Params   map[string]string // Driver-specific extras (sslmode, options, ...).

	TLS *TLSConfig

	// Tunnel, when non-nil, describes the SSH-forwarded local endpoint the
	// adapter should actually dial instead of Host/Port.
	Tunnel *TunnelInfo

	// DynamicCredential, when non-nil, records the vault:// source this
	// connection's credential came from, for cache bookkeeping.
	DynamicCredential *DynamicCredentialRef

	// DisplayURL is the connection string with any password stripped,
	// suitable for recent-connection and saved-session persistence.
	DisplayURL string
}

// TLSConfig carries the subset of TLS parameters the resolver understands
// from URL query parameters (sslmode=require, sslrootcert=..., etc).
type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
	CACertPath         string
	ClientCertPath     string
	ClientKeyPath      string
}

// TunnelInfo is the address an adapter should dial once an SSH tunnel has
// been established; it mirrors tunnel.Tunnel without importing that
// package (which would create an import cycle with internal/resolver).
type TunnelInfo struct {
	LocalHost string
	LocalPort int
}

// DynamicCredentialRef identifies which vault mount/role produced the
// password on a ConnectionInfo, so renewal can find the right cache entry.
type DynamicCredentialRef struct {
	Mount string
	Role  string
}

// Endpoint returns the host/port an adapter should actually dial: the
// tunnel's local endpoint if one is attached, otherwise Host/Port.
func (ci ConnectionInfo) Endpoint() (string, int) {
	if ci.Tunnel != nil {
		return ci.Tunnel.LocalHost, ci.Tunnel.LocalPort
	}
	return ci.Host, ci.Port
}

// CellKind tags the semantic type of a rendered cell value.
type CellKind int

const (
	CellNull CellKind = iota
	CellBool
	CellInteger
	CellFloat
	CellText
	CellBytes
	CellTemporal
	CellJSON
	CellArray
	CellDocument
	CellVector
	CellGeometry
	CellRaw
)

// Cell is a single tagged value within a row.
type Cell struct {
	Kind  CellKind
	Value any
}

// ColumnDescriptor names a result column and its semantic type.
type ColumnDescriptor struct {
	Name string
	Kind CellKind
	// Native is the backend's own type name (e.g. "numeric", "ObjectId"),
	// kept for the renderer's scalar formatter and for \d output.
	Native string
}

// RowSet is a lazily-pulled sequence of result rows. Rendering consumes it
// streamingly when the backend supports it; adapters that must buffer
// (e.g. after running a full native query) still satisfy this interface
// by iterating a pre-fetched slice.
type RowSet interface {
	// Columns returns the column descriptors for the current result set.
	// Its length equals every row's cell count (spec invariant).
	Columns() []ColumnDescriptor
	// Next advances to the next row, returning false at end-of-results or
	// on error (check Err after Next returns false).
	Next(ctx context.Context) bool
	// Scan returns the current row's cells, one per column.
	Scan() ([]Cell, error)
	// Err returns the first error encountered during iteration.
	Err() error
	// Close releases any resources (e.g. a streaming cursor). Idempotent.
	Close() error
	// HasMore reports whether the backend produced additional result sets
	// for a multi-statement submission, addressable in order.
	HasMore() bool
	// Advance moves to the next result set when HasMore reports true. A
	// RowSet with no further result sets returns nil and leaves the
	// cursor where it is.
	Advance() error
}

// TableDescriptor summarizes one introspected table/collection/index for
// \dt and completion hints.
type TableDescriptor struct {
	Name string
	Type string // "table", "view", "collection", "index", ...
}

// ColumnInfo describes one column/field for \d output, including nested
// struct fields for document-shaped backends.
type ColumnInfo struct {
	Name     string
	Type     string
	Nullable bool
	Nested   []ColumnInfo // populated for struct/array/map cell types
}

// PlanNode is one node of an EXPLAIN-style tree the renderer draws.
type PlanNode struct {
	Operation   string
	Detail      string
	EstRows     int64
	ActualRows  int64
	Duration    time.Duration
	FullScan    bool
	Children    []*PlanNode
}

// Adapter is a live connection to one database backend. Every operation
// returns a typed error from package backenderr; unsupported operations
// return backenderr.Unsupportedf rather than panicking, so the REPL and
// renderer never need backend-specific type switches.
type Adapter interface {
	// Execute runs text (which may contain multiple statements) against
	// the backend and returns the resulting RowSet(s) in submission order.
	Execute(ctx context.Context, text string) (RowSet, error)

	IntrospectTables(ctx context.Context) ([]TableDescriptor, error)
	IntrospectColumns(ctx context.Context, table string) ([]ColumnInfo, error)
	// InvalidateSchemaCache drops any cached introspection results; called
	// on \d-style refresh and after DDL execution.
	InvalidateSchemaCache()

	ServerIdentity(ctx context.Context) (Identity, error)

	ListDatabases(ctx context.Context) ([]string, error)
	SwitchDatabase(ctx context.Context, name string) error

	BeginQueryPlan(ctx context.Context, text string) (*PlanNode, error)

	// Cancel best-effort cancels whatever operation Execute is currently
	// blocked on, using the backend's native cancellation mechanism.
	Cancel(ctx context.Context) error

	// Close idempotently releases all network resources and signals
	// tunnel teardown if this adapter was the tunnel's last referrer.
	Close() error

	Kind() Kind
}

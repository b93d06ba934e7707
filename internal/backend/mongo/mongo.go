// Package mongo implements backend.Adapter for MongoDB by translating the
// accepted SQL subset (parsed by internal/backend/docquery) into native driver calls. There is
// no relational precedent for a document-store adapter; the shape follows
// internal/backend.Adapter directly and reuses internal/filterexpr (itself
// grounded on the WHERE-clause parser) for the WHERE translation.
package mongo

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backend/docquery"
	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/filterexpr"
)

type Adapter struct {
	client   *mongo.Client
	dbName   string
	tables   []backend.TableDescriptor
	cacheOK  bool
}

func Dial(ctx context.Context, uri, dbName string) (*Adapter, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, backenderr.Connectionf(err, "mongo connect")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, classifyConnectErr(err)
	}
	return &Adapter{client: client, dbName: dbName}, nil
}

func classifyConnectErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "Authentication failed") {
		return backenderr.Authenticationf(err, "mongo authentication failed")
	}
	return backenderr.Connectionf(err, "mongo connect")
}

func (a *Adapter) Kind() backend.Kind { return backend.KindMongo }

func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(context.Background())
}

func (a *Adapter) Cancel(ctx context.Context) error { return nil }

func (a *Adapter) db() *mongo.Database { return a.client.Database(a.dbName) }

func (a *Adapter) Execute(ctx context.Context, text string) (backend.RowSet, error) {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "CREATE DATABASE"):
		return a.createDatabase(ctx, trimmed)
	case strings.HasPrefix(upper, "DROP DATABASE"):
		return a.dropDatabase(ctx, trimmed)
	case strings.HasPrefix(upper, "CREATE COLLECTION"), strings.HasPrefix(upper, "CREATE TABLE"):
		return a.createCollection(ctx, trimmed)
	case strings.HasPrefix(upper, "DROP COLLECTION"), strings.HasPrefix(upper, "DROP TABLE"):
		return a.dropCollection(ctx, trimmed)
	case strings.HasPrefix(upper, "SELECT"):
		return a.runSelect(ctx, trimmed)
	default:
		return nil, backenderr.Unsupportedf("statement not supported against a document backend: %q", trimmed)
	}
}

func lastWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[len(fields)-1], `"`+"`;")
}

func (a *Adapter) createDatabase(ctx context.Context, text string) (backend.RowSet, error) {
	name := lastWord(text)
	// MongoDB creates a database lazily on first write; a placeholder
	// collection materializes it immediately so \l shows it right away.
	if err := a.client.Database(name).CreateCollection(ctx, "_dbcrust_init"); err != nil {
		return nil, backenderr.Protocolf(err, "create database")
	}
	return emptyRowSet(), nil
}

func (a *Adapter) dropDatabase(ctx context.Context, text string) (backend.RowSet, error) {
	name := lastWord(text)
	if err := a.client.Database(name).Drop(ctx); err != nil {
		return nil, backenderr.Protocolf(err, "drop database")
	}
	return emptyRowSet(), nil
}

func (a *Adapter) createCollection(ctx context.Context, text string) (backend.RowSet, error) {
	name := lastWord(text)
	if err := a.db().CreateCollection(ctx, name); err != nil {
		return nil, backenderr.Protocolf(err, "create collection")
	}
	a.InvalidateSchemaCache()
	return emptyRowSet(), nil
}

func (a *Adapter) dropCollection(ctx context.Context, text string) (backend.RowSet, error) {
	name := lastWord(text)
	if err := a.db().Collection(name).Drop(ctx); err != nil {
		return nil, backenderr.Protocolf(err, "drop collection")
	}
	a.InvalidateSchemaCache()
	return emptyRowSet(), nil
}

func (a *Adapter) runSelect(ctx context.Context, text string) (backend.RowSet, error) {
	stmt, err := docquery.ParseSelect(text)
	if err != nil {
		return nil, err
	}
	filter := bson.M{}
	if stmt.Filter != nil {
		for k, v := range filterexpr.ToMongoFilter(stmt.Filter) {
			filter[k] = v
		}
	}
	opts := options.Find()
	if stmt.Limit > 0 {
		opts.SetLimit(stmt.Limit)
	}
	if stmt.OrderBy != "" {
		dir := 1
		if stmt.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: stmt.OrderBy, Value: dir}})
	}
	projection, arrayExcluded, err := buildProjection(ctx, a.db().Collection(stmt.Collection), stmt.Columns)
	if err != nil {
		return nil, err
	}
	if projection != nil {
		opts.SetProjection(projection)
	}

	cur, err := a.db().Collection(stmt.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, classifyQueryErr(err)
	}
	return newDocRowSet(ctx, cur, arrayExcluded)
}

// buildProjection implements "SELECT *" array-field exclusion:
// when the caller asked for every field, top-level array fields are
// enumerated from a sample document and excluded from the projection, since
// rendering an arbitrary-length array inline in a table row is useless; the
// row set omits those columns as well.
func buildProjection(ctx context.Context, coll *mongo.Collection, cols []string) (bson.M, []string, error) {
	if len(cols) > 0 {
		proj := bson.M{}
		for _, c := range cols {
			proj[c] = 1
		}
		return proj, nil, nil
	}
	var sample bson.M
	err := coll.FindOne(ctx, bson.M{}).Decode(&sample)
	if err == mongo.ErrNoDocuments {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, backenderr.Protocolf(err, "sample document for projection")
	}
	var arrayFields []string
	for k, v := range sample {
		if _, ok := v.(bson.A); ok {
			arrayFields = append(arrayFields, k)
		}
	}
	if len(arrayFields) == 0 {
		return nil, nil, nil
	}
	proj := bson.M{}
	for _, f := range arrayFields {
		proj[f] = 0
	}
	return proj, arrayFields, nil
}

func classifyQueryErr(err error) error {
	if strings.Contains(err.Error(), "ns not found") {
		return &backenderr.Error{Kind: backenderr.KindQuery, Message: "collection not found", Cause: err}
	}
	return backenderr.Queryf(err, "", "query failed")
}

func (a *Adapter) ServerIdentity(ctx context.Context) (backend.Identity, error) {
	var result bson.M
	if err := a.db().RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&result); err != nil {
		return backend.Identity{}, backenderr.Protocolf(err, "buildInfo")
	}
	version, _ := result["version"].(string)
	caps := map[backend.Capability]bool{
		backend.CapJSON:        true,
		backend.CapTextSearch:  true,
		backend.CapTransactions: true,
	}
	return backend.Identity{Kind: backend.KindMongo, Version: version, Capabilities: caps}, nil
}

func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	names, err := a.client.ListDatabaseNames(ctx, bson.M{})
	if err != nil {
		return nil, backenderr.Protocolf(err, "list databases")
	}
	return names, nil
}

func (a *Adapter) SwitchDatabase(ctx context.Context, name string) error {
	a.dbName = name
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
	names, err := a.db().ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, backenderr.Protocolf(err, "list collections")
	}
	out := make([]backend.TableDescriptor, len(names))
	for i, n := range names {
		out[i] = backend.TableDescriptor{Name: n, Type: "collection"}
	}
	a.tables = out
	a.cacheOK = true
	return out, nil
}

func (a *Adapter) IntrospectColumns(ctx context.Context, collection string) ([]backend.ColumnInfo, error) {
	var sample bson.M
	err := a.db().Collection(collection).FindOne(ctx, bson.M{}).Decode(&sample)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, backenderr.Protocolf(err, "sample document for introspection")
	}
	return fieldsFromDocument(sample), nil
}

func fieldsFromDocument(doc bson.M) []backend.ColumnInfo {
	var out []backend.ColumnInfo
	for k, v := range doc {
		info := backend.ColumnInfo{Name: k, Type: mongoTypeName(v), Nullable: v == nil}
		if nested, ok := v.(bson.M); ok {
			info.Nested = fieldsFromDocument(nested)
		}
		out = append(out, info)
	}
	return out
}

func mongoTypeName(v any) string {
	switch v.(type) {
	case bson.A:
		return "array"
	case bson.M, bson.D:
		return "object"
	case string:
		return "string"
	case int32, int64, int:
		return "int"
	case float64:
		return "double"
	case bool:
		return "bool"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func (a *Adapter) BeginQueryPlan(ctx context.Context, text string) (*backend.PlanNode, error) {
	stmt, err := docquery.ParseSelect(text)
	if err != nil {
		return nil, err
	}
	filter := bson.M{}
	if stmt.Filter != nil {
		filter = filterexpr.ToMongoFilter(stmt.Filter)
	}
	var explain bson.M
	cmd := bson.D{
		{Key: "explain", Value: bson.D{
			{Key: "find", Value: stmt.Collection},
			{Key: "filter", Value: filter},
		}},
		{Key: "verbosity", Value: "executionStats"},
	}
	if err := a.db().RunCommand(ctx, cmd).Decode(&explain); err != nil {
		return nil, backenderr.Protocolf(err, "explain")
	}
	stats, _ := explain["executionStats"].(bson.M)
	winningPlan, _ := explain["queryPlanner"].(bson.M)["winningPlan"].(bson.M)
	stage, _ := winningPlan["stage"].(string)
	node := &backend.PlanNode{Operation: stage, FullScan: stage == "COLLSCAN"}
	if stats != nil {
		if n, ok := stats["nReturned"].(int32); ok {
			node.ActualRows = int64(n)
		}
	}
	return node, nil
}

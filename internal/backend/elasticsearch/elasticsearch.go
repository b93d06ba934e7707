// Package elasticsearch implements backend.Adapter against Elasticsearch's
// SQL-like index/document model, translating the same SQL subset the mongo
// package accepts (parsed by internal/backend/docquery, shared with the mongo
// package rather than duplicated) into Query DSL via _search, and introspection via
// _field_caps. There is no teacher precedent for a search-engine adapter;
// the shape mirrors internal/backend/mongo since both are document stores
// reached over a non-database/sql client.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backend/docquery"
	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/filterexpr"
)

type Adapter struct {
	client  *elasticsearch.Client
	tables  []backend.TableDescriptor
	cacheOK bool
}

func Dial(ctx context.Context, addr, user, password string) (*Adapter, error) {
	cfg := elasticsearch.Config{Addresses: []string{addr}, Username: user, Password: password}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, backenderr.Connectionf(err, "elasticsearch client")
	}
	res, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return nil, backenderr.Connectionf(err, "elasticsearch connect")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, classifyStatus(res)
	}
	return &Adapter{client: client}, nil
}

func classifyStatus(res *esapi.Response) error {
	switch res.StatusCode {
	case 401, 403:
		return backenderr.Authenticationf(fmt.Errorf("status %s", res.Status()), "elasticsearch authentication failed")
	default:
		return backenderr.Protocolf(fmt.Errorf("status %s", res.Status()), "elasticsearch request")
	}
}

func (a *Adapter) Kind() backend.Kind { return backend.KindElasticsearch }

func (a *Adapter) Close() error      { return nil }
func (a *Adapter) Cancel(context.Context) error { return nil }

func (a *Adapter) Execute(ctx context.Context, text string) (backend.RowSet, error) {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"), strings.HasPrefix(upper, "CREATE INDEX"):
		return a.createIndex(ctx, indexNameFromDDL(trimmed))
	case strings.HasPrefix(upper, "DROP TABLE"), strings.HasPrefix(upper, "DROP INDEX"):
		return a.dropIndex(ctx, indexNameFromDDL(trimmed))
	case strings.HasPrefix(upper, "SELECT"):
		return a.runSelect(ctx, trimmed)
	default:
		return nil, backenderr.Unsupportedf("statement not supported against elasticsearch: %q", trimmed)
	}
}

func indexNameFromDDL(text string) string {
	fields := strings.Fields(text)
	name := fields[len(fields)-1]
	return quoteIndexIfNeeded(strings.Trim(name, `"`+"`;"))
}

// quoteIndexIfNeeded is a no-op passthrough placeholder for index names
// that contain "." or "-": Elasticsearch accepts such names directly in the
// URL path, unlike SQL identifiers that need quoting in a relational
// dialect, so this just documents that the raw name is already valid here.
func quoteIndexIfNeeded(name string) string { return name }

func (a *Adapter) createIndex(ctx context.Context, name string) (backend.RowSet, error) {
	res, err := a.client.Indices.Create(name, a.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return nil, backenderr.Protocolf(err, "create index")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, classifyStatus(res)
	}
	a.InvalidateSchemaCache()
	return emptyRowSet(), nil
}

func (a *Adapter) dropIndex(ctx context.Context, name string) (backend.RowSet, error) {
	res, err := a.client.Indices.Delete([]string{name}, a.client.Indices.Delete.WithContext(ctx))
	if err != nil {
		return nil, backenderr.Protocolf(err, "drop index")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, classifyStatus(res)
	}
	a.InvalidateSchemaCache()
	return emptyRowSet(), nil
}

func (a *Adapter) runSelect(ctx context.Context, text string) (backend.RowSet, error) {
	stmt, err := docquery.ParseSelect(text)
	if err != nil {
		return nil, err
	}
	query := map[string]any{"query": map[string]any{"match_all": map[string]any{}}}
	if stmt.Filter != nil {
		query["query"] = filterexpr.ToElasticQuery(stmt.Filter)
	}
	if stmt.Limit > 0 {
		query["size"] = stmt.Limit
	}
	if stmt.OrderBy != "" {
		order := "asc"
		if stmt.Descending {
			order = "desc"
		}
		query["sort"] = []map[string]any{{stmt.OrderBy: map[string]any{"order": order}}}
	}
	if len(stmt.Columns) > 0 {
		query["_source"] = stmt.Columns
	}

	arrayExcluded, err := excludedArrayFields(ctx, a.client, stmt.Collection, stmt.Columns)
	if err != nil {
		return nil, err
	}
	if len(stmt.Columns) == 0 && len(arrayExcluded) > 0 {
		query["_source"] = map[string]any{"excludes": arrayExcluded}
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, backenderr.Protocolf(err, "encode search body")
	}
	res, err := a.client.Search(
		a.client.Search.WithContext(ctx),
		a.client.Search.WithIndex(stmt.Collection),
		a.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, backenderr.Protocolf(err, "search")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, classifyStatus(res)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, backenderr.IOf(err, "read search response")
	}
	return newHitRowSet(raw, arrayExcluded)
}

// excludedArrayFields implements the same SELECT * array-exclusion rule as
// the mongo adapter, sourced from field_caps rather than a sample document
// since Elasticsearch exposes mapping types directly.
func excludedArrayFields(ctx context.Context, client *elasticsearch.Client, index string, cols []string) ([]string, error) {
	if len(cols) > 0 {
		return nil, nil
	}
	res, err := client.FieldCaps(
		client.FieldCaps.WithContext(ctx),
		client.FieldCaps.WithIndex(index),
		client.FieldCaps.WithFields("*"),
	)
	if err != nil {
		return nil, backenderr.Protocolf(err, "field_caps")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, classifyStatus(res)
	}
	var parsed struct {
		Fields map[string]map[string]struct {
			Type string `json:"type"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, backenderr.Protocolf(err, "decode field_caps")
	}
	var arrays []string
	for name, types := range parsed.Fields {
		for _, t := range types {
			if t.Type == "nested" {
				arrays = append(arrays, name)
			}
		}
	}
	sort.Strings(arrays)
	return arrays, nil
}

func (a *Adapter) ServerIdentity(ctx context.Context) (backend.Identity, error) {
	res, err := a.client.Info(a.client.Info.WithContext(ctx))
	if err != nil {
		return backend.Identity{}, backenderr.Protocolf(err, "info")
	}
	defer res.Body.Close()
	var parsed struct {
		Version struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return backend.Identity{}, backenderr.Protocolf(err, "decode info")
	}
	caps := map[backend.Capability]bool{
		backend.CapJSON:       true,
		backend.CapTextSearch: true,
	}
	return backend.Identity{Kind: backend.KindElasticsearch, Version: parsed.Version.Number, Capabilities: caps}, nil
}

func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	res, err := a.client.Cat.Indices(a.client.Cat.Indices.WithContext(ctx), a.client.Cat.Indices.WithFormat("json"))
	if err != nil {
		return nil, backenderr.Protocolf(err, "cat indices")
	}
	defer res.Body.Close()
	var rows []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, backenderr.Protocolf(err, "decode cat indices")
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Index
	}
	return names, nil
}

func (a *Adapter) SwitchDatabase(ctx context.Context, name string) error {
	return backenderr.Unsupportedf("elasticsearch has no database concept; qualify queries by index name instead")
}

func (a *Adapter) InvalidateSchemaCache() {
	a.cacheOK = false
	a.tables = nil
}

func (a *Adapter) IntrospectTables(ctx context.Context) ([]backend.TableDescriptor, error) {
	if a.cacheOK {
		return a.tables, nil
	}
	names, err := a.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]backend.TableDescriptor, len(names))
	for i, n := range names {
		out[i] = backend.TableDescriptor{Name: n, Type: "index"}
	}
	a.tables = out
	a.cacheOK = true
	return out, nil
}

func (a *Adapter) IntrospectColumns(ctx context.Context, index string) ([]backend.ColumnInfo, error) {
	res, err := a.client.FieldCaps(
		a.client.FieldCaps.WithContext(ctx),
		a.client.FieldCaps.WithIndex(index),
		a.client.FieldCaps.WithFields("*"),
	)
	if err != nil {
		return nil, backenderr.Protocolf(err, "field_caps")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, classifyStatus(res)
	}
	var parsed struct {
		Fields map[string]map[string]struct {
			Type         string `json:"type"`
			Searchable   bool   `json:"searchable"`
			Aggregatable bool   `json:"aggregatable"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, backenderr.Protocolf(err, "decode field_caps")
	}
	names := make([]string, 0, len(parsed.Fields))
	for name := range parsed.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]backend.ColumnInfo, 0, len(names))
	for _, name := range names {
		for _, t := range parsed.Fields[name] {
			typ := t.Type
			var flags []string
			if t.Searchable {
				flags = append(flags, "searchable")
			}
			if t.Aggregatable {
				flags = append(flags, "aggregatable")
			}
			if len(flags) > 0 {
				typ += " [" + strings.Join(flags, ",") + "]"
			}
			out = append(out, backend.ColumnInfo{Name: name, Type: typ, Nullable: true})
			break
		}
	}
	return out, nil
}

func (a *Adapter) BeginQueryPlan(ctx context.Context, text string) (*backend.PlanNode, error) {
	return nil, backenderr.Unsupportedf("elasticsearch adapter does not expose a query plan")
}

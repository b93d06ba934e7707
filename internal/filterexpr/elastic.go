package filterexpr

// ToElasticQuery translates the tree into an Elasticsearch Query DSL
// document, the same shape ToMongoFilter produces for Mongo: a plain map so
// this package stays free of a client-library dependency. Range and term
// queries follow the DSL's standard "bool"/"range"/"term" vocabulary.
func ToElasticQuery(e *Expr) map[string]any {
	if e == nil {
		return map[string]any{"match_all": map[string]any{}}
	}
	switch e.Op {
	case OpAnd:
		return boolQuery("must", ToElasticQuery(e.Left), ToElasticQuery(e.Right))
	case OpOr:
		return boolQuery("should", ToElasticQuery(e.Left), ToElasticQuery(e.Right))
	case OpNot:
		return boolQuery("must_not", ToElasticQuery(e.Left))
	case OpEq:
		return map[string]any{"term": map[string]any{e.Column: e.Value}}
	case OpNeq:
		return boolQuery("must_not", map[string]any{"term": map[string]any{e.Column: e.Value}})
	case OpLt:
		return rangeQuery(e.Column, "lt", e.Value)
	case OpLte:
		return rangeQuery(e.Column, "lte", e.Value)
	case OpGt:
		return rangeQuery(e.Column, "gt", e.Value)
	case OpGte:
		return rangeQuery(e.Column, "gte", e.Value)
	case OpIn:
		return map[string]any{"terms": map[string]any{e.Column: e.Values}}
	case OpNotIn:
		return boolQuery("must_not", map[string]any{"terms": map[string]any{e.Column: e.Values}})
	case OpBetween:
		return map[string]any{"range": map[string]any{e.Column: map[string]any{"gte": e.Low, "lte": e.High}}}
	case OpNotBetween:
		return boolQuery("must_not", map[string]any{"range": map[string]any{e.Column: map[string]any{"gte": e.Low, "lte": e.High}}})
	case OpIsNull:
		return boolQuery("must_not", map[string]any{"exists": map[string]any{"field": e.Column}})
	case OpIsNotNull:
		return map[string]any{"exists": map[string]any{"field": e.Column}}
	case OpLike:
		pattern, _ := e.Value.(string)
		return map[string]any{"regexp": map[string]any{e.Column: map[string]any{"value": LikeToRegex(pattern), "case_insensitive": true}}}
	case OpNotLike:
		pattern, _ := e.Value.(string)
		return boolQuery("must_not", map[string]any{"regexp": map[string]any{e.Column: map[string]any{"value": LikeToRegex(pattern), "case_insensitive": true}}})
	}
	return map[string]any{"match_all": map[string]any{}}
}

func boolQuery(clause string, queries ...map[string]any) map[string]any {
	list := make([]any, len(queries))
	for i, q := range queries {
		list[i] = q
	}
	return map[string]any{"bool": map[string]any{clause: list}}
}

func rangeQuery(column, op string, value any) map[string]any {
	return map[string]any{"range": map[string]any{column: map[string]any{op: value}}}
}

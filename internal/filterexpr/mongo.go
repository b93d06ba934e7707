package filterexpr

import "strings"

// ToMongoFilter translates the tree into a MongoDB filter document
// (returned as a plain map so this package stays free of a mongo-driver
// dependency; internal/backend/mongo converts it to bson.M, whose
// underlying type is identical).
//
// LIKE translation: "%" becomes ".*", "_" becomes ".", every other regex
// metacharacter in the pattern is escaped first, and matching is
// case-insensitive ($options: "i"). The regex is not anchored, so it matches
// anywhere in the value, which is looser than SQL LIKE. IS NULL
// matches documents where the field is literally null OR absent, via
// Mongo's native behavior for {field: null} — which already matches
// missing fields, so no extra $or is required.
func ToMongoFilter(e *Expr) map[string]any {
	if e == nil {
		return map[string]any{}
	}
	switch e.Op {
	case OpAnd:
		return map[string]any{"$and": []any{ToMongoFilter(e.Left), ToMongoFilter(e.Right)}}
	case OpOr:
		return map[string]any{"$or": []any{ToMongoFilter(e.Left), ToMongoFilter(e.Right)}}
	case OpNot:
		return map[string]any{"$nor": []any{ToMongoFilter(e.Left)}}
	case OpEq:
		return map[string]any{e.Column: e.Value}
	case OpNeq:
		return map[string]any{e.Column: map[string]any{"$ne": e.Value}}
	case OpLt:
		return map[string]any{e.Column: map[string]any{"$lt": e.Value}}
	case OpLte:
		return map[string]any{e.Column: map[string]any{"$lte": e.Value}}
	case OpGt:
		return map[string]any{e.Column: map[string]any{"$gt": e.Value}}
	case OpGte:
		return map[string]any{e.Column: map[string]any{"$gte": e.Value}}
	case OpIn:
		return map[string]any{e.Column: map[string]any{"$in": e.Values}}
	case OpNotIn:
		return map[string]any{e.Column: map[string]any{"$nin": e.Values}}
	case OpBetween:
		return map[string]any{e.Column: map[string]any{"$gte": e.Low, "$lte": e.High}}
	case OpNotBetween:
		return map[string]any{
			"$or": []any{
				map[string]any{e.Column: map[string]any{"$lt": e.Low}},
				map[string]any{e.Column: map[string]any{"$gt": e.High}},
			},
		}
	case OpIsNull:
		return map[string]any{e.Column: nil}
	case OpIsNotNull:
		return map[string]any{e.Column: map[string]any{"$ne": nil}}
	case OpLike:
		pattern, _ := e.Value.(string)
		return map[string]any{e.Column: map[string]any{"$regex": LikeToRegex(pattern), "$options": "i"}}
	case OpNotLike:
		pattern, _ := e.Value.(string)
		return map[string]any{e.Column: map[string]any{"$not": map[string]any{"$regex": LikeToRegex(pattern), "$options": "i"}}}
	}
	return map[string]any{}
}

// regexMeta lists the characters LikeToRegex must backslash-escape before
// substituting the SQL wildcards, so a literal regex metacharacter in the
// LIKE pattern (e.g. ".") matches only itself rather than acting as a
// regex operator.
const regexMeta = `\.+*?()|[]{}^$`

// LikeToRegex converts a SQL LIKE pattern into an unanchored regular
// expression: "%" -> ".*", "_" -> ".", with every other regex
// metacharacter escaped first so it matches literally.
func LikeToRegex(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		default:
			if strings.ContainsRune(regexMeta, r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

package filterexpr

import "strings"

// PlaceholderFunc returns the SQL placeholder text for a 1-based bind
// parameter index (e.g. "$1" for Postgres, "?" for MySQL/SQLite).
type PlaceholderFunc func(index int) string

// DollarPlaceholder renders Postgres-style numbered placeholders.
func DollarPlaceholder(i int) string { return "$" + itoa(i) }

// QuestionPlaceholder renders MySQL/SQLite-style positional placeholders.
func QuestionPlaceholder(int) string { return "?" }

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// ToSQL renders the tree back to a parameterized SQL WHERE-clause
// fragment (without the "WHERE" keyword), using quoteFn to quote column
// identifiers per the target dialect and ph to render bind placeholders.
// startIndex is the 1-based index of the first placeholder.
func ToSQL(e *Expr, quoteFn func(string) string, ph PlaceholderFunc, startIndex int) (string, []any) {
	if e == nil {
		return "", nil
	}
	if ph == nil {
		ph = DollarPlaceholder
	}
	if startIndex < 1 {
		startIndex = 1
	}
	idx := startIndex
	var params []any
	next := func(v any) string {
		params = append(params, v)
		s := ph(idx)
		idx++
		return s
	}
	sql := toSQL(e, quoteFn, next)
	return sql, params
}

func toSQL(e *Expr, q func(string) string, next func(any) string) string {
	switch e.Op {
	case OpAnd:
		return "(" + toSQL(e.Left, q, next) + " AND " + toSQL(e.Right, q, next) + ")"
	case OpOr:
		return "(" + toSQL(e.Left, q, next) + " OR " + toSQL(e.Right, q, next) + ")"
	case OpNot:
		return "NOT " + toSQL(e.Left, q, next)
	case OpEq:
		return q(e.Column) + " = " + next(e.Value)
	case OpNeq:
		return q(e.Column) + " != " + next(e.Value)
	case OpLt:
		return q(e.Column) + " < " + next(e.Value)
	case OpLte:
		return q(e.Column) + " <= " + next(e.Value)
	case OpGt:
		return q(e.Column) + " > " + next(e.Value)
	case OpGte:
		return q(e.Column) + " >= " + next(e.Value)
	case OpLike:
		return q(e.Column) + " LIKE " + next(e.Value)
	case OpNotLike:
		return q(e.Column) + " NOT LIKE " + next(e.Value)
	case OpIsNull:
		return q(e.Column) + " IS NULL"
	case OpIsNotNull:
		return q(e.Column) + " IS NOT NULL"
	case OpBetween:
		return q(e.Column) + " BETWEEN " + next(e.Low) + " AND " + next(e.High)
	case OpNotBetween:
		return q(e.Column) + " NOT BETWEEN " + next(e.Low) + " AND " + next(e.High)
	case OpIn, OpNotIn:
		placeholders := make([]string, len(e.Values))
		for i, v := range e.Values {
			placeholders[i] = next(v)
		}
		kw := "IN"
		if e.Op == OpNotIn {
			kw = "NOT IN"
		}
		return q(e.Column) + " " + kw + " (" + strings.Join(placeholders, ", ") + ")"
	}
	return ""
}

// Package docquery implements the small SQL subset DBCrust accepts against
// document-shaped backends (MongoDB, Elasticsearch): SELECT [cols|*] FROM
// coll [WHERE ...] [ORDER BY col [ASC|DESC]] [LIMIT n]. Both backend
// packages parse with this package and render the WHERE clause through
// internal/filterexpr, so the grammar and its edge cases live in one place.
package docquery

import (
	"strconv"
	"strings"

	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/filterexpr"
)

// SelectStmt is the parsed form of an accepted SELECT statement.
type SelectStmt struct {
	Columns    []string // nil means "*"
	Collection string
	Filter     *filterexpr.Expr
	OrderBy    string
	Descending bool
	Limit      int64 // 0 means unset
}

// ParseSelect parses the accepted SELECT subset. It is a small hand-rolled
// parser rather than a general SQL grammar, deliberately narrow to the
// clauses the document backends support.
func ParseSelect(text string) (*SelectStmt, error) {
	upper := strings.ToUpper(text)
	if !strings.HasPrefix(strings.TrimSpace(upper), "SELECT") {
		return nil, backenderr.Unsupportedf("only SELECT is supported against this backend's query surface")
	}

	fromIdx := indexKeyword(upper, "FROM")
	if fromIdx < 0 {
		return nil, backenderr.Queryf(nil, "", "missing FROM clause")
	}
	colsPart := strings.TrimSpace(text[len("SELECT"):fromIdx])
	rest := text[fromIdx+len("FROM"):]

	var cols []string
	if colsPart != "*" {
		for _, c := range strings.Split(colsPart, ",") {
			cols = append(cols, strings.TrimSpace(c))
		}
	}

	whereIdx := indexKeyword(strings.ToUpper(rest), "WHERE")
	orderIdx := indexKeyword(strings.ToUpper(rest), "ORDER BY")
	limitIdx := indexKeyword(strings.ToUpper(rest), "LIMIT")

	end := len(rest)
	for _, idx := range []int{whereIdx, orderIdx, limitIdx} {
		if idx >= 0 && idx < end {
			end = idx
		}
	}
	collection := strings.TrimSpace(rest[:end])
	collection = strings.Trim(collection, `"`+"`")

	stmt := &SelectStmt{Columns: cols, Collection: collection}

	if whereIdx >= 0 {
		whereEnd := len(rest)
		for _, idx := range []int{orderIdx, limitIdx} {
			if idx > whereIdx && idx < whereEnd {
				whereEnd = idx
			}
		}
		whereText := strings.TrimSpace(rest[whereIdx+len("WHERE") : whereEnd])
		expr, err := filterexpr.Parse(whereText)
		if err != nil {
			return nil, backenderr.Queryf(err, "", "invalid WHERE clause")
		}
		stmt.Filter = expr
	}

	if orderIdx >= 0 {
		orderEnd := len(rest)
		if limitIdx > orderIdx && limitIdx < orderEnd {
			orderEnd = limitIdx
		}
		orderText := strings.TrimSpace(rest[orderIdx+len("ORDER BY") : orderEnd])
		fields := strings.Fields(orderText)
		if len(fields) == 0 {
			return nil, backenderr.Queryf(nil, "", "empty ORDER BY clause")
		}
		stmt.OrderBy = strings.TrimSuffix(fields[0], ",")
		if len(fields) > 1 && strings.EqualFold(fields[1], "DESC") {
			stmt.Descending = true
		}
	}

	if limitIdx >= 0 {
		limitText := strings.TrimSpace(rest[limitIdx+len("LIMIT"):])
		n, err := strconv.ParseInt(strings.Fields(limitText)[0], 10, 64)
		if err != nil {
			return nil, backenderr.Queryf(err, "", "invalid LIMIT value")
		}
		stmt.Limit = n
	}

	return stmt, nil
}

// indexKeyword finds a whole-word keyword occurrence in an already
// uppercased haystack, returning -1 if absent.
func indexKeyword(upperHaystack, keyword string) int {
	start := 0
	for {
		i := strings.Index(upperHaystack[start:], keyword)
		if i < 0 {
			return -1
		}
		pos := start + i
		before := pos == 0 || !isIdentRune(rune(upperHaystack[pos-1]))
		afterPos := pos + len(keyword)
		after := afterPos >= len(upperHaystack) || !isIdentRune(rune(upperHaystack[afterPos]))
		if before && after {
			return pos
		}
		start = pos + 1
	}
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

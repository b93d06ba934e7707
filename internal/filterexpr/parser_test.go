package filterexpr

import "testing"

func TestParse_SimpleComparison(t *testing.T) {
	e, err := Parse("age > 21")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.Op != OpGt || e.Column != "age" || e.Value != int64(21) {
		t.Fatalf("unexpected tree: %+v", e)
	}
}

func TestParse_AndOrPrecedence(t *testing.T) {
	// AND binds tighter than OR: "a = 1 OR b = 2 AND c = 3" parses as
	// "a = 1 OR (b = 2 AND c = 3)".
	e, err := Parse("a = 1 OR b = 2 AND c = 3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.Op != OpOr {
		t.Fatalf("expected top-level OR, got %v", e.Op)
	}
	if e.Left.Op != OpEq || e.Left.Column != "a" {
		t.Fatalf("unexpected left: %+v", e.Left)
	}
	if e.Right.Op != OpAnd {
		t.Fatalf("expected right AND, got %v", e.Right.Op)
	}
}

func TestParse_InBetweenLikeNull(t *testing.T) {
	cases := []struct {
		filter string
		op     Op
	}{
		{"status IN ('a', 'b')", OpIn},
		{"status NOT IN ('a', 'b')", OpNotIn},
		{"age BETWEEN 18 AND 65", OpBetween},
		{"age NOT BETWEEN 18 AND 65", OpNotBetween},
		{"name LIKE 'A%'", OpLike},
		{"name NOT LIKE 'A%'", OpNotLike},
		{"email IS NULL", OpIsNull},
		{"email IS NOT NULL", OpIsNotNull},
	}
	for _, tc := range cases {
		e, err := Parse(tc.filter)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.filter, err)
		}
		if e.Op != tc.op {
			t.Errorf("%q: expected op %v, got %v", tc.filter, tc.op, e.Op)
		}
	}
}

func TestParse_Parens(t *testing.T) {
	e, err := Parse("(age > 21) AND (status = 'active')")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.Op != OpAnd {
		t.Fatalf("expected AND, got %v", e.Op)
	}
}

func TestParse_EmptyFilter(t *testing.T) {
	e, err := Parse("   ")
	if err != nil || e != nil {
		t.Fatalf("expected nil, nil for empty filter, got %+v, %v", e, err)
	}
}

func TestToSQL_Dollar(t *testing.T) {
	e, err := Parse("name = 'bob' AND age >= 21")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	quote := func(s string) string { return `"` + s + `"` }
	sql, params := ToSQL(e, quote, DollarPlaceholder, 1)
	want := `("name" = $1 AND "age" >= $2)`
	if sql != want {
		t.Fatalf("got %q want %q", sql, want)
	}
	if len(params) != 2 || params[0] != "bob" || params[1] != int64(21) {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func TestLikeToRegex(t *testing.T) {
	cases := map[string]string{
		"A%":     "A.*",
		"_oe":    ".oe",
		"50%.":   `50.*\.`,
		"a.b":    `a\.b`,
		"a_b%c":  `a.b.*c`,
	}
	for pattern, want := range cases {
		got := LikeToRegex(pattern)
		if got != want {
			t.Errorf("LikeToRegex(%q) = %q, want %q", pattern, got, want)
		}
	}
}

func TestToMongoFilter_SelectExample(t *testing.T) {
	// SELECT name FROM users WHERE name LIKE 'A%' AND active = true LIMIT 10
	// (the tree is built by hand here; Parse turns the bare true literal
	// into the same Go bool).
	e := &Expr{
		Op:   OpAnd,
		Left: &Expr{Op: OpLike, Column: "name", Value: "A%"},
		Right: &Expr{Op: OpEq, Column: "active", Value: true},
	}
	f := ToMongoFilter(e)
	and, ok := f["$and"].([]any)
	if !ok || len(and) != 2 {
		t.Fatalf("expected $and with 2 clauses, got %+v", f)
	}
	left := and[0].(map[string]any)
	nameFilter := left["name"].(map[string]any)
	if nameFilter["$regex"] != "A.*" || nameFilter["$options"] != "i" {
		t.Fatalf("unexpected name filter: %+v", nameFilter)
	}
	right := and[1].(map[string]any)
	if right["active"] != true {
		t.Fatalf("unexpected active filter: %+v", right)
	}
}

func TestToMongoFilter_IsNull(t *testing.T) {
	e := &Expr{Op: OpIsNull, Column: "email"}
	f := ToMongoFilter(e)
	if _, ok := f["email"]; !ok || f["email"] != nil {
		t.Fatalf("expected {email: nil}, got %+v", f)
	}
}

package namedquery

import "testing"

func TestStoreLookupOrder(t *testing.T) {
	s := New()
	s.Define("top", "global body", ScopeGlobal, "")
	s.Define("top", "backend body", ScopeBackend, "postgres")
	s.Define("top", "session body", ScopeSession, "")

	q, ok := s.Lookup("top", "postgres")
	if !ok {
		t.Fatal("expected lookup to find \"top\"")
	}
	if q.Body != "session body" {
		t.Errorf("Body = %q, want session-scoped definition to win", q.Body)
	}

	s.Delete("top", "postgres")
	q, ok = s.Lookup("top", "postgres")
	if !ok || q.Body != "backend body" {
		t.Errorf("after deleting session scope, got %+v, want backend body", q)
	}

	s.Delete("top", "postgres")
	q, ok = s.Lookup("top", "postgres")
	if !ok || q.Body != "global body" {
		t.Errorf("after deleting backend scope, got %+v, want global body", q)
	}

	s.Delete("top", "postgres")
	if _, ok := s.Lookup("top", "postgres"); ok {
		t.Error("expected lookup to fail once every scope is deleted")
	}
}

func TestDefineRejectsSQLKeyword(t *testing.T) {
	s := New()
	if err := s.Define("select", "select 1", ScopeSession, ""); err == nil {
		t.Fatal("expected Define to reject a SQL keyword name")
	}
	if _, ok := s.Lookup("select", ""); ok {
		t.Error("rejected definition must not be stored")
	}
	if err := s.Define("SELECT", "select 1", ScopeSession, ""); err == nil {
		t.Fatal("expected Define to reject a SQL keyword name case-insensitively")
	}
}

func TestStoreLookupBackendIsolated(t *testing.T) {
	s := New()
	s.Define("q", "mysql body", ScopeBackend, "mysql")

	if _, ok := s.Lookup("q", "postgres"); ok {
		t.Error("expected a mysql-scoped query to be invisible under postgres")
	}
	q, ok := s.Lookup("q", "mysql")
	if !ok || q.Body != "mysql body" {
		t.Errorf("got %+v, ok=%v, want mysql body", q, ok)
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		args    []string
		want    string
		wantErr bool
	}{
		{"positional", "select * from $1 where id = $2", []string{"users", "42"}, "select * from users where id = 42", false},
		{"star", "echo $*", []string{"a", "b", "c"}, "echo a b c", false},
		{"at", "echo $@", []string{"a", "b", "c"}, "echo a,b,c", false},
		{"dollar digit beyond args", "price: $5 fixed", nil, "", true},
		{"out of range", "select $1", nil, "", true},
		{"no placeholders", "select 1", nil, "select 1", false},
		{"double digit index", "$10", makeArgs(10), "arg10", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Substitute(tt.body, tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Substitute(%q) = %q, nil, want an error", tt.body, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Substitute(%q) unexpected error: %v", tt.body, err)
			}
			if got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func makeArgs(n int) []string {
	args := make([]string, n)
	for i := range args {
		args[i] = "placeholder"
	}
	args[n-1] = "arg10"
	return args
}

func TestTokenizeInvocation(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
		wantArgs []string
	}{
		{"myquery 1 2 3", "myquery", []string{"1", "2", "3"}},
		{`myquery "hello world" foo`, "myquery", []string{"hello world", "foo"}},
		{"myquery 'single quoted' bar", "myquery", []string{"single quoted", "bar"}},
		{"", "", nil},
		{"justname", "justname", nil},
	}
	for _, tt := range tests {
		name, args := TokenizeInvocation(tt.line)
		if name != tt.wantName {
			t.Errorf("TokenizeInvocation(%q) name = %q, want %q", tt.line, name, tt.wantName)
		}
		if len(args) != len(tt.wantArgs) {
			t.Fatalf("TokenizeInvocation(%q) args = %v, want %v", tt.line, args, tt.wantArgs)
		}
		for i := range args {
			if args[i] != tt.wantArgs[i] {
				t.Errorf("TokenizeInvocation(%q) args[%d] = %q, want %q", tt.line, i, args[i], tt.wantArgs[i])
			}
		}
	}
}

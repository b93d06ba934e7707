// Package namedquery implements storing named query bodies at session,
// backend-specific, or global scope and substituting positional arguments
// into an invocation. Grounded on the in-memory registry pattern in
// internal/config/store.go (a map guarded by a mutex, looked up by name,
// written through on change) generalized from configuration entries to
// query bodies with a layered scope search.
package namedquery

import (
	"strings"
	"sync"

	"github.com/dbcrust/dbcrust/internal/backenderr"
)

// Scope is where a named query's definition lives.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeBackend Scope = "backend" // keyed additionally by backend kind
	ScopeGlobal  Scope = "global"
)

// Query is one stored named-query definition.
type Query struct {
	Name  string
	Body  string
	Scope Scope
}

// Store holds named queries across all three scopes and resolves lookups in
// session → backend-specific → global order, per SPEC_FULL.md §4.7.
type Store struct {
	mu      sync.RWMutex
	session map[string]Query
	backend map[string]map[string]Query // backendKind -> name -> Query
	global  map[string]Query
}

func New() *Store {
	return &Store{
		session: map[string]Query{},
		backend: map[string]map[string]Query{},
		global:  map[string]Query{},
	}
}

// sqlKeywords lists the statement-leading keywords a named query's first
// token must not collide with, so SQL always wins over a named-query
// invocation of the same first word.
var sqlKeywords = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true,
	"create": true, "drop": true, "alter": true, "truncate": true,
	"with": true, "explain": true, "begin": true, "commit": true,
	"rollback": true, "grant": true, "revoke": true, "use": true,
	"show": true, "describe": true, "desc": true, "set": true,
	"call": true, "merge": true, "replace": true, "values": true,
	"from": true, "where": true, "union": true, "vacuum": true,
	"analyze": true, "pragma": true,
}

// IsSQLKeyword reports whether name collides with a statement-leading SQL
// keyword, case-insensitively.
func IsSQLKeyword(name string) bool {
	return sqlKeywords[strings.ToLower(name)]
}

// Define stores body under name at scope; for ScopeBackend, backendKind
// identifies which backend the query is scoped to. Define rejects a name
// that collides with a SQL keyword, so SQL always wins on invocation.
func (s *Store) Define(name, body string, scope Scope, backendKind string) error {
	if IsSQLKeyword(name) {
		return backenderr.Configurationf(nil, "%q is a SQL keyword and cannot be used as a named query name", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q := Query{Name: name, Body: body, Scope: scope}
	switch scope {
	case ScopeSession:
		s.session[name] = q
	case ScopeBackend:
		if s.backend[backendKind] == nil {
			s.backend[backendKind] = map[string]Query{}
		}
		s.backend[backendKind][name] = q
	default:
		s.global[name] = q
	}
	return nil
}

// Delete removes name from whichever scope it's defined in, searching in
// the same session → backend → global order as Lookup.
func (s *Store) Delete(name, backendKind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.session[name]; ok {
		delete(s.session, name)
		return true
	}
	if m, ok := s.backend[backendKind]; ok {
		if _, ok := m[name]; ok {
			delete(m, name)
			return true
		}
	}
	if _, ok := s.global[name]; ok {
		delete(s.global, name)
		return true
	}
	return false
}

// Lookup resolves name in session → backend-specific → global order.
func (s *Store) Lookup(name, backendKind string) (Query, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q, ok := s.session[name]; ok {
		return q, true
	}
	if m, ok := s.backend[backendKind]; ok {
		if q, ok := m[name]; ok {
			return q, true
		}
	}
	if q, ok := s.global[name]; ok {
		return q, true
	}
	return Query{}, false
}

// List returns every visible query for backendKind, in resolution order,
// for \n's scope-indicator listing.
func (s *Store) List(backendKind string) []Query {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Query
	for _, q := range s.session {
		out = append(out, q)
	}
	for _, q := range s.backend[backendKind] {
		out = append(out, q)
	}
	for _, q := range s.global {
		out = append(out, q)
	}
	return out
}

// Substitute expands $1..$n, $*, and $@ in body against args: $k is the
// kth positional argument (1-indexed), $* is all arguments
// space-joined, $@ is all arguments comma-joined. Referencing $k beyond
// len(args) is an error.
func Substitute(body string, args []string) (string, error) {
	var out strings.Builder
	runes := []rune(body)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '$' || i+1 >= len(runes) {
			out.WriteRune(runes[i])
			continue
		}
		next := runes[i+1]
		switch {
		case next == '*':
			out.WriteString(strings.Join(args, " "))
			i++
		case next == '@':
			out.WriteString(strings.Join(args, ","))
			i++
		case next >= '0' && next <= '9':
			j := i + 1
			for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
				j++
			}
			n := parseIndex(string(runes[i+1 : j]))
			if n < 1 || n > len(args) {
				return "", backenderr.ErrNamedQueryMissingArgument
			}
			out.WriteString(args[n-1])
			i = j - 1
		default:
			out.WriteRune(runes[i])
		}
	}
	return out.String(), nil
}

func parseIndex(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// TokenizeInvocation splits a shell-like invocation line into its name and
// arguments, honoring single/double-quote grouping so an argument may
// contain whitespace.
func TokenizeInvocation(line string) (name string, args []string) {
	tokens := tokenize(line)
	if len(tokens) == 0 {
		return "", nil
	}
	return tokens[0], tokens[1:]
}

func tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	inToken := false
	var quote rune
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

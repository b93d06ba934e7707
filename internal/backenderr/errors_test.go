package backenderr

import (
	"errors"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"cancelled", ErrCancelled, 130},
		{"wrapped cancelled", Queryf(ErrCancelled, "", "interrupted mid-query"), 130},
		{"generic", Connectionf(nil, "refused"), 1},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRecoverable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindQuery, true},
		{KindUnsupported, true},
		{KindTimeout, true},
		{KindCancelled, true},
		{KindConnection, false},
		{KindAuthentication, false},
		{KindTunnel, false},
	}
	for _, tt := range tests {
		e := &Error{Kind: tt.kind, Message: "x"}
		if got := e.Recoverable(); got != tt.want {
			t.Errorf("Recoverable(%v) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestErrorIsMatchesByKindWhenTargetHasCause(t *testing.T) {
	a := Connectionf(errors.New("boom"), "connect to %s", "localhost")
	b := Connectionf(errors.New("different cause"), "connect to %s", "elsewhere")
	if !errors.Is(a, b) {
		t.Error("expected errors.Is to match on Kind alone when the target carries a cause")
	}
}

func TestErrorIsMatchesByKindAndMessageWhenTargetIsBare(t *testing.T) {
	a := Connectionf(errors.New("boom"), "connect to %s", "localhost")
	sameMessage := Connectionf(nil, "connect to %s", "localhost")
	if !errors.Is(a, sameMessage) {
		t.Error("expected a bare (causeless) target to match by Kind+Message")
	}

	differentMessage := Connectionf(nil, "connect to %s", "otherhost")
	if errors.Is(a, differentMessage) {
		t.Error("expected a bare target with a different message not to match")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := IOf(cause, "read file")
	if !errors.Is(e, cause) {
		t.Error("expected Unwrap to expose the original cause to errors.Is")
	}
}

func TestErrorString(t *testing.T) {
	e := Queryf(errors.New("syntax error"), "42601", "bad query")
	want := "bad query: syntax error"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
	if e.SQLState != "42601" {
		t.Errorf("SQLState = %q, want 42601", e.SQLState)
	}
}

package credstore

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestPassFile(t *testing.T) (*PassFile, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbcrust-pass")
	pf, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return pf, path
}

func TestPassFileUpsertAndLookup(t *testing.T) {
	pf, path := newTestPassFile(t)

	if err := pf.Upsert("postgres", "localhost", "5432", "app", "alice", "hunter2"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	secret, ok := pf.Lookup("postgres", "localhost", "5432", "app", "alice")
	if !ok || secret != "hunter2" {
		t.Fatalf("Lookup = %q, %v, want hunter2, true", secret, ok)
	}

	// A fresh load from disk must round-trip the encrypted entry.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	secret, ok = reloaded.Lookup("postgres", "localhost", "5432", "app", "alice")
	if !ok || secret != "hunter2" {
		t.Fatalf("reloaded Lookup = %q, %v, want hunter2, true", secret, ok)
	}
}

func TestPassFileUpsertReplacesExactMatch(t *testing.T) {
	pf, _ := newTestPassFile(t)
	_ = pf.Upsert("mysql", "db", "3306", "app", "bob", "first")
	_ = pf.Upsert("mysql", "db", "3306", "app", "bob", "second")

	if len(pf.Entries()) != 1 {
		t.Fatalf("Entries() len = %d, want 1 (upsert should replace, not append)", len(pf.Entries()))
	}
	secret, ok := pf.Lookup("mysql", "db", "3306", "app", "bob")
	if !ok || secret != "second" {
		t.Fatalf("Lookup = %q, %v, want second, true", secret, ok)
	}
}

func TestPassFileWildcardLookup(t *testing.T) {
	pf, _ := newTestPassFile(t)
	if err := pf.Upsert("postgres", "*", "*", "*", "readonly", "shared-secret"); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	secret, ok := pf.Lookup("postgres", "any-host", "5432", "anydb", "readonly")
	if !ok || secret != "shared-secret" {
		t.Fatalf("wildcard Lookup = %q, %v, want shared-secret, true", secret, ok)
	}
}

func TestPassFileDelete(t *testing.T) {
	pf, _ := newTestPassFile(t)
	_ = pf.Upsert("sqlite", "", "", "/tmp/a.db", "", "ignored")

	ok, err := pf.Delete("sqlite", "", "", "/tmp/a.db", "")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v, want true, nil", ok, err)
	}
	if _, ok := pf.Lookup("sqlite", "", "", "/tmp/a.db", ""); ok {
		t.Error("expected entry to be gone after Delete")
	}

	ok, err = pf.Delete("sqlite", "", "", "/tmp/a.db", "")
	if err != nil || ok {
		t.Fatalf("Delete on missing entry = %v, %v, want false, nil", ok, err)
	}
}

func TestPassFileEncryptAllIsIdempotent(t *testing.T) {
	pf, _ := newTestPassFile(t)
	_ = pf.Upsert("postgres", "h", "5432", "d", "u", "secret")

	n, err := pf.EncryptAll()
	if err != nil {
		t.Fatalf("EncryptAll: %v", err)
	}
	// Upsert already stores entries as enc: blobs, so a second pass should
	// find nothing left to convert.
	if n != 0 {
		t.Errorf("EncryptAll converted %d entries, want 0 (already encrypted by Upsert)", n)
	}
}

func TestCheckPermissionsRejectsGroupReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbcrust-pass")
	if err := os.WriteFile(path, []byte("postgres:h:5432:d:u:s\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected Load to reject a world/group-readable password file")
	}
}

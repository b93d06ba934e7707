// Package credstore implements the two credential stores: the flat
// password file and the dynamic (vault-issued) credential cache. Both are
// encrypted at rest with nacl/secretbox keyed by
// a scrypt derivation, carried from an existing go.mod transitive
// golang.org/x/crypto dependency rather than hand-rolling a cipher.
package credstore

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dbcrust/dbcrust/internal/backenderr"
)

// Entry is one parsed line of the password file.
type Entry struct {
	Kind     string
	Host     string
	Port     string
	Database string
	User     string
	Secret   string // raw field value, still possibly "enc:..."
}

// matches reports whether e matches the lookup tuple, treating "*" fields
// in e as wildcards.
func (e Entry) matches(kind, host, port, database, user string) bool {
	fields := [][2]string{
		{e.Kind, kind}, {e.Host, host}, {e.Port, port}, {e.Database, database}, {e.User, user},
	}
	for _, f := range fields {
		if f[0] != "*" && f[0] != f[1] {
			return false
		}
	}
	return true
}

// PassFile is the in-memory, load-on-demand view of the `~/.dbcrust`
// password file.
type PassFile struct {
	path    string
	entries []Entry
	key     [32]byte
}

// DefaultPath returns $DBCRUST_PASSFILE if set, else ~/.dbcrust.
func DefaultPath() (string, error) {
	if p := os.Getenv("DBCRUST_PASSFILE"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", backenderr.IOf(err, "resolve home directory")
	}
	return filepath.Join(home, ".dbcrust"), nil
}

// Load reads and parses the password file at path. A missing file is not an
// error — it parses as empty, the way a first-run system has no passwords
// saved yet.
func Load(path string) (*PassFile, error) {
	pf := &PassFile{path: path, key: deriveMachineKey()}
	if err := checkPermissions(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return pf, nil
	}
	if err != nil {
		return nil, backenderr.CredentialStoref(err, "open password file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		entry, ok, err := parseLine(line)
		if err != nil {
			return nil, backenderr.CredentialStoref(err, "parse password file")
		}
		if ok {
			pf.entries = append(pf.entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, backenderr.IOf(err, "read password file")
	}
	return pf, nil
}

func checkPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return backenderr.IOf(err, "stat password file")
	}
	if info.Mode().Perm()&0o077 != 0 {
		return backenderr.ErrInsecurePermissions
	}
	return nil
}

// parseLine parses one password-file line, handling \\ and \: escaping and
// ignoring blank lines and # comments. ok is false for lines that carry no
// entry (blank/comment).
func parseLine(line string) (Entry, bool, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Entry{}, false, nil
	}
	fields := splitEscaped(trimmed)
	if len(fields) != 6 {
		return Entry{}, false, fmt.Errorf("expected 6 colon-separated fields, got %d", len(fields))
	}
	return Entry{
		Kind:     fields[0],
		Host:     fields[1],
		Port:     fields[2],
		Database: fields[3],
		User:     fields[4],
		Secret:   fields[5],
	}, true, nil
}

// splitEscaped splits on unescaped ':' honoring '\\' and '\:' escapes.
func splitEscaped(s string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			cur.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

func escapeField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `:`, `\:`)
	return s
}

// Lookup returns the secret (decrypted if it was an enc: blob) for the
// first entry whose fields all match: a linear, first-match-wins scan.
// ok is false when no entry matches or an enc: blob fails to decrypt (a
// moved file behaves as if the entry were absent).
func (pf *PassFile) Lookup(kind, host, port, database, user string) (secret string, ok bool) {
	for _, e := range pf.entries {
		if !e.matches(kind, host, port, database, user) {
			continue
		}
		if strings.HasPrefix(e.Secret, "enc:") {
			plain, err := decryptBlob(e.Secret, pf.key)
			if err != nil {
				return "", false
			}
			return plain, true
		}
		return e.Secret, true
	}
	return "", false
}

// Upsert adds or in-place replaces the entry matching (kind, host, port,
// database, user) exactly (no wildcard matching on write), storing secret
// encrypted, then atomically rewrites the file (temp file, fsync, rename).
func (pf *PassFile) Upsert(kind, host, port, database, user, secret string) error {
	blob, err := encryptBlob(secret, pf.key)
	if err != nil {
		return backenderr.CredentialStoref(err, "encrypt password file entry")
	}
	entry := Entry{Kind: kind, Host: host, Port: port, Database: database, User: user, Secret: blob}
	replaced := false
	for i, e := range pf.entries {
		if e.Kind == kind && e.Host == host && e.Port == port && e.Database == database && e.User == user {
			pf.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		pf.entries = append(pf.entries, entry)
	}
	return pf.persist()
}

// Entries returns a cloned copy of every parsed line, for \listpass.
func (pf *PassFile) Entries() []Entry {
	out := make([]Entry, len(pf.entries))
	copy(out, pf.entries)
	return out
}

// Delete removes the entry matching (kind, host, port, database, user)
// exactly and persists the file, backing \deletepass. ok is false when no
// such entry exists.
func (pf *PassFile) Delete(kind, host, port, database, user string) (bool, error) {
	for i, e := range pf.entries {
		if e.Kind == kind && e.Host == host && e.Port == port && e.Database == database && e.User == user {
			pf.entries = append(pf.entries[:i], pf.entries[i+1:]...)
			return true, pf.persist()
		}
	}
	return false, nil
}

// EncryptAll rewrites every plaintext entry as an enc: blob under the
// machine-derived key and persists the file, backing \encryptpass. It
// returns how many entries were converted.
func (pf *PassFile) EncryptAll() (int, error) {
	converted := 0
	for i, e := range pf.entries {
		if strings.HasPrefix(e.Secret, "enc:") {
			continue
		}
		blob, err := encryptBlob(e.Secret, pf.key)
		if err != nil {
			return converted, backenderr.CredentialStoref(err, "encrypt password file entry")
		}
		pf.entries[i].Secret = blob
		converted++
	}
	if converted == 0 {
		return 0, nil
	}
	return converted, pf.persist()
}

func (pf *PassFile) persist() error {
	var buf bytes.Buffer
	for _, e := range pf.entries {
		fmt.Fprintf(&buf, "%s:%s:%s:%s:%s:%s\n",
			escapeField(e.Kind), escapeField(e.Host), escapeField(e.Port),
			escapeField(e.Database), escapeField(e.User), escapeField(e.Secret))
	}
	dir := filepath.Dir(pf.path)
	tmp, err := os.CreateTemp(dir, ".dbcrust-passfile-*")
	if err != nil {
		return backenderr.IOf(err, "create temp password file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return backenderr.IOf(err, "write temp password file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return backenderr.IOf(err, "fsync temp password file")
	}
	if err := tmp.Close(); err != nil {
		return backenderr.IOf(err, "close temp password file")
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0o600); err != nil {
			return backenderr.IOf(err, "chmod temp password file")
		}
	}
	if err := os.Rename(tmpPath, pf.path); err != nil {
		return backenderr.IOf(err, "rename temp password file into place")
	}
	return nil
}

func encodeHex(b []byte) string { return hex.EncodeToString(b) }
func decodeHex(s string) ([]byte, error) { return hex.DecodeString(s) }

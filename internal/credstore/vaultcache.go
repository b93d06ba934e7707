package credstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"os"
	"sync"
	"time"

	"github.com/dbcrust/dbcrust/internal/backenderr"
)

// cacheFormatVersion is the first byte of the serialized cache file, so a
// future format change can be detected on read.
const cacheFormatVersion = 1

// CacheEntry is one dynamic-credential lease, keyed by (Mount, Role).
type CacheEntry struct {
	Mount    string
	Role     string
	Username string
	Password string
	LeaseID  string
	IssuedAt time.Time
	TTL      time.Duration
	MaxTTL   time.Duration
}

func (e CacheEntry) expiresAt() time.Time { return e.IssuedAt.Add(e.TTL) }

// Reissuer re-issues a dynamic credential for (mount, role), implemented by
// internal/vaultclient; kept as an interface here so the cache has no
// direct dependency on the vault client package.
type Reissuer interface {
	Issue(mount, role string) (CacheEntry, error)
	Renew(entry CacheEntry) (CacheEntry, error)
}

// VaultCache implements the dynamic credential cache: lookup with lazy
// eviction, threshold-triggered async renewal, and an encrypted-at-rest
// persisted file.
type VaultCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	path    string
	key     [32]byte

	RenewalThreshold float64 // in [0,1]
	MinRequiredTTL   time.Duration

	reissuer Reissuer
}

func cacheKey(mount, role string) string { return mount + "\x00" + role }

// NewVaultCache loads a persisted cache from path (if present) encrypted
// under a key derived from the authenticated vault token, so a stolen
// cache file without the token is useless.
func NewVaultCache(path string, tokenKey [32]byte, reissuer Reissuer) (*VaultCache, error) {
	vc := &VaultCache{
		entries:          map[string]CacheEntry{},
		path:             path,
		key:              tokenKey,
		RenewalThreshold: 0.25,
		MinRequiredTTL:   30 * time.Second,
		reissuer:         reissuer,
	}
	if err := vc.load(); err != nil {
		return nil, err
	}
	return vc, nil
}

func (vc *VaultCache) load() error {
	data, err := os.ReadFile(vc.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return backenderr.CredentialStoref(err, "read credential cache")
	}
	if len(data) == 0 {
		return nil
	}
	if data[0] != cacheFormatVersion {
		// An unrecognized version is treated as an unusable cache rather
		// than a fatal error: entries simply re-issue on first lookup.
		return nil
	}
	var sizeBuf [4]byte
	copy(sizeBuf[:], data[1:5])
	blobLen := binary.BigEndian.Uint32(sizeBuf[:])
	blob := string(data[5: 5+blobLen])
	plain, err := decryptBlob(blob, vc.key)
	if err != nil {
		// A cache encrypted under a different token decrypts to garbage,
		// making the file useless rather than corrupt, so start empty
		// instead of erroring.
		return nil
	}
	var entries map[string]CacheEntry
	dec := gob.NewDecoder(bytes.NewReader([]byte(plain)))
	if err := dec.Decode(&entries); err != nil {
		return backenderr.CredentialStoref(err, "decode credential cache")
	}
	vc.entries = entries
	return nil
}

func (vc *VaultCache) persist() error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(vc.entries); err != nil {
		return backenderr.CredentialStoref(err, "encode credential cache")
	}
	blob, err := encryptBlob(buf.String(), vc.key)
	if err != nil {
		return backenderr.CredentialStoref(err, "encrypt credential cache")
	}
	var out bytes.Buffer
	out.WriteByte(cacheFormatVersion)
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(blob)))
	out.Write(sizeBuf[:])
	out.WriteString(blob)
	tmp, err := os.CreateTemp("", ".dbcrust-vaultcache-*")
	if err != nil {
		return backenderr.IOf(err, "create temp credential cache file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(out.Bytes()); err != nil {
		tmp.Close()
		return backenderr.IOf(err, "write temp credential cache file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return backenderr.IOf(err, "fsync temp credential cache file")
	}
	tmp.Close()
	if err := os.Rename(tmpPath, vc.path); err != nil {
		return backenderr.IOf(err, "rename temp credential cache file into place")
	}
	return nil
}

// Lookup implements the decision table: fresh entries return
// as-is; entries past the renewal threshold but still live return as-is
// and spawn a background renewal; entries past TTL or inside
// MinRequiredTTL of expiry are re-issued synchronously.
func (vc *VaultCache) Lookup(mount, role string) (CacheEntry, error) {
	vc.mu.Lock()
	key := cacheKey(mount, role)
	entry, ok := vc.entries[key]
	now := time.Now()
	if ok && now.After(entry.expiresAt()) {
		delete(vc.entries, key)
		ok = false
	}
	vc.mu.Unlock()

	if !ok {
		return vc.reissue(mount, role)
	}
	if time.Until(entry.expiresAt()) < vc.MinRequiredTTL {
		return vc.reissue(mount, role)
	}

	thresholdPoint := entry.IssuedAt.Add(time.Duration(float64(entry.TTL) * (1 - vc.RenewalThreshold)))
	if now.After(thresholdPoint) {
		go vc.renewInBackground(entry)
	}
	return entry, nil
}

func (vc *VaultCache) reissue(mount, role string) (CacheEntry, error) {
	entry, err := vc.reissuer.Issue(mount, role)
	if err != nil {
		return CacheEntry{}, backenderr.DynamicCredentialf(err, "issue credential for %s/%s", mount, role)
	}
	vc.mu.Lock()
	vc.entries[cacheKey(mount, role)] = entry
	persistErr := vc.persist()
	vc.mu.Unlock()
	if persistErr != nil {
		return entry, persistErr
	}
	return entry, nil
}

func (vc *VaultCache) renewInBackground(entry CacheEntry) {
	renewed, err := vc.reissuer.Renew(entry)
	if err != nil {
		return
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.entries[cacheKey(entry.Mount, entry.Role)] = renewed
	_ = vc.persist()
}

// Clear discards every cached entry (backing \vcc).
func (vc *VaultCache) Clear() error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.entries = map[string]CacheEntry{}
	return vc.persist()
}

// Expired lists entries past their TTL without evicting them, for \vce.
func (vc *VaultCache) Expired() []CacheEntry {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	now := time.Now()
	var out []CacheEntry
	for _, e := range vc.entries {
		if now.After(e.expiresAt()) {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot returns a cloned copy of every live entry, for \vc status
// display; callers never get a live reference into the cache's map.
func (vc *VaultCache) Snapshot() []CacheEntry {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	out := make([]CacheEntry, 0, len(vc.entries))
	for _, e := range vc.entries {
		out = append(out, e)
	}
	return out
}

package credstore

import (
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// encBlobPrefix marks a password-file secret field as an encrypted blob
// rather than plaintext.
const encBlobPrefix = "enc:"

// machineSalt is a fixed, non-secret salt: the key derivation's secrecy
// comes from binding to machine + user identity, not from salt secrecy, so
// a constant salt shared across installs is intentional, not a shortcut.
var machineSalt = []byte("dbcrust-credstore-v1")

// deriveMachineKey derives a 32-byte secretbox key from machine-identifying
// material (hostname, a machine-id file where available) plus the OS user,
// so an `enc:` blob copied to a different machine or read by a different
// user silently fails to decrypt.
func deriveMachineKey() [32]byte {
	material := machineIdentity()
	derived, err := scrypt.Key([]byte(material), machineSalt, 1<<15, 8, 1, 32)
	var key [32]byte
	if err != nil {
		// scrypt only errors on invalid N/r/p parameters, which are fixed
		// constants here; this path is unreachable in practice, but a
		// zero key (rather than a panic) keeps encrypt/decrypt total.
		return key
	}
	copy(key[:], derived)
	return key
}

// DeriveKeyFromToken derives a 32-byte secretbox key from an authenticated
// secret-manager token, used to encrypt the dynamic credential cache so that
// a stolen cache file without the token is useless.
func DeriveKeyFromToken(token string) [32]byte {
	derived, err := scrypt.Key([]byte(token), machineSalt, 1<<15, 8, 1, 32)
	var key [32]byte
	if err != nil {
		return key
	}
	copy(key[:], derived)
	return key
}

func machineIdentity() string {
	hostname, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	id := readMachineID()
	return strings.Join([]string{hostname, user, id}, "\x00")
}

// readMachineID reads /etc/machine-id where present (Linux), returning ""
// on any other platform or if the file is absent; the key derivation still
// works without it, just with hostname+user as the sole material.
func readMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// encryptBlob encrypts plaintext under key and returns the "enc:<hex>"
// encoded form stored in the password file.
func encryptBlob(plaintext string, key [32]byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &key)
	return encBlobPrefix + encodeHex(sealed), nil
}

// decryptBlob reverses encryptBlob. Any failure (wrong key, corrupt data)
// returns an error; callers treat that as "entry absent" instead of
// surfacing a decryption error to the user.
func decryptBlob(blob string, key [32]byte) (string, error) {
	raw, err := decodeHex(strings.TrimPrefix(blob, encBlobPrefix))
	if err != nil {
		return "", fmt.Errorf("decode blob: %w", err)
	}
	if len(raw) < 24 {
		return "", fmt.Errorf("blob too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &key)
	if !ok {
		return "", fmt.Errorf("decryption failed")
	}
	return string(plain), nil
}

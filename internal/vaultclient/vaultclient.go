// Package vaultclient wraps hashicorp/vault/api for the one operation
// DBCrust's resolver needs: reading a dynamic database credential from a
// database secrets engine mount and renewing its lease. Grounded on the
// hashicorp-terraform-provider-vault database-secret-backend resource,
// which establishes github.com/hashicorp/vault/api as the standard client
// for this exact secrets engine (its dbBackendTypes list includes
// postgresql/mysql/mongodb/elasticsearch, the same engines this module's
// resolver issues credentials for).
package vaultclient

import (
	"fmt"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/credstore"
)

// Config carries the [vault] config section.
type Config struct {
	Addr       string
	MountPoint string
	AuthMethod string // "token" | "userpass" | "ldap"
	Timeout    time.Duration
	Token      string // for AuthMethod == "token"
	Username   string // for userpass/ldap
	Password   string
}

// Client issues and renews dynamic database credentials and satisfies
// credstore.Reissuer so internal/credstore.VaultCache can call it without
// importing this package.
type Client struct {
	api   *vaultapi.Client
	mount string
}

func New(cfg Config) (*Client, error) {
	vcfg := vaultapi.DefaultConfig()
	vcfg.Address = cfg.Addr
	if cfg.Timeout > 0 {
		vcfg.Timeout = cfg.Timeout
	}
	api, err := vaultapi.NewClient(vcfg)
	if err != nil {
		return nil, backenderr.DynamicCredentialf(err, "build vault client")
	}
	c := &Client{api: api, mount: cfg.MountPoint}
	if err := c.authenticate(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) authenticate(cfg Config) error {
	switch cfg.AuthMethod {
	case "", "token":
		c.api.SetToken(cfg.Token)
		return nil
	case "userpass":
		return c.loginUserpass("userpass", cfg.Username, cfg.Password)
	case "ldap":
		return c.loginUserpass("ldap", cfg.Username, cfg.Password)
	default:
		return backenderr.Configurationf(nil, "unknown vault auth_method %q", cfg.AuthMethod)
	}
}

func (c *Client) loginUserpass(method, username, password string) error {
	path := fmt.Sprintf("auth/%s/login/%s", method, username)
	secret, err := c.api.Logical().Write(path, map[string]any{"password": password})
	if err != nil {
		return backenderr.Authenticationf(err, "vault %s login failed", method)
	}
	if secret == nil || secret.Auth == nil {
		return backenderr.Authenticationf(nil, "vault %s login returned no auth info", method)
	}
	c.api.SetToken(secret.Auth.ClientToken)
	return nil
}

// TokenKey derives a 32-byte key bound to the client's current auth token,
// per the requirement that the credential cache file be encrypted
// "under a symmetric key derived from the user's authenticated
// secret-manager token".
func (c *Client) TokenKey() [32]byte {
	return credstore.DeriveKeyFromToken(c.api.Token())
}

// Issue reads a fresh dynamic credential from mount/creds/role.
func (c *Client) Issue(mount, role string) (credstore.CacheEntry, error) {
	path := fmt.Sprintf("%s/creds/%s", mount, role)
	secret, err := c.api.Logical().Read(path)
	if err != nil {
		return credstore.CacheEntry{}, backenderr.DynamicCredentialf(err, "read %s", path)
	}
	if secret == nil || secret.Data == nil {
		return credstore.CacheEntry{}, backenderr.DynamicCredentialf(nil, "empty response from %s", path)
	}
	username, _ := secret.Data["username"].(string)
	password, _ := secret.Data["password"].(string)
	ttl := time.Duration(secret.LeaseDuration) * time.Second
	return credstore.CacheEntry{
		Mount:    mount,
		Role:     role,
		Username: username,
		Password: password,
		LeaseID:  secret.LeaseID,
		IssuedAt: time.Now(),
		TTL:      ttl,
		MaxTTL:   ttl,
	}, nil
}

// Renew extends entry's lease via sys/leases/renew, returning an updated
// entry with a refreshed IssuedAt/TTL.
func (c *Client) Renew(entry credstore.CacheEntry) (credstore.CacheEntry, error) {
	secret, err := c.api.Sys().Renew(entry.LeaseID, 0)
	if err != nil {
		return credstore.CacheEntry{}, backenderr.DynamicCredentialf(err, "renew lease %s", entry.LeaseID)
	}
	entry.IssuedAt = time.Now()
	entry.TTL = time.Duration(secret.LeaseDuration) * time.Second
	entry.LeaseID = secret.LeaseID
	return entry, nil
}

package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/dbcrust/dbcrust/internal/config"
	"github.com/dbcrust/dbcrust/internal/credstore"
	"github.com/dbcrust/dbcrust/internal/docker"
	"github.com/dbcrust/dbcrust/internal/session"
	"github.com/dbcrust/dbcrust/internal/tunnel"
	"github.com/dbcrust/dbcrust/internal/vaultclient"
)

// buildDeps assembles every optional resolver dependency from cfg and the
// environment, the way cmd/faucet/cli/serve.go wires its connector registry
// from config before handing it to the HTTP server: each piece is
// best-effort, since a restricted environment (no docker socket, no
// passfile, no vault token) must still let a direct `-c`/`-f` connection
// through.
type deps struct {
	passFile   *credstore.PassFile
	vaultCache *credstore.VaultCache
	dockerCli  *docker.Client
	patterns   *tunnel.PatternList
	sessions   *session.SessionManager
}

func buildDeps(cfg config.Config, out io.Writer, noPrompt bool) deps {
	var d deps

	if path, err := credstore.DefaultPath(); err == nil {
		if pf, err := credstore.Load(path); err == nil {
			d.passFile = pf
		}
	}

	if cfg.Vault.Addr != "" {
		if vc, err := buildVaultCache(cfg); err == nil {
			d.vaultCache = vc
		}
	}

	if dc, err := docker.New(); err == nil {
		d.dockerCli = dc
	}

	if pl, err := buildPatterns(cfg); err == nil {
		d.patterns = pl
	}

	recent, _ := config.LoadRecent()
	d.sessions = session.NewSessionManager(&cfg, recent, out, noPrompt)

	return d
}

func buildVaultCache(cfg config.Config) (*credstore.VaultCache, error) {
	vcfg := vaultclient.Config{
		Addr:       cfg.Vault.Addr,
		MountPoint: cfg.Vault.MountPoint,
		AuthMethod: cfg.Vault.AuthMethod,
		Token:      os.Getenv("VAULT_TOKEN"),
		Username:   os.Getenv("VAULT_USERNAME"),
		Password:   os.Getenv("VAULT_PASSWORD"),
	}
	client, err := vaultclient.New(vcfg)
	if err != nil {
		return nil, err
	}
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	return credstore.NewVaultCache(filepath.Join(dir, "vault_cache.gob"), client.TokenKey(), client)
}

func buildPatterns(cfg config.Config) (*tunnel.PatternList, error) {
	if len(cfg.SSHTunnelPatterns) == 0 {
		return tunnel.Compile(nil)
	}
	pairs := make([][2]string, 0, len(cfg.SSHTunnelPatterns))
	for pattern, target := range cfg.SSHTunnelPatterns {
		pairs = append(pairs, [2]string{pattern, target})
	}
	return tunnel.Compile(pairs)
}

// Package resolver implements the connection URL resolution pipeline:
// parsing a user-supplied connection string, recursing through
// indirect schemes (saved session, recent, docker, vault), working through
// the password resolution fallback chain, and attaching an SSH tunnel when
// a configured host pattern matches. Grounded on `internal/connector`'s
// dispatch-by-kind pattern (a switch over a driver name string picking the
// right connector constructor), generalized here into a switch over URL
// scheme picking the right resolution branch.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dbcrust/dbcrust/internal/backend"
	"github.com/dbcrust/dbcrust/internal/backenderr"
	"github.com/dbcrust/dbcrust/internal/credstore"
	"github.com/dbcrust/dbcrust/internal/docker"
	"github.com/dbcrust/dbcrust/internal/tunnel"
)

// MaxRecursionDepth bounds indirect-scheme recursion (session/recent/docker/
// vault) so a misconfigured chain can't loop forever.
const MaxRecursionDepth = 4

// SessionStore resolves session:// targets: a named saved session, or an
// interactive picker over all of them when no name is given.
type SessionStore interface {
	Lookup(name string) (rawURL string, ok bool)
	PickSaved(ctx context.Context) (rawURL string, ok bool, err error)
	PickRecent(ctx context.Context) (rawURL string, ok bool, err error)
}

// ContainerPicker resolves a bare `docker://` target by presenting an
// interactive choice across the discovered database containers, the docker
// analogue of SessionStore's PickSaved/PickRecent.
type ContainerPicker interface {
	PickContainer(ctx context.Context, candidates []docker.Candidate) (docker.Candidate, bool, error)
}

// PasswordPrompter asks the user for a password interactively; it must
// return an error (rather than block) when stdin is not a TTY, so
// non-interactive invocations fail with a clear ConfigurationError instead
// of hanging.
type PasswordPrompter interface {
	Prompt(ctx context.Context, ci backend.ConnectionInfo) (string, error)
	ConfirmSave(ctx context.Context, ci backend.ConnectionInfo) bool
}

// Deps bundles everything the resolver needs but does not own: the
// credential stores, the docker discovery client, the SSH tunnel pattern
// list and pool, session storage, and the interactive prompter. All are
// optional (nil means "that resolution branch is unavailable") so the
// resolver can run in restricted contexts such as `-c`/`-f` non-interactive
// mode without a TTY.
type Deps struct {
	PassFile   *credstore.PassFile
	VaultCache *credstore.VaultCache
	Docker     *docker.Client
	Containers ContainerPicker
	Sessions   SessionStore
	Patterns   *tunnel.PatternList
	Tunnels    *tunnel.Pool
	Prompter   PasswordPrompter
}

// Resolve turns raw into a fully-resolved ConnectionInfo (and, if an SSH
// tunnel pattern matched, a live Tunnel), recursing through indirect
// schemes up to MaxRecursionDepth. seen tracks the raw URL strings already
// visited in this recursion chain to detect cycles; pass nil on the
// top-level call.
func Resolve(ctx context.Context, raw string, depth int, deps Deps, seen map[string]struct{}) (backend.ConnectionInfo, *tunnel.Tunnel, error) {
	if depth > MaxRecursionDepth {
		return backend.ConnectionInfo{}, nil, backenderr.ErrResolutionLoop
	}
	if seen == nil {
		seen = map[string]struct{}{}
	}
	if _, dup := seen[raw]; dup {
		return backend.ConnectionInfo{}, nil, backenderr.ErrResolutionLoop
	}
	seen[raw] = struct{}{}

	scheme, rest := splitScheme(raw)
	switch scheme {
	case "postgres", "postgresql":
		return resolveDirectSQL(ctx, backend.KindPostgres, raw, deps)
	case "mysql":
		return resolveDirectSQL(ctx, backend.KindMySQL, raw, deps)
	case "sqlite":
		return resolveSQLite(rest), nil, nil
	case "clickhouse":
		return resolveDirectSQL(ctx, backend.KindClickHouse, raw, deps)
	case "mongodb", "mongodb+srv":
		return resolveDirectSQL(ctx, backend.KindMongo, raw, deps)
	case "elasticsearch", "elastic", "es":
		return resolveDirectSQL(ctx, backend.KindElasticsearch, raw, deps)
	case "parquet", "csv", "json":
		return resolveFileEngine(scheme, rest), nil, nil
	case "session":
		return resolveSession(ctx, rest, depth, deps, seen)
	case "recent":
		return resolveRecent(ctx, depth, deps, seen)
	case "docker":
		return resolveDocker(ctx, rest, depth, deps, seen)
	case "vault":
		return resolveVault(ctx, rest, depth, deps, seen)
	default:
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "unknown connection scheme %q", scheme)
	}
}

func splitScheme(raw string) (scheme, rest string) {
	i := strings.Index(raw, "://")
	if i < 0 {
		return "", raw
	}
	return raw[:i], raw[i+3:]
}

// resolveDirectSQL parses a standard URL-shaped connection string, resolves
// its password through the fallback chain, and attaches an SSH tunnel if a
// configured pattern matches the host.
func resolveDirectSQL(ctx context.Context, kind backend.Kind, raw string, deps Deps) (backend.ConnectionInfo, *tunnel.Tunnel, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(err, "parse connection url")
	}
	host := u.Hostname()
	port := defaultPort(kind)
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	user := u.User.Username()
	database := strings.TrimPrefix(u.Path, "/")
	params := map[string]string{}
	for k, v := range u.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	ci := backend.ConnectionInfo{
		Kind:       kind,
		Host:       host,
		Port:       port,
		User:       user,
		Database:   database,
		Params:     params,
		DisplayURL: stripPassword(raw),
	}
	if tlsCfg, ok := parseTLS(params); ok {
		ci.TLS = &tlsCfg
	}

	password, passOK := u.User.Password()
	source := passwordSourceURL
	if !passOK {
		password, passOK, source = resolvePassword(kind, ci, deps)
	}
	if !passOK && deps.Prompter != nil {
		prompted, err := deps.Prompter.Prompt(ctx, ci)
		if err != nil {
			return backend.ConnectionInfo{}, nil, err
		}
		password, passOK, source = prompted, true, passwordSourcePrompt
	}
	ci.Password = password
	_ = source

	t, err := attachTunnel(ctx, &ci, deps)
	if err != nil {
		return backend.ConnectionInfo{}, nil, err
	}
	return ci, t, nil
}

type passwordSource int

const (
	passwordSourceURL passwordSource = iota
	passwordSourcePassFile
	passwordSourceVault
	passwordSourcePrompt
)

// resolvePassword implements steps 2-3 of the fallback chain (the
// password file, then the vault cache); step 4 (interactive prompt) is the
// caller's responsibility since it needs a live context and I/O.
func resolvePassword(kind backend.Kind, ci backend.ConnectionInfo, deps Deps) (string, bool, passwordSource) {
	if deps.PassFile != nil {
		if secret, ok := deps.PassFile.Lookup(string(kind), ci.Host, strconv.Itoa(ci.Port), ci.Database, ci.User); ok {
			return secret, true, passwordSourcePassFile
		}
	}
	if deps.VaultCache != nil && ci.DynamicCredential != nil {
		entry, err := deps.VaultCache.Lookup(ci.DynamicCredential.Mount, ci.DynamicCredential.Role)
		if err == nil {
			return entry.Password, true, passwordSourceVault
		}
	}
	return "", false, passwordSourceURL
}

// RetryWithPrompt implements the auth-retry step: when a
// connection attempt using a password from the file or the vault cache
// fails authentication, the caller re-resolves here to force an interactive
// prompt and, on success, offers to persist the new password back to the
// password file.
func RetryWithPrompt(ctx context.Context, ci backend.ConnectionInfo, deps Deps) (backend.ConnectionInfo, error) {
	if deps.Prompter == nil {
		return backend.ConnectionInfo{}, backenderr.Authenticationf(nil, "no interactive prompter available to retry authentication")
	}
	password, err := deps.Prompter.Prompt(ctx, ci)
	if err != nil {
		return backend.ConnectionInfo{}, err
	}
	ci.Password = password
	if deps.PassFile != nil && deps.Prompter.ConfirmSave(ctx, ci) {
		_ = deps.PassFile.Upsert(string(ci.Kind), ci.Host, strconv.Itoa(ci.Port), ci.Database, ci.User, password)
	}
	return ci, nil
}

func attachTunnel(ctx context.Context, ci *backend.ConnectionInfo, deps Deps) (*tunnel.Tunnel, error) {
	if deps.Patterns == nil || deps.Tunnels == nil {
		return nil, nil
	}
	targetSpec, ok := deps.Patterns.Match(ci.Host)
	if !ok {
		return nil, nil
	}
	target, err := tunnel.ParseTarget(targetSpec)
	if err != nil {
		return nil, backenderr.Configurationf(err, "invalid ssh tunnel target for host %q", ci.Host)
	}
	originalHost, originalPort := ci.Host, ci.Port
	key := tunnel.Key(target.Host, target.Port, originalHost, strconv.Itoa(originalPort))
	t, err := deps.Tunnels.Get(key, func() (*tunnel.Tunnel, error) {
		return tunnel.Open(tunnel.Config{
			SSHHost:    target.Host,
			SSHPort:    target.Port,
			SSHUser:    target.User,
			RemoteHost: originalHost,
			RemotePort: strconv.Itoa(originalPort),
		})
	})
	if err != nil {
		return nil, err
	}
	localHost, localPortStr, err := splitHostPort(t.LocalAddr)
	if err != nil {
		return nil, backenderr.Tunnelf(err, "parse local tunnel address")
	}
	localPort, _ := strconv.Atoi(localPortStr)
	ci.Tunnel = &backend.TunnelInfo{LocalHost: localHost, LocalPort: localPort}
	_ = ctx
	return t, nil
}

func splitHostPort(addr string) (string, string, error) {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return "", "", fmt.Errorf("malformed address %q", addr)
	}
	return addr[:i], addr[i+1:], nil
}

func defaultPort(kind backend.Kind) int {
	switch kind {
	case backend.KindPostgres:
		return 5432
	case backend.KindMySQL:
		return 3306
	case backend.KindClickHouse:
		return 9000
	case backend.KindMongo:
		return 27017
	case backend.KindElasticsearch:
		return 9200
	default:
		return 0
	}
}

func parseTLS(params map[string]string) (backend.TLSConfig, bool) {
	mode, ok := params["sslmode"]
	if !ok {
		mode, ok = params["ssl"]
	}
	if !ok {
		return backend.TLSConfig{}, false
	}
	cfg := backend.TLSConfig{
		Enabled:            mode != "disable" && mode != "false",
		InsecureSkipVerify: mode == "allow" || mode == "prefer",
		CACertPath:         params["sslrootcert"],
		ClientCertPath:     params["sslcert"],
		ClientKeyPath:      params["sslkey"],
	}
	return cfg, true
}

// stripPassword returns raw with any userinfo password removed, for
// DisplayURL / recent-connection persistence.
func stripPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

func resolveSQLite(rest string) backend.ConnectionInfo {
	path := rest
	if strings.HasPrefix(path, ":memory:") {
		path = ":memory:"
	}
	return backend.ConnectionInfo{
		Kind:       backend.KindSQLite,
		Database:   path,
		DisplayURL: "sqlite://" + rest,
	}
}

func resolveFileEngine(scheme, rest string) backend.ConnectionInfo {
	return backend.ConnectionInfo{
		Kind:       backend.KindFile,
		Database:   rest,
		Params:     map[string]string{"format": scheme},
		DisplayURL: scheme + "://" + rest,
	}
}

func resolveSession(ctx context.Context, name string, depth int, deps Deps, seen map[string]struct{}) (backend.ConnectionInfo, *tunnel.Tunnel, error) {
	if deps.Sessions == nil {
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no session store configured")
	}
	var target string
	if name == "" {
		picked, ok, err := deps.Sessions.PickSaved(ctx)
		if err != nil {
			return backend.ConnectionInfo{}, nil, err
		}
		if !ok {
			return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no saved session selected")
		}
		target = picked
	} else {
		found, ok := deps.Sessions.Lookup(name)
		if !ok {
			return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no saved session named %q", name)
		}
		target = found
	}
	return Resolve(ctx, target, depth+1, deps, seen)
}

func resolveRecent(ctx context.Context, depth int, deps Deps, seen map[string]struct{}) (backend.ConnectionInfo, *tunnel.Tunnel, error) {
	if deps.Sessions == nil {
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no recent-connection history configured")
	}
	picked, ok, err := deps.Sessions.PickRecent(ctx)
	if err != nil {
		return backend.ConnectionInfo{}, nil, err
	}
	if !ok {
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no recent connection selected")
	}
	return Resolve(ctx, picked, depth+1, deps, seen)
}

func resolveDocker(ctx context.Context, rest string, depth int, deps Deps, seen map[string]struct{}) (backend.ConnectionInfo, *tunnel.Tunnel, error) {
	if deps.Docker == nil {
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no docker client configured")
	}
	var cand docker.Candidate
	if rest == "" {
		candidates, err := deps.Docker.List(ctx)
		if err != nil {
			return backend.ConnectionInfo{}, nil, err
		}
		if len(candidates) == 0 {
			return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no running database containers found")
		}
		if len(candidates) == 1 {
			cand = candidates[0]
		} else {
			if deps.Containers == nil {
				return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "multiple database containers found and no interactive picker is configured")
			}
			picked, ok, err := deps.Containers.PickContainer(ctx, candidates)
			if err != nil {
				return backend.ConnectionInfo{}, nil, err
			}
			if !ok {
				return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no container selected")
			}
			cand = picked
		}
	} else {
		found, err := deps.Docker.Inspect(ctx, rest)
		if err != nil {
			return backend.ConnectionInfo{}, nil, err
		}
		cand = found
	}
	return Resolve(ctx, cand.URL(), depth+1, deps, seen)
}

// resolveVault implements `vault://role@mount/target`: fetch a dynamic
// credential for (mount, role), look up target as a saved session (the
// "otherwise known target URL" spec's table refers to — see the worked
// example `vault://web@db/pg-prod`, where "pg-prod" names a saved session
// rather than a literal backend scheme), substitute the issued username and
// password into its userinfo, and recurse on the result.
func resolveVault(ctx context.Context, rest string, depth int, deps Deps, seen map[string]struct{}) (backend.ConnectionInfo, *tunnel.Tunnel, error) {
	if deps.VaultCache == nil {
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no vault credential cache configured")
	}
	role, mountAndTarget, ok := strings.Cut(rest, "@")
	if !ok {
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "malformed vault url, expected vault://role@mount/target")
	}
	mount, targetName, ok := strings.Cut(mountAndTarget, "/")
	if !ok {
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "malformed vault url, expected vault://role@mount/target")
	}
	if deps.Sessions == nil {
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no session store configured to resolve vault target %q", targetName)
	}
	targetURL, ok := deps.Sessions.Lookup(targetName)
	if !ok {
		return backend.ConnectionInfo{}, nil, backenderr.Resolutionf(nil, "no saved session named %q for vault target", targetName)
	}
	entry, err := deps.VaultCache.Lookup(mount, role)
	if err != nil {
		return backend.ConnectionInfo{}, nil, err
	}
	substituted, err := substituteCredentials(targetURL, entry.Username, entry.Password)
	if err != nil {
		return backend.ConnectionInfo{}, nil, err
	}
	ci, t, err := Resolve(ctx, substituted, depth+1, deps, seen)
	if err != nil {
		return ci, t, err
	}
	ci.DynamicCredential = &backend.DynamicCredentialRef{Mount: mount, Role: role}
	return ci, t, nil
}

// substituteCredentials replaces targetURL's userinfo with username/password.
func substituteCredentials(targetURL, username, password string) (string, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", backenderr.Resolutionf(err, "parse vault target url")
	}
	u.User = url.UserPassword(username, password)
	return u.String(), nil
}

// Package config implements the TOML configuration file:
// load/save of $XDG_CONFIG_HOME/dbcrust/config.toml, the sibling
// recent.toml history file, and the saved_sessions registry. Grounded on
// stacklok-toolhive's direct go.mod dependency on both
// github.com/pelletier/go-toml/v2 (the decode/encode engine) and
// github.com/spf13/viper (bound to Cobra flags in cmd/thv/app/commands.go);
// this package owns the TOML file itself while cmd/dbcrust/cli uses viper
// only for DBCRUST_* environment-variable overrides.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/dbcrust/dbcrust/internal/backenderr"
)

// Database mirrors the [database] section.
type Database struct {
	DefaultLimit           int    `toml:"default_limit"`
	ExpandedDisplayDefault bool   `toml:"expanded_display_default"`
	ShowExecutionTime      bool   `toml:"show_execution_time"`
	AutoExplainThresholdMS int    `toml:"auto_explain_threshold_ms"`
	NullDisplay            string `toml:"null_display"`
}

// Display mirrors [display].
type Display struct {
	BorderStyle              int    `toml:"border_style"`
	DateFormat               string `toml:"date_format"`
	NumberFormat             string `toml:"number_format"`
	MaxColumnWidth           int    `toml:"max_column_width"`
	TruncateLongValues       bool   `toml:"truncate_long_values"`
	ColumnSelectionThreshold int    `toml:"column_selection_threshold"`
}

// ComplexDisplay mirrors [complex_display].
type ComplexDisplay struct {
	DisplayMode      string `toml:"display_mode"`
	TruncationLength int    `toml:"truncation_length"`
	SizeThreshold    int    `toml:"size_threshold"`
	ShowMetadata     bool   `toml:"show_metadata"`
	MaxWidth         int    `toml:"max_width"`
}

// History mirrors [history].
type History struct {
	MaxEntries            int  `toml:"max_entries"`
	Deduplicate           bool `toml:"deduplicate"`
	MaxRecentConnections  int  `toml:"max_recent_connections"`
}

// Vault mirrors [vault].
type Vault struct {
	Addr                  string  `toml:"addr"`
	MountPoint            string  `toml:"mount_point"`
	AuthMethod            string  `toml:"auth_method"`
	TimeoutSeconds        int     `toml:"timeout"`
	CacheEnabled          bool    `toml:"cache_enabled"`
	CacheRenewalThreshold float64 `toml:"cache_renewal_threshold"`
	CacheMinTTLSeconds    int     `toml:"cache_min_ttl_seconds"`
}

// Security mirrors [security].
type Security struct {
	VerifySSL            bool `toml:"verify_ssl"`
	PasswordCacheTimeout int  `toml:"password_cache_timeout"`
}

// Performance mirrors [performance].
type Performance struct {
	ConnectionTimeoutSeconds int `toml:"connection_timeout"`
	QueryTimeoutSeconds      int `toml:"query_timeout"`
	PoolMaxConnections       int `toml:"pool_max_connections"`
}

// SavedSession is one [saved_sessions.<name>] entry, written by \ss.
type SavedSession struct {
	URL string `toml:"url"`
}

// Config is the full parsed contents of config.toml.
type Config struct {
	Database           Database                `toml:"database"`
	Display            Display                 `toml:"display"`
	ComplexDisplay     ComplexDisplay          `toml:"complex_display"`
	History            History                 `toml:"history"`
	SSHTunnelPatterns  map[string]string       `toml:"ssh_tunnel_patterns"`
	Vault              Vault                   `toml:"vault"`
	Security           Security                `toml:"security"`
	Performance        Performance             `toml:"performance"`
	SavedSessions      map[string]SavedSession `toml:"saved_sessions"`
}

// Default returns a Config with every documented default value set.
func Default() Config {
	return Config{
		Database: Database{
			DefaultLimit: 1000,
			NullDisplay:  "NULL",
		},
		Display: Display{
			BorderStyle:              1,
			DateFormat:               "2006-01-02 15:04:05",
			NumberFormat:             "raw",
			MaxColumnWidth:           60,
			TruncateLongValues:       true,
			ColumnSelectionThreshold: 12,
		},
		ComplexDisplay: ComplexDisplay{
			DisplayMode:      "truncated",
			TruncationLength: 120,
			SizeThreshold:    30,
			MaxWidth:         80,
		},
		History: History{
			MaxEntries:           1000,
			Deduplicate:          true,
			MaxRecentConnections: 20,
		},
		SSHTunnelPatterns: map[string]string{},
		Vault: Vault{
			MountPoint:            "database",
			AuthMethod:            "token",
			TimeoutSeconds:        10,
			CacheEnabled:          true,
			CacheRenewalThreshold: 0.25,
			CacheMinTTLSeconds:    30,
		},
		Security: Security{
			VerifySSL:            true,
			PasswordCacheTimeout: 300,
		},
		Performance: Performance{
			ConnectionTimeoutSeconds: 10,
			QueryTimeoutSeconds:      30,
			PoolMaxConnections:       10,
		},
		SavedSessions: map[string]SavedSession{},
	}
}

// Dir returns $XDG_CONFIG_HOME/dbcrust, or ~/.config/dbcrust if
// XDG_CONFIG_HOME is unset.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dbcrust"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", backenderr.IOf(err, "resolve home directory")
	}
	return filepath.Join(home, ".config", "dbcrust"), nil
}

func configPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads config.toml, returning Default() merged under zero-value
// fields when the file does not exist, then overlays any DBCRUST_* override
// the environment sets.
func Load() (Config, error) {
	path, err := configPath()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	cfg := Default()
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return Config{}, backenderr.Configurationf(err, "read config file")
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, backenderr.Configurationf(err, "parse config file")
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides overlays cfg with whichever DBCRUST_<SECTION>_<FIELD>
// environment variables are set, via the viper.AutomaticEnv binding
// root.go's initConfig establishes (SetEnvPrefix("DBCRUST") plus a "."-to-
// "_" key replacer). Only the fields worth overriding per-invocation are
// covered — connection limits, timeouts, and vault/security settings that a
// deployment commonly pins through the environment rather than config.toml;
// display/formatting preferences stay file-only.
func applyEnvOverrides(cfg *Config) {
	if viper.IsSet("database.default_limit") {
		cfg.Database.DefaultLimit = viper.GetInt("database.default_limit")
	}
	if viper.IsSet("database.show_execution_time") {
		cfg.Database.ShowExecutionTime = viper.GetBool("database.show_execution_time")
	}
	if viper.IsSet("database.auto_explain_threshold_ms") {
		cfg.Database.AutoExplainThresholdMS = viper.GetInt("database.auto_explain_threshold_ms")
	}
	if viper.IsSet("history.max_entries") {
		cfg.History.MaxEntries = viper.GetInt("history.max_entries")
	}
	if viper.IsSet("history.max_recent_connections") {
		cfg.History.MaxRecentConnections = viper.GetInt("history.max_recent_connections")
	}
	if viper.IsSet("vault.addr") {
		cfg.Vault.Addr = viper.GetString("vault.addr")
	}
	if viper.IsSet("vault.mount_point") {
		cfg.Vault.MountPoint = viper.GetString("vault.mount_point")
	}
	if viper.IsSet("vault.auth_method") {
		cfg.Vault.AuthMethod = viper.GetString("vault.auth_method")
	}
	if viper.IsSet("vault.timeout") {
		cfg.Vault.TimeoutSeconds = viper.GetInt("vault.timeout")
	}
	if viper.IsSet("security.verify_ssl") {
		cfg.Security.VerifySSL = viper.GetBool("security.verify_ssl")
	}
	if viper.IsSet("security.password_cache_timeout") {
		cfg.Security.PasswordCacheTimeout = viper.GetInt("security.password_cache_timeout")
	}
	if viper.IsSet("performance.connection_timeout") {
		cfg.Performance.ConnectionTimeoutSeconds = viper.GetInt("performance.connection_timeout")
	}
	if viper.IsSet("performance.query_timeout") {
		cfg.Performance.QueryTimeoutSeconds = viper.GetInt("performance.query_timeout")
	}
	if viper.IsSet("performance.pool_max_connections") {
		cfg.Performance.PoolMaxConnections = viper.GetInt("performance.pool_max_connections")
	}
}

// Save writes cfg to config.toml, creating the config directory if needed.
func Save(cfg Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return backenderr.IOf(err, "create config directory")
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return backenderr.Configurationf(err, "encode config file")
	}
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return backenderr.IOf(err, "write config file")
	}
	return nil
}

// RecentConnection is one entry in recent.toml: a resolved connection URL
// (password-stripped) and when it was last used.
type RecentConnection struct {
	URL      string    `toml:"url"`
	LastUsed time.Time `toml:"last_used"`
}

// RecentFile is the sibling recent.toml history file.
type RecentFile struct {
	Connections []RecentConnection `toml:"connections"`
}

func recentPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "recent.toml"), nil
}

// LoadRecent reads recent.toml, returning an empty RecentFile if absent.
func LoadRecent() (RecentFile, error) {
	path, err := recentPath()
	if err != nil {
		return RecentFile{}, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return RecentFile{}, nil
	}
	if err != nil {
		return RecentFile{}, backenderr.IOf(err, "read recent connections file")
	}
	var rf RecentFile
	if err := toml.Unmarshal(data, &rf); err != nil {
		return RecentFile{}, backenderr.Configurationf(err, "parse recent connections file")
	}
	return rf, nil
}

// SaveRecent writes rf to recent.toml.
func SaveRecent(rf RecentFile) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return backenderr.IOf(err, "create config directory")
	}
	data, err := toml.Marshal(rf)
	if err != nil {
		return backenderr.Configurationf(err, "encode recent connections file")
	}
	path, err := recentPath()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return backenderr.IOf(err, "write recent connections file")
	}
	return nil
}

// RecordRecent prepends url to rf's connection list, deduplicating and
// trimming to maxEntries, per the [history] section's deduplicate and
// max_recent_connections settings.
func RecordRecent(rf RecentFile, url string, maxEntries int, dedupe bool) RecentFile {
	now := recordedAt()
	filtered := rf.Connections[:0:0]
	if dedupe {
		for _, c := range rf.Connections {
			if c.URL != url {
				filtered = append(filtered, c)
			}
		}
	} else {
		filtered = append(filtered, rf.Connections...)
	}
	entries := append([]RecentConnection{{URL: url, LastUsed: now}}, filtered...)
	if maxEntries > 0 && len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}
	return RecentFile{Connections: entries}
}

// recordedAt is overridable in tests; production code always uses wall-clock
// time of call.
var recordedAt = time.Now

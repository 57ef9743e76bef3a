package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Vault         VaultConfig
	Plugin        PluginConfig
	Remote        RemoteConfig
	DuckDB        DuckDBConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

// VaultConfig points at the database holding vault secrets. An empty DSN
// disables the vault.
type VaultConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type PluginConfig struct {
	MemoryLimitPages int
	FetchTimeout     time.Duration
	CacheDir         string
}

type RemoteConfig struct {
	QueryTimeout time.Duration
}

type DuckDBConfig struct {
	StagingDir string
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

// Load builds a Config from the profile defaults and the DUCKMESH_* variables
// that lookup reports.
func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}
	env := &envReader{lookup: lookup}

	profile := ProfileDev
	env.read("DUCKMESH_PROFILE", into(&profile, parseProfile))
	if env.err != nil {
		return Config{}, env.err
	}
	cfg := profileDefaults(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	env.read("DUCKMESH_SERVICE_NAME", into(&cfg.Service.Name, trimmed))
	env.read("DUCKMESH_VAULT_DSN", into(&cfg.Vault.DSN, trimmed))
	env.read("DUCKMESH_VAULT_MAX_OPEN_CONNS", into(&cfg.Vault.MaxOpenConns, strconv.Atoi))
	env.read("DUCKMESH_VAULT_CONN_MAX_LIFETIME", into(&cfg.Vault.ConnMaxLifetime, time.ParseDuration))
	env.read("DUCKMESH_PLUGIN_MEMORY_LIMIT_PAGES", into(&cfg.Plugin.MemoryLimitPages, parsePages))
	env.read("DUCKMESH_PLUGIN_FETCH_TIMEOUT", into(&cfg.Plugin.FetchTimeout, time.ParseDuration))
	env.read("DUCKMESH_PLUGIN_CACHE_DIR", into(&cfg.Plugin.CacheDir, trimmed))
	env.read("DUCKMESH_REMOTE_QUERY_TIMEOUT", into(&cfg.Remote.QueryTimeout, parseTimeout))
	env.read("DUCKMESH_DUCKDB_STAGING_DIR", into(&cfg.DuckDB.StagingDir, trimmed))
	env.read("DUCKMESH_LOG_JSON", into(&cfg.Observability.LogJSON, strconv.ParseBool))
	env.read("DUCKMESH_LOG_LEVEL", into(&cfg.Observability.LogLevel, parseLevel))
	if env.err != nil {
		return Config{}, env.err
	}
	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	return cfg, nil
}

func profileDefaults(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "fdwctl"},
		Vault:   VaultConfig{MaxOpenConns: 4, ConnMaxLifetime: 30 * time.Minute},
		Plugin:  PluginConfig{MemoryLimitPages: 1024, FetchTimeout: 30 * time.Second},
		Remote:  RemoteConfig{QueryTimeout: 5 * time.Minute},
	}
	switch profile {
	case ProfileDev:
		cfg.Observability.LogLevel = slog.LevelDebug
	case ProfileTest:
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Remote.QueryTimeout = 30 * time.Second
	case ProfileProd:
		cfg.Observability = ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true}
		cfg.Plugin.MemoryLimitPages = 4096
	}
	return cfg
}

// envReader applies variables in order and keeps the first failure.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (r *envReader) read(key string, apply func(string) error) {
	if r.err != nil {
		return
	}
	raw, ok := r.lookup(key)
	if !ok {
		return
	}
	if err := apply(strings.TrimSpace(raw)); err != nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func into[T any](dst *T, parse func(string) (T, error)) func(string) error {
	return func(raw string) error {
		value, err := parse(raw)
		if err != nil {
			return err
		}
		*dst = value
		return nil
	}
}

func trimmed(raw string) (string, error) { return raw, nil }

func parseProfile(raw string) (Profile, error) {
	switch profile := Profile(strings.ToLower(raw)); profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return profile, nil
	}
	return "", fmt.Errorf("unknown profile %q", raw)
}

// parsePages bounds the plugin memory limit by the 4 GiB wasm32 address space.
func parsePages(raw string) (int, error) {
	pages, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if pages < 0 || pages > 65536 {
		return 0, fmt.Errorf("%d pages is outside 0..65536", pages)
	}
	return pages, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	timeout, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if timeout < 0 {
		return 0, fmt.Errorf("negative timeout %s", timeout)
	}
	return timeout, nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", raw)
}

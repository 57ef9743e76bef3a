// Package registry maps wrapper names to the factories that build them.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/duckmesh/wrappers/internal/clickhouse"
	"github.com/duckmesh/wrappers/internal/config"
	"github.com/duckmesh/wrappers/internal/duckdb"
	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/stats"
	"github.com/duckmesh/wrappers/internal/wasm"
)

type Config struct {
	ClickHouseDial clickhouse.Dialer
	DuckDB         duckdb.Config
	Wasm           wasm.Config
}

// ConfigFrom derives wrapper settings from process configuration.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		DuckDB: duckdb.Config{StagingDir: cfg.DuckDB.StagingDir},
		Wasm: wasm.Config{
			MemoryLimitPages: uint32(cfg.Plugin.MemoryLimitPages),
			FetchTimeout:     cfg.Plugin.FetchTimeout,
			CacheDir:         cfg.Plugin.CacheDir,
		},
	}
}

type Registry struct {
	builders map[string]fdw.Factory
}

// New returns a registry holding the built-in wrappers.
func New(cfg Config) *Registry {
	r := &Registry{builders: map[string]fdw.Factory{}}
	r.Register(clickhouse.Name, clickhouse.NewFactory(cfg.ClickHouseDial))
	r.Register(duckdb.Name, duckdb.NewFactory(cfg.DuckDB))
	r.Register(wasm.Name, wasm.NewFactory(cfg.Wasm))
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory fdw.Factory) {
	r.builders[name] = factory
}

// Names returns the registered wrapper names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options returns the registered names, sorted and quoted into a string.
func (r *Registry) Options() string {
	names := r.Names()
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		quoted = append(quoted, fmt.Sprintf("%q", name))
	}
	return strings.Join(quoted, ", ")
}

// Open creates a wrapper for server and wraps it in a lifecycle instance.
func (r *Registry) Open(ctx context.Context, server fdw.ForeignServer, env fdw.Env) (*fdw.Instance, error) {
	factory, ok := r.builders[server.Wrapper]
	if !ok {
		return nil, fmt.Errorf("unknown wrapper %q, expected one of %s", server.Wrapper, r.Options())
	}
	wrapper, err := factory(ctx, server, env)
	if err != nil {
		stats.ObserveError(server.Wrapper, err)
		return nil, fmt.Errorf("create %s wrapper for server %q: %w", server.Wrapper, server.Name, err)
	}
	env.Log().DebugContext(ctx, "wrapper created", "fdw", server.Wrapper, "server", server.Name)
	return fdw.NewInstance(server.Wrapper, wrapper, env.Log()), nil
}

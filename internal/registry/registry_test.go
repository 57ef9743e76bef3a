package registry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/duckmesh/wrappers/internal/config"
	"github.com/duckmesh/wrappers/internal/fdw"
)

type emptyWrapper struct{}

func (emptyWrapper) BeginScan(context.Context, []fdw.Qual, []fdw.Column, []fdw.Sort, *fdw.Limit, fdw.Options) error {
	return nil
}
func (emptyWrapper) IterScan(context.Context, *fdw.Row) (bool, error) { return false, nil }
func (emptyWrapper) ReScan(context.Context) error                     { return nil }
func (emptyWrapper) EndScan(context.Context) error                    { return nil }

func TestNewRegistersBuiltins(t *testing.T) {
	r := New(Config{})
	if diff := cmp.Diff([]string{"clickhouse", "duckdb", "wasm"}, r.Names()); diff != "" {
		t.Fatalf("Names() mismatch (-want +got):\n%s", diff)
	}
	if got := r.Options(); got != `"clickhouse", "duckdb", "wasm"` {
		t.Fatalf("Options() = %s", got)
	}
}

func TestOpenUnknownWrapper(t *testing.T) {
	_, err := New(Config{}).Open(context.Background(), fdw.ForeignServer{Name: "s", Wrapper: "mysql"}, fdw.Env{})
	if err == nil || !strings.Contains(err.Error(), `unknown wrapper "mysql"`) {
		t.Fatalf("Open() error = %v", err)
	}
}

func TestOpenWrapsInstance(t *testing.T) {
	r := New(Config{})
	var gotServer fdw.ForeignServer
	r.Register("memory", func(_ context.Context, server fdw.ForeignServer, _ fdw.Env) (fdw.ForeignDataWrapper, error) {
		gotServer = server
		return emptyWrapper{}, nil
	})

	server := fdw.ForeignServer{Name: "mem", Wrapper: "memory", Options: fdw.Options{"a": "b"}}
	inst, err := r.Open(context.Background(), server, fdw.Env{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if inst.Name() != "memory" || inst.State() != fdw.StateCreated {
		t.Fatalf("Open() instance = %s in state %s", inst.Name(), inst.State())
	}
	if diff := cmp.Diff(server, gotServer); diff != "" {
		t.Fatalf("factory server mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenPropagatesFactoryErrors(t *testing.T) {
	_, err := New(Config{}).Open(context.Background(), fdw.ForeignServer{Name: "ch", Wrapper: "clickhouse", Options: fdw.Options{}}, fdw.Env{})
	if !errors.Is(err, fdw.ErrOptionMissing) {
		t.Fatalf("Open() error = %v, want option missing", err)
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Config{
		Plugin: config.PluginConfig{MemoryLimitPages: 64, FetchTimeout: time.Second, CacheDir: "/cache"},
		DuckDB: config.DuckDBConfig{StagingDir: "/stage"},
	}
	got := ConfigFrom(cfg)
	if got.Wasm.MemoryLimitPages != 64 || got.Wasm.FetchTimeout != time.Second || got.Wasm.CacheDir != "/cache" {
		t.Fatalf("ConfigFrom().Wasm = %+v", got.Wasm)
	}
	if got.DuckDB.StagingDir != "/stage" {
		t.Fatalf("ConfigFrom().DuckDB = %+v", got.DuckDB)
	}
}

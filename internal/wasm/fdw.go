// Package wasm runs foreign data wrappers packaged as WebAssembly modules.
//
// A package declares its ABI version in the wrappers-abi custom section and
// exports one function per lifecycle operation. The host calls them with
// JSON requests and decodes JSON results, see package abiv2.
package wasm

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/wasm/abiv2"
)

const Name = "wasm"

type Config struct {
	// MemoryLimitPages caps guest memory in 64KiB pages. 0 keeps the wazero
	// default.
	MemoryLimitPages uint32
	// FetchTimeout bounds downloads of http(s) packages.
	FetchTimeout time.Duration
	// CacheDir keeps downloaded packages by checksum. Empty disables caching.
	CacheDir   string
	HTTPClient *http.Client
	// Cache shares compiled modules between instances.
	Cache wazero.CompilationCache
}

// Wrapper forwards every lifecycle operation to a guest package.
type Wrapper struct {
	guest  guest
	name   string
	env    fdw.Env
	logger *slog.Logger
}

// NewFactory returns a factory whose instances share one compilation cache.
func NewFactory(cfg Config) fdw.Factory {
	if cfg.Cache == nil {
		cfg.Cache = wazero.NewCompilationCache()
	}
	return func(ctx context.Context, server fdw.ForeignServer, env fdw.Env) (fdw.ForeignDataWrapper, error) {
		w, err := New(ctx, server, env, cfg)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

// New loads the package named by the fdw_package_url server option and calls
// its create export with the server options.
func New(ctx context.Context, server fdw.ForeignServer, env fdw.Env, cfg Config) (*Wrapper, error) {
	rawURL, err := server.Options.Require("fdw_package_url")
	if err != nil {
		return nil, err
	}
	src := packageSource{
		URL:      rawURL,
		Checksum: server.Options.GetOr("fdw_package_checksum", ""),
		CacheDir: cfg.CacheDir,
		Timeout:  cfg.FetchTimeout,
		Client:   cfg.HTTPClient,
	}
	wasmBytes, err := src.load(ctx)
	if err != nil {
		return nil, err
	}

	name := server.Options.GetOr("fdw_package_name", Name)
	fields := []zap.Field{zap.String("fdw", name), zap.String("server", server.Name)}
	hooks := hostHooks{
		log: func(level uint32, msg string) {
			logGuest(fields, level, msg)
		},
		incStats: func(metric abiv2.Metric, delta int64) {
			m, err := metric.Host()
			if err != nil {
				Logger().Warn("guest reported unknown metric", append(fields, zap.Uint32("metric", uint32(metric)))...)
				return
			}
			env.IncStats(name, m, delta)
		},
	}
	g, err := instantiate(ctx, wasmBytes, runtimeConfig{MemoryLimitPages: cfg.MemoryLimitPages, Cache: cfg.Cache}, hooks)
	if err != nil {
		return nil, err
	}
	Logger().Debug("loaded package", append(fields, zap.String("abi", g.version), zap.Int("bytes", len(wasmBytes)))...)

	w, err := newWithGuest(ctx, server, env, name, g)
	if err != nil {
		_ = g.close(ctx)
		return nil, err
	}
	return w, nil
}

func newWithGuest(ctx context.Context, server fdw.ForeignServer, env fdw.Env, name string, g guest) (*Wrapper, error) {
	req := abiv2.CreateRequest{Server: server.Name, Options: server.Options.Clone()}
	if err := g.call(ctx, abiv2.ExportCreate, req, nil); err != nil {
		return nil, err
	}
	env.IncStats(name, fdw.MetricCreateTimes, 1)
	return &Wrapper{
		guest:  g,
		name:   name,
		env:    env,
		logger: env.Log().With(slog.String("fdw", name), slog.String("server", server.Name)),
	}, nil
}

func (w *Wrapper) BeginScan(ctx context.Context, quals []fdw.Qual, columns []fdw.Column, sorts []fdw.Sort, limit *fdw.Limit, options fdw.Options) error {
	guestQuals, err := abiv2.FromQuals(quals)
	if err != nil {
		return err
	}
	req := abiv2.BeginScanRequest{
		Quals:   guestQuals,
		Columns: abiv2.FromColumns(columns),
		Sorts:   abiv2.FromSorts(sorts),
		Limit:   abiv2.FromLimit(limit),
		Options: options.Clone(),
	}
	w.logger.DebugContext(ctx, "begin scan", slog.Int("quals", len(quals)), slog.Int("columns", len(columns)))
	return w.guest.call(ctx, abiv2.ExportBeginScan, req, nil)
}

func (w *Wrapper) IterScan(ctx context.Context, row *fdw.Row) (bool, error) {
	var resp abiv2.IterScanResponse
	if err := w.guest.call(ctx, abiv2.ExportIterScan, abiv2.Empty{}, &resp); err != nil {
		return false, err
	}
	if resp.Row == nil {
		return false, nil
	}
	if err := resp.Row.AppendTo(row); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Wrapper) ReScan(ctx context.Context) error {
	return w.guest.call(ctx, abiv2.ExportReScan, abiv2.Empty{}, nil)
}

func (w *Wrapper) EndScan(ctx context.Context) error {
	w.logger.DebugContext(ctx, "end scan")
	return w.guest.call(ctx, abiv2.ExportEndScan, abiv2.Empty{}, nil)
}

func (w *Wrapper) BeginModify(ctx context.Context, options fdw.Options) error {
	if !w.guest.has(abiv2.ExportBeginModify) {
		return fdw.Unsupported("modify", w.name)
	}
	return w.guest.call(ctx, abiv2.ExportBeginModify, abiv2.BeginModifyRequest{Options: options.Clone()}, nil)
}

func (w *Wrapper) Insert(ctx context.Context, row fdw.Row) error {
	guestRow, err := abiv2.FromRow(row)
	if err != nil {
		return err
	}
	return w.guest.call(ctx, abiv2.ExportInsert, abiv2.InsertRequest{Row: guestRow}, nil)
}

func (w *Wrapper) Update(ctx context.Context, rowid fdw.Cell, row fdw.Row) error {
	id, err := abiv2.FromCell(rowid)
	if err != nil {
		return err
	}
	guestRow, err := abiv2.FromRow(row)
	if err != nil {
		return err
	}
	return w.guest.call(ctx, abiv2.ExportUpdate, abiv2.UpdateRequest{Rowid: id, Row: guestRow}, nil)
}

func (w *Wrapper) Delete(ctx context.Context, rowid fdw.Cell) error {
	id, err := abiv2.FromCell(rowid)
	if err != nil {
		return err
	}
	return w.guest.call(ctx, abiv2.ExportDelete, abiv2.DeleteRequest{Rowid: id}, nil)
}

func (w *Wrapper) EndModify(ctx context.Context) error {
	return w.guest.call(ctx, abiv2.ExportEndModify, abiv2.Empty{}, nil)
}

func (w *Wrapper) ImportForeignSchema(ctx context.Context, stmt fdw.ImportForeignSchemaStmt) ([]string, error) {
	if !w.guest.has(abiv2.ExportImportForeignSchema) {
		return nil, fdw.Unsupported("import_foreign_schema", w.name)
	}
	var resp abiv2.ImportForeignSchemaResponse
	req := abiv2.ImportForeignSchemaRequest{Stmt: abiv2.FromImportForeignSchemaStmt(stmt)}
	if err := w.guest.call(ctx, abiv2.ExportImportForeignSchema, req, &resp); err != nil {
		return nil, err
	}
	return resp.Statements, nil
}

func (w *Wrapper) Close() error {
	return w.guest.close(context.Background())
}

package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/pushdown"
	"github.com/duckmesh/wrappers/internal/storage"
	"github.com/duckmesh/wrappers/internal/storage/s3"
)

const Name = "duckdb"

type Config struct {
	// Store serves objects named by the objects table option. When nil, a
	// store is built from the s3_* server options, if any.
	Store storage.ObjectStore
	// StagingDir is the parent of per-scan staging directories. Empty means
	// the system temp dir.
	StagingDir string
}

// Wrapper scans and modifies tables of a DuckDB database, optionally over
// Parquet objects staged from an object store.
type Wrapper struct {
	db         *sql.DB
	store      storage.ObjectStore
	stagingDir string
	env        fdw.Env
	logger     *slog.Logger

	table    string
	rowidCol string

	columns  []fdw.Column
	compiled pushdown.Compiled
	types    []string
	names    []string
	rows     [][]any
	rowIdx   int
	staged   *staged
}

func NewFactory(cfg Config) fdw.Factory {
	return func(ctx context.Context, server fdw.ForeignServer, env fdw.Env) (fdw.ForeignDataWrapper, error) {
		w, err := New(ctx, server, env, cfg)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

// New opens the database named by the database server option; an empty or
// missing value opens an in-memory database.
func New(ctx context.Context, server fdw.ForeignServer, env fdw.Env, cfg Config) (*Wrapper, error) {
	store := cfg.Store
	if store == nil {
		s3cfg, ok, err := s3.ConfigFromOptions(ctx, server.Options, env.Secrets)
		if err != nil {
			return nil, err
		}
		if ok {
			s3store, err := s3.New(s3cfg)
			if err != nil {
				return nil, fdw.RemoteProtocol("open object store", err)
			}
			store = s3store
		}
	}

	db, err := sql.Open("duckdb", server.Options.GetOr("database", ""))
	if err != nil {
		return nil, fdw.RemoteProtocol("open duckdb", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fdw.RemoteProtocol("ping duckdb", err)
	}

	env.IncStats(Name, fdw.MetricCreateTimes, 1)
	return &Wrapper{
		db:         db,
		store:      store,
		stagingDir: server.Options.GetOr("staging_dir", cfg.StagingDir),
		env:        env,
		logger:     env.Log().With(slog.String("fdw", Name), slog.String("server", server.Name)),
	}, nil
}

func (w *Wrapper) BeginScan(ctx context.Context, quals []fdw.Qual, columns []fdw.Column, sorts []fdw.Sort, limit *fdw.Limit, options fdw.Options) error {
	table, err := options.Require("table")
	if err != nil {
		return err
	}
	compiled, err := pushdown.Compile(pushdown.Standard{}, pushdown.Query{
		Table:   table,
		Quals:   quals,
		Columns: columns,
		Sorts:   sorts,
		Limit:   limit,
	})
	if err != nil {
		return err
	}
	if err := w.stage(ctx, table, options); err != nil {
		return err
	}

	w.logger.DebugContext(ctx, "begin scan", slog.String("sql", compiled.SQL))
	names, types, rows, err := w.query(ctx, compiled.SQL)
	if err != nil {
		return err
	}

	w.columns = append([]fdw.Column(nil), columns...)
	w.compiled = compiled
	w.names = names
	w.types = types
	w.rows = rows
	w.rowIdx = 0

	w.env.IncStats(Name, fdw.MetricRowsIn, int64(len(rows)))
	w.env.IncStats(Name, fdw.MetricRowsOut, int64(len(rows)))
	return nil
}

// stage copies the objects table option into a view. The view is named by
// the view option, or by table when table is not a query template.
func (w *Wrapper) stage(ctx context.Context, table string, options fdw.Options) error {
	raw, ok := options.Get("objects")
	if !ok {
		return nil
	}
	refs, err := storage.ParseObjectList(raw)
	if err != nil {
		return fdw.ValueParse("objects", raw, err)
	}
	view := options.GetOr("view", "")
	if view == "" {
		if strings.HasPrefix(table, "(") {
			return fdw.OptionMissing("view")
		}
		view = table
	}
	if err := w.staged.release(ctx, w.db); err != nil {
		w.logger.WarnContext(ctx, "release staged objects", slog.String("error", err.Error()))
	}
	st, err := stageObjects(ctx, w.db, w.store, w.stagingDir, view, refs)
	w.staged = st
	if err != nil {
		return fdw.RemoteProtocol("stage objects", err)
	}
	w.logger.DebugContext(ctx, "staged objects",
		slog.String("view", view), slog.Int("files", st.files), slog.Int64("bytes", st.bytes))
	w.env.IncStats(Name, fdw.MetricBytesIn, st.bytes)
	return nil
}

func (w *Wrapper) query(ctx context.Context, sqlText string) ([]string, []string, [][]any, error) {
	rows, err := w.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, nil, fdw.RemoteProtocol("query", err)
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, nil, fdw.RemoteProtocol("query columns", err)
	}
	names := make([]string, len(columnTypes))
	types := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		names[i] = ct.Name()
		types[i] = ct.DatabaseTypeName()
	}

	result := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columnTypes))
		scanTargets := make([]any, len(columnTypes))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, nil, fdw.RemoteProtocol("scan row", err)
		}
		result = append(result, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, fdw.RemoteProtocol("iterate rows", err)
	}
	return names, types, result, nil
}

func (w *Wrapper) columnIndex(name string) int {
	for i, n := range w.names {
		if n == name {
			return i
		}
	}
	return -1
}

func (w *Wrapper) IterScan(_ context.Context, row *fdw.Row) (bool, error) {
	if w.rowIdx >= len(w.rows) {
		return false, nil
	}
	src := w.rows[w.rowIdx]
	for _, col := range w.columns {
		if cell, ok := w.compiled.ParamValue(col.Name); ok {
			row.Push(col.Name, cell)
			continue
		}
		idx := w.columnIndex(col.Name)
		if idx < 0 {
			row.Push(col.Name, nil)
			continue
		}
		cell, err := valueToCell(w.types[idx], src[idx])
		if err != nil {
			return false, err
		}
		row.Push(col.Name, cell)
	}
	w.rowIdx++
	return true, nil
}

func (w *Wrapper) ReScan(context.Context) error {
	w.rowIdx = 0
	return nil
}

func (w *Wrapper) EndScan(ctx context.Context) error {
	w.rows = nil
	w.rowIdx = 0
	err := w.staged.release(ctx, w.db)
	w.staged = nil
	return err
}

func (w *Wrapper) BeginModify(_ context.Context, options fdw.Options) error {
	table, err := options.Require("table")
	if err != nil {
		return err
	}
	rowidCol, err := options.Require("rowid_column")
	if err != nil {
		return err
	}
	w.table = table
	w.rowidCol = rowidCol
	return nil
}

func (w *Wrapper) exec(ctx context.Context, op, sqlText string) error {
	w.logger.DebugContext(ctx, op, slog.String("sql", sqlText))
	if _, err := w.db.ExecContext(ctx, sqlText); err != nil {
		return fdw.RemoteProtocol(op, err)
	}
	return nil
}

func (w *Wrapper) Insert(ctx context.Context, row fdw.Row) error {
	if w.table == "" {
		return fdw.InvalidState("insert", fdw.StateCreated)
	}
	if row.Len() == 0 {
		return w.exec(ctx, "insert", fmt.Sprintf("insert into %s default values", w.table))
	}
	lits := make([]string, 0, row.Len())
	for _, cell := range row.Cells {
		lit, err := pushdown.Literal(pushdown.Standard{}, cell)
		if err != nil {
			return err
		}
		lits = append(lits, lit)
	}
	cols := make([]string, len(row.Cols))
	for i, name := range row.Cols {
		cols[i] = quoteIdent(name)
	}
	sqlText := fmt.Sprintf("insert into %s (%s) values (%s)", w.table, strings.Join(cols, ", "), strings.Join(lits, ", "))
	if err := w.exec(ctx, "insert", sqlText); err != nil {
		return err
	}
	w.env.IncStats(Name, fdw.MetricRowsOut, 1)
	return nil
}

func (w *Wrapper) Update(ctx context.Context, rowid fdw.Cell, row fdw.Row) error {
	if w.table == "" {
		return fdw.InvalidState("update", fdw.StateCreated)
	}
	sets := make([]string, 0, row.Len())
	for i, name := range row.Cols {
		if name == w.rowidCol {
			continue
		}
		lit, err := pushdown.Literal(pushdown.Standard{}, row.Cells[i])
		if err != nil {
			return err
		}
		sets = append(sets, quoteIdent(name)+" = "+lit)
	}
	if len(sets) == 0 {
		return nil
	}
	id, err := pushdown.Literal(pushdown.Standard{}, rowid)
	if err != nil {
		return err
	}
	return w.exec(ctx, "update", fmt.Sprintf("update %s set %s where %s = %s", w.table, strings.Join(sets, ", "), quoteIdent(w.rowidCol), id))
}

func (w *Wrapper) Delete(ctx context.Context, rowid fdw.Cell) error {
	if w.table == "" {
		return fdw.InvalidState("delete", fdw.StateCreated)
	}
	id, err := pushdown.Literal(pushdown.Standard{}, rowid)
	if err != nil {
		return err
	}
	return w.exec(ctx, "delete", fmt.Sprintf("delete from %s where %s = %s", w.table, quoteIdent(w.rowidCol), id))
}

func (w *Wrapper) EndModify(context.Context) error {
	w.table = ""
	w.rowidCol = ""
	return nil
}

func (w *Wrapper) Close() error {
	_ = w.staged.release(context.Background(), w.db)
	w.staged = nil
	return w.db.Close()
}

package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/pushdown"
)

const Name = "clickhouse"

// Wrapper reads and writes ClickHouse tables. Each scan materializes the
// whole result block before the first row is returned.
type Wrapper struct {
	connStr string
	dial    Dialer
	env     fdw.Env
	logger  *slog.Logger

	conn Conn

	table    string
	rowidCol string

	columns  []fdw.Column
	compiled pushdown.Compiled
	block    *Block
	rowIdx   int

	probe map[string]columnType
}

// NewFactory returns a factory that opens connections with dial. A nil
// dial uses the native client.
func NewFactory(dial Dialer) fdw.Factory {
	return func(ctx context.Context, server fdw.ForeignServer, env fdw.Env) (fdw.ForeignDataWrapper, error) {
		w, err := New(ctx, server, env, dial)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

// New resolves conn_string, directly or through conn_string_id in the
// vault. No connection is opened until a scan or modify begins.
func New(ctx context.Context, server fdw.ForeignServer, env fdw.Env, dial Dialer) (*Wrapper, error) {
	connStr, err := fdw.RequireSecretOption(ctx, server.Options, "conn_string", env.Secrets)
	if err != nil {
		return nil, err
	}
	if dial == nil {
		dial = Dial
	}
	env.IncStats(Name, fdw.MetricCreateTimes, 1)
	return &Wrapper{
		connStr: connStr,
		dial:    dial,
		env:     env,
		logger:  env.Log().With(slog.String("fdw", Name), slog.String("server", server.Name)),
	}, nil
}

func (w *Wrapper) connect(ctx context.Context) error {
	if w.conn != nil {
		return nil
	}
	conn, err := w.dial(ctx, w.connStr)
	if err != nil {
		return fdw.RemoteProtocol("connect", err)
	}
	w.conn = conn
	return nil
}

func (w *Wrapper) disconnect() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *Wrapper) BeginScan(ctx context.Context, quals []fdw.Qual, columns []fdw.Column, sorts []fdw.Sort, limit *fdw.Limit, options fdw.Options) error {
	table, err := options.Require("table")
	if err != nil {
		return err
	}
	compiled, err := pushdown.Compile(Dialect{}, pushdown.Query{
		Table:   table,
		Quals:   quals,
		Columns: columns,
		Sorts:   sorts,
		Limit:   limit,
	})
	if err != nil {
		return err
	}
	if err := w.connect(ctx); err != nil {
		return err
	}

	w.logger.DebugContext(ctx, "begin scan", slog.String("sql", compiled.SQL))
	block, err := w.conn.Query(ctx, compiled.SQL)
	if err != nil {
		return fdw.RemoteProtocol("query", err)
	}

	w.table = table
	w.columns = append([]fdw.Column(nil), columns...)
	w.compiled = compiled
	w.block = block
	w.rowIdx = 0

	rows := int64(block.RowCount())
	w.env.IncStats(Name, fdw.MetricRowsIn, rows)
	w.env.IncStats(Name, fdw.MetricRowsOut, rows)
	return nil
}

func (w *Wrapper) IterScan(_ context.Context, row *fdw.Row) (bool, error) {
	if w.block == nil || w.rowIdx >= len(w.block.Rows) {
		return false, nil
	}
	src := w.block.Rows[w.rowIdx]
	for _, col := range w.columns {
		if cell, ok := w.compiled.ParamValue(col.Name); ok {
			row.Push(col.Name, cell)
			continue
		}
		idx := w.block.ColumnIndex(col.Name)
		if idx < 0 {
			row.Push(col.Name, nil)
			continue
		}
		cell, err := fieldToCell(w.block.Columns[idx].Type, src[idx])
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

func (w *Wrapper) EndScan(context.Context) error {
	w.block = nil
	w.rowIdx = 0
	return w.disconnect()
}

func (w *Wrapper) BeginModify(ctx context.Context, options fdw.Options) error {
	table, err := options.Require("table")
	if err != nil {
		return err
	}
	rowidCol, err := options.Require("rowid_column")
	if err != nil {
		return err
	}
	if err := w.connect(ctx); err != nil {
		return err
	}
	w.table = table
	w.rowidCol = rowidCol
	w.probe = nil
	return nil
}

// probeTypes reads the declared column types of the target table once per
// modify.
func (w *Wrapper) probeTypes(ctx context.Context) (map[string]columnType, error) {
	if w.probe != nil {
		return w.probe, nil
	}
	block, err := w.conn.Query(ctx, fmt.Sprintf("select * from %s where false", w.table))
	if err != nil {
		return nil, fdw.RemoteProtocol("probe "+w.table, err)
	}
	probe := make(map[string]columnType, len(block.Columns))
	for _, col := range block.Columns {
		probe[col.Name] = parseColumnType(col.Type)
	}
	w.probe = probe
	return probe, nil
}

func (w *Wrapper) Insert(ctx context.Context, row fdw.Row) error {
	if w.conn == nil {
		return fdw.InvalidState("insert", fdw.StateCreated)
	}
	probe, err := w.probeTypes(ctx)
	if err != nil {
		return err
	}
	cols := make([]string, 0, row.Len())
	values := make([]any, 0, row.Len())
	for i, name := range row.Cols {
		cell := row.Cells[i]
		if cell == nil {
			continue
		}
		ct, ok := probe[name]
		if !ok {
			return fdw.RemoteProtocol("insert", fmt.Errorf("column %q not found in %s", name, w.table))
		}
		value, err := cellToValue(cell, ct)
		if err != nil {
			return err
		}
		cols = append(cols, name)
		values = append(values, value)
	}
	if len(cols) == 0 {
		// An all-NULL row names its columns explicitly with nil values.
		if row.Len() == 0 {
			return fdw.ValueParse("row", "", errors.New("insert row has no columns"))
		}
		for _, name := range row.Cols {
			if _, ok := probe[name]; !ok {
				return fdw.RemoteProtocol("insert", fmt.Errorf("column %q not found in %s", name, w.table))
			}
			cols = append(cols, name)
			values = append(values, nil)
		}
	}
	if err := w.conn.Insert(ctx, w.table, cols, values); err != nil {
		return fdw.RemoteProtocol("insert", err)
	}
	return nil
}

func (w *Wrapper) Update(ctx context.Context, rowid fdw.Cell, row fdw.Row) error {
	if w.conn == nil {
		return fdw.InvalidState("update", fdw.StateCreated)
	}
	sets := make([]string, 0, row.Len())
	for i, name := range row.Cols {
		if name == w.rowidCol {
			continue
		}
		lit, err := pushdown.Literal(Dialect{}, row.Cells[i])
		if err != nil {
			return err
		}
		sets = append(sets, name+" = "+lit)
	}
	if len(sets) == 0 {
		return nil
	}
	id, err := pushdown.Literal(Dialect{}, rowid)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf("alter table %s update %s where %s = %s", w.table, strings.Join(sets, ", "), w.rowidCol, id)
	w.logger.DebugContext(ctx, "update", slog.String("sql", sql))
	if err := w.conn.Exec(ctx, sql); err != nil {
		return fdw.RemoteProtocol("update", err)
	}
	return nil
}

func (w *Wrapper) Delete(ctx context.Context, rowid fdw.Cell) error {
	if w.conn == nil {
		return fdw.InvalidState("delete", fdw.StateCreated)
	}
	id, err := pushdown.Literal(Dialect{}, rowid)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf("alter table %s delete where %s = %s", w.table, w.rowidCol, id)
	w.logger.DebugContext(ctx, "delete", slog.String("sql", sql))
	if err := w.conn.Exec(ctx, sql); err != nil {
		return fdw.RemoteProtocol("delete", err)
	}
	return nil
}

func (w *Wrapper) EndModify(context.Context) error {
	w.probe = nil
	return w.disconnect()
}

func (w *Wrapper) Close() error {
	w.block = nil
	return w.disconnect()
}

package clickhouse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duckmesh/wrappers/internal/datum"
	"github.com/duckmesh/wrappers/internal/fdw"
)

const listColumnsSQL = "select table, name, type from system.columns where database = %s order by table, position"

// ImportForeignSchema describes every remote table in the requested
// database. Columns with unsupported types are skipped unless the import
// option strict is true.
func (w *Wrapper) ImportForeignSchema(ctx context.Context, stmt fdw.ImportForeignSchemaStmt) ([]string, error) {
	strict, err := stmt.Options.Bool("strict", false)
	if err != nil {
		return nil, err
	}
	database := "currentDatabase()"
	if stmt.RemoteSchema != "" {
		database = Dialect{}.QuoteString(stmt.RemoteSchema)
	}
	if err := w.connect(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = w.disconnect() }()

	block, err := w.conn.Query(ctx, fmt.Sprintf(listColumnsSQL, database))
	if err != nil {
		return nil, fdw.RemoteProtocol("list columns", err)
	}

	codec := datum.New()
	var order []string
	tables := map[string][]fdw.ForeignTableColumn{}
	for _, values := range block.Rows {
		if len(values) < 3 {
			return nil, fdw.RemoteProtocol("list columns", fmt.Errorf("expected 3 columns, got %d", len(values)))
		}
		table, _ := values[0].(string)
		name, _ := values[1].(string)
		typ, _ := values[2].(string)
		if !stmt.Includes(table) {
			continue
		}
		if _, seen := tables[table]; !seen {
			order = append(order, table)
			tables[table] = nil
		}
		ct := parseColumnType(typ)
		oid, ok := engineTypeOID(ct)
		if !ok {
			if strict {
				return nil, fdw.UnsupportedColumnType(typ)
			}
			w.logger.DebugContext(ctx, "skip column with unsupported type",
				slog.String("table", table), slog.String("column", name), slog.String("type", typ))
			continue
		}
		tables[table] = append(tables[table], fdw.ForeignTableColumn{
			Name:    name,
			Type:    codec.TypeName(oid),
			NotNull: !ct.nullable,
		})
	}

	stmts := make([]string, 0, len(order))
	for _, table := range order {
		if len(tables[table]) == 0 {
			continue
		}
		remote := table
		if stmt.RemoteSchema != "" {
			remote = stmt.RemoteSchema + "." + table
		}
		stmts = append(stmts, fdw.CreateForeignTableSQL(stmt, table, tables[table], fdw.Options{"table": remote}))
	}
	return stmts, nil
}

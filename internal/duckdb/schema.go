package duckdb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/wrappers/internal/datum"
	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/pushdown"
)

const listColumnsSQL = `SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = %s
ORDER BY table_name, ordinal_position`

// ImportForeignSchema describes the tables and views of one DuckDB schema,
// main by default. Unsupported columns are skipped unless strict is true.
func (w *Wrapper) ImportForeignSchema(ctx context.Context, stmt fdw.ImportForeignSchemaStmt) ([]string, error) {
	strict, err := stmt.Options.Bool("strict", false)
	if err != nil {
		return nil, err
	}
	schema := stmt.RemoteSchema
	if schema == "" {
		schema = "main"
	}

	rows, err := w.db.QueryContext(ctx, fmt.Sprintf(listColumnsSQL, pushdown.Standard{}.QuoteString(schema)))
	if err != nil {
		return nil, fdw.RemoteProtocol("list columns", err)
	}
	defer func() { _ = rows.Close() }()

	codec := datum.New()
	var order []string
	tables := map[string][]fdw.ForeignTableColumn{}
	for rows.Next() {
		var table, name, typ, nullable string
		if err := rows.Scan(&table, &name, &typ, &nullable); err != nil {
			return nil, fdw.RemoteProtocol("scan column", err)
		}
		if !stmt.Includes(table) {
			continue
		}
		if _, seen := tables[table]; !seen {
			order = append(order, table)
			tables[table] = nil
		}
		oid, ok := engineTypeOID(typ)
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
			NotNull: strings.EqualFold(nullable, "NO"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fdw.RemoteProtocol("list columns", err)
	}

	stmts := make([]string, 0, len(order))
	for _, table := range order {
		if len(tables[table]) == 0 {
			continue
		}
		tableOptions := fdw.Options{"table": table}
		if schema != "main" {
			tableOptions["table"] = quoteIdent(schema) + "." + quoteIdent(table)
		}
		stmts = append(stmts, fdw.CreateForeignTableSQL(stmt, table, tables[table], tableOptions))
	}
	return stmts, nil
}

package fdw

import (
	"strings"
)

type ImportSchemaType int

const (
	ImportSchemaAll ImportSchemaType = iota
	ImportSchemaLimitTo
	ImportSchemaExcept
)

// Normalize maps unknown list types to ImportSchemaAll.
func (t ImportSchemaType) Normalize() ImportSchemaType {
	switch t {
	case ImportSchemaLimitTo, ImportSchemaExcept:
		return t
	default:
		return ImportSchemaAll
	}
}

func (t ImportSchemaType) String() string {
	switch t.Normalize() {
	case ImportSchemaLimitTo:
		return "limit-to"
	case ImportSchemaExcept:
		return "except"
	default:
		return "all"
	}
}

func ParseImportSchemaType(raw string) ImportSchemaType {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, "_", "-"))) {
	case "limit-to", "limit to":
		return ImportSchemaLimitTo
	case "except":
		return ImportSchemaExcept
	default:
		return ImportSchemaAll
	}
}

type ImportForeignSchemaStmt struct {
	ServerName   string
	RemoteSchema string
	LocalSchema  string
	ListType     ImportSchemaType
	TableList    []string
	Options      Options
}

func (s ImportForeignSchemaStmt) Includes(table string) bool {
	listed := false
	for _, name := range s.TableList {
		if name == table {
			listed = true
			break
		}
	}
	switch s.ListType.Normalize() {
	case ImportSchemaLimitTo:
		return listed
	case ImportSchemaExcept:
		return !listed
	default:
		return true
	}
}

type ForeignTableColumn struct {
	Name    string
	Type    string
	NotNull bool
}

// CreateForeignTableSQL renders the statement that declares one imported
// table in the local schema.
func CreateForeignTableSQL(stmt ImportForeignSchemaStmt, table string, columns []ForeignTableColumn, tableOptions Options) string {
	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		def := QuoteIdent(col.Name) + " " + col.Type
		if col.NotNull {
			def += " not null"
		}
		defs = append(defs, def)
	}
	opts := make([]string, 0, len(tableOptions))
	for _, key := range tableOptions.Keys() {
		opts = append(opts, key+" "+QuoteLiteral(tableOptions[key]))
	}

	var b strings.Builder
	b.WriteString("create foreign table if not exists ")
	b.WriteString(QuoteIdent(stmt.LocalSchema))
	b.WriteByte('.')
	b.WriteString(QuoteIdent(table))
	b.WriteString(" (\n  ")
	b.WriteString(strings.Join(defs, ",\n  "))
	b.WriteString("\n)\nserver ")
	b.WriteString(QuoteIdent(stmt.ServerName))
	if len(opts) > 0 {
		b.WriteString("\noptions (")
		b.WriteString(strings.Join(opts, ", "))
		b.WriteByte(')')
	}
	return b.String()
}

func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

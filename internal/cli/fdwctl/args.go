package fdwctl

import (
	"encoding/csv"
	"regexp"
	"strings"

	"github.com/duckmesh/wrappers/internal/datum"
	"github.com/duckmesh/wrappers/internal/fdw"
)

// nullText stands for a null cell in row and array values.
const nullText = `\N`

var (
	filterPattern = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(<>|!=|>=|<=|!~~|~~|=|<|>)\s*(.*?)\s*$`)
	isNullPattern = regexp.MustCompile(`(?i)^\s*([A-Za-z_][A-Za-z0-9_]*)\s+is\s+(not\s+)?null\s*$`)
)

var filterOperators = map[string]string{
	"!=":  "<>",
	"~~":  "like",
	"!~~": "not like",
}

func parseOptions(pairs []string) (fdw.Options, error) {
	opts := fdw.Options{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, usageErrorf("invalid option %q, expected key=value", pair)
		}
		opts[key] = value
	}
	return opts, nil
}

// parseColumns reads name:type specs. The type defaults to text.
func parseColumns(codec *datum.Codec, specs []string) ([]fdw.Column, error) {
	columns := make([]fdw.Column, 0, len(specs))
	for i, spec := range specs {
		name, typ, ok := strings.Cut(spec, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, usageErrorf("invalid column %q, expected name:type", spec)
		}
		if !ok || strings.TrimSpace(typ) == "" {
			typ = "text"
		}
		oid, err := codec.TypeOID(typ)
		if err != nil {
			return nil, usageErrorf("column %q: %w", name, err)
		}
		columns = append(columns, fdw.Column{Name: name, Num: i + 1, TypeOID: oid})
	}
	return columns, nil
}

func findColumn(columns []fdw.Column, name string) (fdw.Column, bool) {
	for _, col := range columns {
		if col.Name == name {
			return col, true
		}
	}
	return fdw.Column{}, false
}

// parseFilter turns "col op value" into a qual typed by the declared column.
// A value written as {a,b} becomes an array matched with any for "=" and all
// otherwise.
func parseFilter(codec *datum.Codec, columns []fdw.Column, raw string) (fdw.Qual, error) {
	if m := isNullPattern.FindStringSubmatch(raw); m != nil {
		if _, ok := findColumn(columns, m[1]); !ok {
			return fdw.Qual{}, usageErrorf("filter %q references undeclared column %q", raw, m[1])
		}
		op := "is"
		if m[2] != "" {
			op = "is not"
		}
		return fdw.Qual{Field: m[1], Operator: op}, nil
	}

	m := filterPattern.FindStringSubmatch(raw)
	if m == nil {
		return fdw.Qual{}, usageErrorf("invalid filter %q, expected column<op>value", raw)
	}
	field, op, text := m[1], m[2], m[3]
	col, ok := findColumn(columns, field)
	if !ok {
		return fdw.Qual{}, usageErrorf("filter %q references undeclared column %q", raw, field)
	}
	if mapped, ok := filterOperators[op]; ok {
		op = mapped
	}

	qual := fdw.Qual{Field: field, Operator: op}
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		inner := strings.TrimSpace(text[1 : len(text)-1])
		cells := []fdw.Cell{}
		if inner != "" {
			for _, elem := range strings.Split(inner, ",") {
				cell, err := parseCell(codec, col, strings.TrimSpace(elem))
				if err != nil {
					return fdw.Qual{}, err
				}
				cells = append(cells, cell)
			}
		}
		qual.Value = fdw.ArrayValue(cells...)
		qual.UseOr = op == "="
		return qual, nil
	}
	cell, err := parseCell(codec, col, text)
	if err != nil {
		return fdw.Qual{}, err
	}
	qual.Value = fdw.ScalarValue(cell)
	return qual, nil
}

// parseSort reads col[:asc|desc[:nulls-first|nulls-last]]. Nulls sort first
// on descending keys unless told otherwise.
func parseSort(raw string) (fdw.Sort, error) {
	parts := strings.Split(raw, ":")
	sort := fdw.Sort{Field: strings.TrimSpace(parts[0])}
	if sort.Field == "" || len(parts) > 3 {
		return fdw.Sort{}, usageErrorf("invalid sort %q, expected column[:asc|desc[:nulls-first|nulls-last]]", raw)
	}
	if len(parts) > 1 {
		switch strings.ToLower(strings.TrimSpace(parts[1])) {
		case "asc", "":
		case "desc":
			sort.Descending = true
		default:
			return fdw.Sort{}, usageErrorf("invalid sort direction in %q", raw)
		}
	}
	sort.NullsFirst = sort.Descending
	if len(parts) > 2 {
		switch strings.ToLower(strings.TrimSpace(parts[2])) {
		case "nulls-first":
			sort.NullsFirst = true
		case "nulls-last":
			sort.NullsFirst = false
		default:
			return fdw.Sort{}, usageErrorf("invalid nulls order in %q", raw)
		}
	}
	return sort, nil
}

// parseRow reads one comma separated record with a field per column.
func parseRow(codec *datum.Codec, columns []fdw.Column, raw string) (fdw.Row, error) {
	reader := csv.NewReader(strings.NewReader(raw))
	reader.FieldsPerRecord = len(columns)
	fields, err := reader.Read()
	if err != nil {
		return fdw.Row{}, usageErrorf("row %q: %w", raw, err)
	}
	var row fdw.Row
	for i, col := range columns {
		cell, err := parseCell(codec, col, fields[i])
		if err != nil {
			return fdw.Row{}, err
		}
		row.Push(col.Name, cell)
	}
	return row, nil
}

func parseCell(codec *datum.Codec, col fdw.Column, text string) (fdw.Cell, error) {
	if text == nullText {
		return nil, nil
	}
	return codec.ParseText(col.TypeOID, text)
}

// rowidColumn is the declared column named by the rowid_column table option.
func rowidColumn(columns []fdw.Column, opts fdw.Options) (fdw.Column, error) {
	name, err := opts.Require("rowid_column")
	if err != nil {
		return fdw.Column{}, usageErrorf("-t rowid_column=<column> is required")
	}
	col, ok := findColumn(columns, name)
	if !ok {
		return fdw.Column{}, usageErrorf("rowid column %q must be declared with -c", name)
	}
	return col, nil
}

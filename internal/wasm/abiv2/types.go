package abiv2

import (
	"fmt"

	"github.com/duckmesh/wrappers/internal/fdw"
)

// Version is the ABI version implemented by the host.
const Version = "v2.0.0"

// Value is a qual operand: one cell, or a list when IsArray is set.
type Value struct {
	Cell    *Cell   `json:"cell,omitempty"`
	Array   []*Cell `json:"array,omitempty"`
	IsArray bool    `json:"is_array,omitempty"`
}

func FromValue(v fdw.Value) (Value, error) {
	if !v.IsArray() {
		cell, err := FromCell(v.Cell)
		if err != nil {
			return Value{}, err
		}
		return Value{Cell: cell}, nil
	}
	out := Value{Array: make([]*Cell, 0, len(v.Array)), IsArray: true}
	for _, item := range v.Array {
		cell, err := FromCell(item)
		if err != nil {
			return Value{}, err
		}
		out.Array = append(out.Array, cell)
	}
	return out, nil
}

type Param struct {
	ID      uint32 `json:"id"`
	TypeOID uint32 `json:"type_oid"`
}

func FromParam(p fdw.Param) Param {
	return Param{ID: uint32(p.ID), TypeOID: p.TypeOID}
}

type Qual struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    Value  `json:"value"`
	UseOr    bool   `json:"use_or"`
	Param    *Param `json:"param,omitempty"`
}

func FromQuals(quals []fdw.Qual) ([]Qual, error) {
	out := make([]Qual, 0, len(quals))
	for _, q := range quals {
		value, err := FromValue(q.Value)
		if err != nil {
			return nil, fmt.Errorf("qual %q: %w", q.Field, err)
		}
		guest := Qual{Field: q.Field, Operator: q.Operator, Value: value, UseOr: q.UseOr}
		if q.Param != nil {
			p := FromParam(*q.Param)
			guest.Param = &p
		}
		out = append(out, guest)
	}
	return out, nil
}

type Column struct {
	Name    string `json:"name"`
	Num     int    `json:"num"`
	TypeOID uint32 `json:"type_oid"`
}

func FromColumns(columns []fdw.Column) []Column {
	out := make([]Column, 0, len(columns))
	for _, c := range columns {
		out = append(out, Column{Name: c.Name, Num: c.Num, TypeOID: c.TypeOID})
	}
	return out
}

type Sort struct {
	Field      string `json:"field"`
	Reversed   bool   `json:"reversed"`
	NullsFirst bool   `json:"nulls_first"`
}

func FromSorts(sorts []fdw.Sort) []Sort {
	out := make([]Sort, 0, len(sorts))
	for _, s := range sorts {
		out = append(out, Sort{Field: s.Field, Reversed: s.Descending, NullsFirst: s.NullsFirst})
	}
	return out
}

type Limit struct {
	Count  int64 `json:"count"`
	Offset int64 `json:"offset"`
}

func FromLimit(limit *fdw.Limit) *Limit {
	if limit == nil {
		return nil
	}
	return &Limit{Count: limit.Count, Offset: limit.Offset}
}

// Row carries column names and cells of equal length; nil cells are NULL.
type Row struct {
	Cols  []string `json:"cols"`
	Cells []*Cell  `json:"cells"`
}

func FromRow(row fdw.Row) (Row, error) {
	out := Row{Cols: append([]string(nil), row.Cols...), Cells: make([]*Cell, 0, len(row.Cells))}
	for i, cell := range row.Cells {
		guest, err := FromCell(cell)
		if err != nil {
			return Row{}, fmt.Errorf("column %q: %w", row.Cols[i], err)
		}
		out.Cells = append(out.Cells, guest)
	}
	return out, nil
}

// AppendTo pushes the guest row onto row.
func (r Row) AppendTo(row *fdw.Row) error {
	if len(r.Cols) != len(r.Cells) {
		return fdw.PluginFault(fmt.Sprintf("row has %d columns and %d cells", len(r.Cols), len(r.Cells)), nil)
	}
	for i, guest := range r.Cells {
		cell, err := guest.ToCell()
		if err != nil {
			return fmt.Errorf("column %q: %w", r.Cols[i], err)
		}
		row.Push(r.Cols[i], cell)
	}
	return nil
}

// Metric is the guest metric enumeration, numbered in declaration order.
type Metric uint32

const (
	MetricCreateTimes Metric = iota
	MetricRowsIn
	MetricRowsOut
	MetricBytesIn
	MetricBytesOut
)

func (m Metric) Host() (fdw.Metric, error) {
	switch m {
	case MetricCreateTimes:
		return fdw.MetricCreateTimes, nil
	case MetricRowsIn:
		return fdw.MetricRowsIn, nil
	case MetricRowsOut:
		return fdw.MetricRowsOut, nil
	case MetricBytesIn:
		return fdw.MetricBytesIn, nil
	case MetricBytesOut:
		return fdw.MetricBytesOut, nil
	}
	return 0, fdw.PluginFault(fmt.Sprintf("unknown metric %d", uint32(m)), nil)
}

type ImportSchemaType string

const (
	ImportSchemaAll     ImportSchemaType = "all"
	ImportSchemaLimitTo ImportSchemaType = "limit-to"
	ImportSchemaExcept  ImportSchemaType = "except"
)

func FromImportSchemaType(t fdw.ImportSchemaType) ImportSchemaType {
	switch t.Normalize() {
	case fdw.ImportSchemaLimitTo:
		return ImportSchemaLimitTo
	case fdw.ImportSchemaExcept:
		return ImportSchemaExcept
	default:
		return ImportSchemaAll
	}
}

type ImportForeignSchemaStmt struct {
	ServerName   string            `json:"server_name"`
	RemoteSchema string            `json:"remote_schema"`
	LocalSchema  string            `json:"local_schema"`
	ListType     ImportSchemaType  `json:"list_type"`
	TableList    []string          `json:"table_list"`
	Options      map[string]string `json:"options,omitempty"`
}

func FromImportForeignSchemaStmt(stmt fdw.ImportForeignSchemaStmt) ImportForeignSchemaStmt {
	return ImportForeignSchemaStmt{
		ServerName:   stmt.ServerName,
		RemoteSchema: stmt.RemoteSchema,
		LocalSchema:  stmt.LocalSchema,
		ListType:     FromImportSchemaType(stmt.ListType),
		TableList:    append([]string{}, stmt.TableList...),
		Options:      stmt.Options.Clone(),
	}
}

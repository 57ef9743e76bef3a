package duckdb

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/duckmesh/wrappers/internal/fdw"
)

// normalizeType upper-cases a DuckDB type name and folds the long spellings
// used by information_schema into the names reported by the driver.
func normalizeType(raw string) string {
	t := strings.ToUpper(strings.TrimSpace(raw))
	switch t {
	case "TIMESTAMP WITH TIME ZONE":
		return "TIMESTAMPTZ"
	case "TIMESTAMP WITHOUT TIME ZONE", "DATETIME":
		return "TIMESTAMP"
	case "INT", "INT4", "INTEGER":
		return "INTEGER"
	case "INT8", "LONG":
		return "BIGINT"
	case "TEXT", "STRING":
		return "VARCHAR"
	case "REAL", "FLOAT4":
		return "FLOAT"
	case "FLOAT8":
		return "DOUBLE"
	}
	if strings.HasPrefix(t, "VARCHAR(") {
		return "VARCHAR"
	}
	return t
}

func elemType(t string) (string, bool) {
	if strings.HasSuffix(t, "[]") {
		return normalizeType(strings.TrimSuffix(t, "[]")), true
	}
	return "", false
}

// valueToCell converts a value scanned from a column of DuckDB type raw.
// Unsigned integers widen to the next signed width.
func valueToCell(raw string, v any) (fdw.Cell, error) {
	if v == nil {
		return nil, nil
	}
	t := normalizeType(raw)
	if elem, ok := elemType(t); ok {
		return listToCell(raw, elem, v)
	}
	if strings.HasPrefix(t, "DECIMAL") || strings.HasPrefix(t, "NUMERIC") {
		d, ok := v.(duckdb.Decimal)
		if !ok {
			return nil, mismatch(raw, v)
		}
		if d.Value == nil {
			return nil, mismatch(raw, v)
		}
		return fdw.NewNumeric(decimal.NewFromBigInt(d.Value, -int32(d.Scale))), nil
	}
	switch t {
	case "BOOLEAN":
		return as[bool](raw, v, func(x bool) fdw.Cell { return fdw.Bool(x) })
	case "TINYINT":
		return as[int8](raw, v, func(x int8) fdw.Cell { return fdw.I8(x) })
	case "UTINYINT":
		return as[uint8](raw, v, func(x uint8) fdw.Cell { return fdw.I16(x) })
	case "SMALLINT":
		return as[int16](raw, v, func(x int16) fdw.Cell { return fdw.I16(x) })
	case "USMALLINT":
		return as[uint16](raw, v, func(x uint16) fdw.Cell { return fdw.I32(x) })
	case "INTEGER":
		return as[int32](raw, v, func(x int32) fdw.Cell { return fdw.I32(x) })
	case "UINTEGER":
		return as[uint32](raw, v, func(x uint32) fdw.Cell { return fdw.I64(x) })
	case "BIGINT":
		return as[int64](raw, v, func(x int64) fdw.Cell { return fdw.I64(x) })
	case "UBIGINT":
		return as[uint64](raw, v, func(x uint64) fdw.Cell { return fdw.I64(int64(x)) })
	case "HUGEINT", "UHUGEINT":
		b, ok := v.(*big.Int)
		if !ok {
			return nil, mismatch(raw, v)
		}
		return fdw.NewNumeric(decimal.NewFromBigInt(b, 0)), nil
	case "FLOAT":
		return as[float32](raw, v, func(x float32) fdw.Cell { return fdw.F32(x) })
	case "DOUBLE":
		return as[float64](raw, v, func(x float64) fdw.Cell { return fdw.F64(x) })
	case "VARCHAR":
		switch s := v.(type) {
		case string:
			return fdw.String(s), nil
		case []byte:
			return fdw.String(s), nil
		}
		return nil, mismatch(raw, v)
	case "DATE":
		return as[time.Time](raw, v, func(x time.Time) fdw.Cell { return fdw.DateFromTime(x) })
	case "TIMESTAMP":
		return as[time.Time](raw, v, func(x time.Time) fdw.Cell { return fdw.TimestampFromTime(x) })
	case "TIMESTAMPTZ":
		return as[time.Time](raw, v, func(x time.Time) fdw.Cell { return fdw.TimestamptzFromTime(x) })
	case "UUID":
		id, err := toUUID(v)
		if err != nil {
			return nil, fdw.RemoteProtocol("decode "+raw, err)
		}
		return fdw.UUID(id), nil
	case "JSON":
		switch s := v.(type) {
		case string:
			return fdw.ParseJSON(s)
		case []byte:
			return fdw.ParseJSON(string(s))
		}
		return fdw.JSON{Value: v}, nil
	}
	return nil, fdw.UnsupportedColumnType(raw)
}

func as[T any](raw string, v any, conv func(T) fdw.Cell) (fdw.Cell, error) {
	x, ok := v.(T)
	if !ok {
		return nil, mismatch(raw, v)
	}
	return conv(x), nil
}

func mismatch(raw string, v any) error {
	return fdw.RemoteProtocol("decode "+raw, fmt.Errorf("unexpected value of type %T", v))
}

// toUUID accepts the representations the driver has used for UUID columns:
// 16 raw bytes, a byte array, text or a Stringer.
func toUUID(v any) (uuid.UUID, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, nil
	case []byte:
		if len(x) == 16 {
			return uuid.FromBytes(x)
		}
		return uuid.ParseBytes(x)
	case string:
		return uuid.Parse(x)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Array && rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8 {
		var id uuid.UUID
		reflect.Copy(reflect.ValueOf(id[:]), rv)
		return id, nil
	}
	if s, ok := v.(fmt.Stringer); ok {
		return uuid.Parse(s.String())
	}
	return uuid.UUID{}, fmt.Errorf("unexpected value of type %T", v)
}

func listToCell(raw, elem string, v any) (fdw.Cell, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, mismatch(raw, v)
	}
	switch elem {
	case "BOOLEAN":
		out, err := listItems[bool](raw, items)
		return fdw.BoolArray(out), err
	case "SMALLINT":
		out, err := listItems[int16](raw, items)
		return fdw.I16Array(out), err
	case "INTEGER":
		out, err := listItems[int32](raw, items)
		return fdw.I32Array(out), err
	case "BIGINT":
		out, err := listItems[int64](raw, items)
		return fdw.I64Array(out), err
	case "FLOAT":
		out, err := listItems[float32](raw, items)
		return fdw.F32Array(out), err
	case "DOUBLE":
		out, err := listItems[float64](raw, items)
		return fdw.F64Array(out), err
	case "VARCHAR":
		out, err := listItems[string](raw, items)
		return fdw.StringArray(out), err
	}
	return nil, fdw.UnsupportedColumnType(raw)
}

func listItems[T any](raw string, items []any) ([]*T, error) {
	out := make([]*T, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		x, ok := item.(T)
		if !ok {
			return nil, mismatch(raw, item)
		}
		out[i] = &x
	}
	return out, nil
}

// engineTypeOID maps a DuckDB column type to the engine type used by schema
// import.
func engineTypeOID(raw string) (uint32, bool) {
	t := normalizeType(raw)
	if elem, ok := elemType(t); ok {
		switch elem {
		case "BOOLEAN":
			return pgtype.BoolArrayOID, true
		case "SMALLINT":
			return pgtype.Int2ArrayOID, true
		case "INTEGER":
			return pgtype.Int4ArrayOID, true
		case "BIGINT":
			return pgtype.Int8ArrayOID, true
		case "FLOAT":
			return pgtype.Float4ArrayOID, true
		case "DOUBLE":
			return pgtype.Float8ArrayOID, true
		case "VARCHAR":
			return pgtype.TextArrayOID, true
		}
		return 0, false
	}
	if strings.HasPrefix(t, "DECIMAL") || strings.HasPrefix(t, "NUMERIC") {
		return pgtype.NumericOID, true
	}
	switch t {
	case "BOOLEAN":
		return pgtype.BoolOID, true
	case "TINYINT", "UTINYINT", "SMALLINT":
		return pgtype.Int2OID, true
	case "USMALLINT", "INTEGER":
		return pgtype.Int4OID, true
	case "UINTEGER", "BIGINT", "UBIGINT":
		return pgtype.Int8OID, true
	case "HUGEINT", "UHUGEINT":
		return pgtype.NumericOID, true
	case "FLOAT":
		return pgtype.Float4OID, true
	case "DOUBLE":
		return pgtype.Float8OID, true
	case "VARCHAR":
		return pgtype.TextOID, true
	case "DATE":
		return pgtype.DateOID, true
	case "TIMESTAMP":
		return pgtype.TimestampOID, true
	case "TIMESTAMPTZ":
		return pgtype.TimestamptzOID, true
	case "UUID":
		return pgtype.UUIDOID, true
	case "JSON":
		return pgtype.JSONBOID, true
	}
	return 0, false
}

package clickhouse

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/duckmesh/wrappers/internal/fdw"
)

// columnType is a parsed ClickHouse type such as Nullable(UInt8) or
// Array(String). LowCardinality wrappers are dropped.
type columnType struct {
	raw      string
	base     string
	args     string
	nullable bool
	elem     *columnType
}

func parseColumnType(raw string) columnType {
	t := strings.TrimSpace(raw)
	nullable := false
	for {
		if inner, ok := unwrap(t, "LowCardinality"); ok {
			t = inner
			continue
		}
		if inner, ok := unwrap(t, "Nullable"); ok {
			nullable = true
			t = inner
			continue
		}
		break
	}
	ct := columnType{raw: raw, base: t, nullable: nullable}
	if open := strings.IndexByte(t, '('); open > 0 && strings.HasSuffix(t, ")") {
		ct.base = t[:open]
		ct.args = t[open+1 : len(t)-1]
	}
	if ct.base == "Array" {
		elem := parseColumnType(ct.args)
		ct.elem = &elem
	}
	return ct
}

func unwrap(t, wrapper string) (string, bool) {
	prefix := wrapper + "("
	if strings.HasPrefix(t, prefix) && strings.HasSuffix(t, ")") {
		return strings.TrimSpace(t[len(prefix) : len(t)-1]), true
	}
	return "", false
}

func (ct columnType) String() string { return ct.raw }

func (ct columnType) isDecimal() bool {
	return strings.HasPrefix(ct.base, "Decimal")
}

// deref follows pointers to the value they hold. A nil pointer is NULL.
func deref(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	if _, ok := v.(*big.Int); ok {
		return v, true
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		if rv.Type() == reflect.TypeOf(&big.Int{}) {
			return rv.Interface(), true
		}
		rv = rv.Elem()
	}
	return rv.Interface(), true
}

// fieldToCell converts one scanned value of a column of type raw. Unsigned
// integers widen to the next signed width.
func fieldToCell(raw string, value any) (fdw.Cell, error) {
	ct := parseColumnType(raw)
	v, ok := deref(value)
	if !ok {
		return nil, nil
	}
	if ct.isDecimal() {
		d, ok := v.(decimal.Decimal)
		if !ok {
			return nil, mismatch(ct, v)
		}
		return fdw.NewNumeric(d), nil
	}
	switch ct.base {
	case "Bool":
		return scalar[bool](ct, v, func(x bool) fdw.Cell { return fdw.Bool(x) })
	case "Int8":
		return scalar[int8](ct, v, func(x int8) fdw.Cell { return fdw.I8(x) })
	case "UInt8":
		return scalar[uint8](ct, v, func(x uint8) fdw.Cell { return fdw.I16(x) })
	case "Int16":
		return scalar[int16](ct, v, func(x int16) fdw.Cell { return fdw.I16(x) })
	case "UInt16":
		return scalar[uint16](ct, v, func(x uint16) fdw.Cell { return fdw.I32(x) })
	case "Int32":
		return scalar[int32](ct, v, func(x int32) fdw.Cell { return fdw.I32(x) })
	case "UInt32":
		return scalar[uint32](ct, v, func(x uint32) fdw.Cell { return fdw.I64(x) })
	case "Int64":
		return scalar[int64](ct, v, func(x int64) fdw.Cell { return fdw.I64(x) })
	case "UInt64":
		return scalar[uint64](ct, v, func(x uint64) fdw.Cell { return fdw.I64(int64(x)) })
	case "Float32":
		return scalar[float32](ct, v, func(x float32) fdw.Cell { return fdw.F32(x) })
	case "Float64":
		return scalar[float64](ct, v, func(x float64) fdw.Cell { return fdw.F64(x) })
	case "Int128", "UInt128":
		b, err := bigInt(ct, v)
		if err != nil {
			return nil, err
		}
		return fdw.NewNumeric(decimal.NewFromBigInt(b, 0)), nil
	case "Int256", "UInt256":
		b, err := bigInt(ct, v)
		if err != nil {
			return nil, err
		}
		return fdw.String(b.String()), nil
	case "String", "FixedString":
		switch s := v.(type) {
		case string:
			return fdw.String(s), nil
		case []byte:
			return fdw.String(s), nil
		}
		return nil, mismatch(ct, v)
	case "Date", "Date32":
		return scalar[time.Time](ct, v, func(x time.Time) fdw.Cell { return fdw.DateFromTime(x) })
	case "DateTime":
		return scalar[time.Time](ct, v, func(x time.Time) fdw.Cell {
			return fdw.TimestampFromTime(time.Unix(x.Unix(), 0).UTC())
		})
	case "UUID":
		return scalar[uuid.UUID](ct, v, func(x uuid.UUID) fdw.Cell { return fdw.UUID(x) })
	case "Array":
		return arrayToCell(ct, v)
	}
	return nil, fdw.UnsupportedColumnType(ct.raw)
}

func scalar[T any](ct columnType, v any, conv func(T) fdw.Cell) (fdw.Cell, error) {
	x, ok := v.(T)
	if !ok {
		return nil, mismatch(ct, v)
	}
	return conv(x), nil
}

func bigInt(ct columnType, v any) (*big.Int, error) {
	switch b := v.(type) {
	case *big.Int:
		return b, nil
	case big.Int:
		return &b, nil
	}
	return nil, mismatch(ct, v)
}

func mismatch(ct columnType, v any) error {
	return fdw.RemoteProtocol("decode "+ct.raw, fmt.Errorf("unexpected value of type %T", v))
}

func arrayToCell(ct columnType, v any) (fdw.Cell, error) {
	if ct.elem == nil || ct.elem.elem != nil {
		return nil, fdw.UnsupportedColumnType(ct.raw)
	}
	switch ct.elem.base {
	case "Bool":
		items, err := arrayItems[bool](ct, v)
		return fdw.BoolArray(items), err
	case "Int16":
		items, err := arrayItems[int16](ct, v)
		return fdw.I16Array(items), err
	case "Int32":
		items, err := arrayItems[int32](ct, v)
		return fdw.I32Array(items), err
	case "Int64":
		items, err := arrayItems[int64](ct, v)
		return fdw.I64Array(items), err
	case "Float32":
		items, err := arrayItems[float32](ct, v)
		return fdw.F32Array(items), err
	case "Float64":
		items, err := arrayItems[float64](ct, v)
		return fdw.F64Array(items), err
	case "String":
		items, err := arrayItems[string](ct, v)
		return fdw.StringArray(items), err
	}
	return nil, fdw.UnsupportedColumnType(ct.raw)
}

// arrayItems accepts both []T and []*T, the latter for Nullable elements.
func arrayItems[T any](ct columnType, v any) ([]*T, error) {
	switch items := v.(type) {
	case []T:
		out := make([]*T, len(items))
		for i := range items {
			item := items[i]
			out[i] = &item
		}
		return out, nil
	case []*T:
		return items, nil
	}
	return nil, mismatch(ct, v)
}

// cellToValue converts a cell for insertion into a column of type ct. The
// declared type decides narrowing for integers and 256-bit parsing for
// strings.
func cellToValue(cell fdw.Cell, ct columnType) (any, error) {
	unsupported := fdw.UnsupportedColumnType(ct.raw)
	switch c := cell.(type) {
	case fdw.Bool:
		return bool(c), nil
	case fdw.I8:
		return int8(c), nil
	case fdw.I16:
		switch ct.base {
		case "Int16":
			return int16(c), nil
		case "UInt8":
			return uint8(c), nil
		}
		return nil, unsupported
	case fdw.I32:
		switch ct.base {
		case "Int32":
			return int32(c), nil
		case "UInt16":
			return uint16(c), nil
		}
		return nil, unsupported
	case fdw.I64:
		switch ct.base {
		case "Int64":
			return int64(c), nil
		case "UInt32":
			return uint32(c), nil
		}
		return nil, unsupported
	case fdw.F32:
		return float32(c), nil
	case fdw.F64:
		return float64(c), nil
	case fdw.Numeric:
		text := c.Value.String()
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, fdw.ValueParse("decimal", text, err)
		}
		return d, nil
	case fdw.String:
		switch ct.base {
		case "Int256", "UInt256":
			b, ok := new(big.Int).SetString(string(c), 10)
			if !ok {
				return nil, fdw.ValueParse(ct.base, string(c), nil)
			}
			if ct.base == "UInt256" && b.Sign() < 0 {
				return nil, fdw.ValueParse(ct.base, string(c), nil)
			}
			return b, nil
		}
		return string(c), nil
	case fdw.Date:
		t, err := time.Parse(fdw.DateLayout, c.String())
		if err != nil {
			return nil, fdw.ValueParse("date", c.String(), err)
		}
		return t, nil
	case fdw.Timestamp:
		text := c.String()
		t, err := time.Parse("2006-01-02 15:04:05", text)
		if err != nil {
			var fracErr error
			t, fracErr = time.Parse("2006-01-02 15:04:05.999999", text)
			if fracErr != nil {
				return nil, fdw.ValueParse("timestamp", text, fracErr)
			}
		}
		return t.UTC(), nil
	case fdw.UUID:
		id, err := uuid.Parse(c.String())
		if err != nil {
			return nil, fdw.ValueParse("uuid", c.String(), err)
		}
		return id, nil
	case fdw.BoolArray:
		return compact(c), nil
	case fdw.I16Array:
		return compact(c), nil
	case fdw.I32Array:
		return compact(c), nil
	case fdw.I64Array:
		return compact(c), nil
	case fdw.F32Array:
		return compact(c), nil
	case fdw.F64Array:
		return compact(c), nil
	case fdw.StringArray:
		return compact(c), nil
	}
	return nil, unsupported
}

// compact drops null elements; ClickHouse arrays are written without them.
func compact[T any](items []*T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out
}

// engineTypeOID maps a ClickHouse type to the engine column type used by
// schema import.
func engineTypeOID(ct columnType) (uint32, bool) {
	if ct.isDecimal() {
		return pgtype.NumericOID, true
	}
	switch ct.base {
	case "Bool":
		return pgtype.BoolOID, true
	case "Int8", "UInt8", "Int16":
		return pgtype.Int2OID, true
	case "UInt16", "Int32":
		return pgtype.Int4OID, true
	case "UInt32", "Int64", "UInt64":
		return pgtype.Int8OID, true
	case "Float32":
		return pgtype.Float4OID, true
	case "Float64":
		return pgtype.Float8OID, true
	case "Int128", "UInt128":
		return pgtype.NumericOID, true
	case "Int256", "UInt256", "String", "FixedString":
		return pgtype.TextOID, true
	case "Date", "Date32":
		return pgtype.DateOID, true
	case "DateTime":
		return pgtype.TimestampOID, true
	case "UUID":
		return pgtype.UUIDOID, true
	case "Array":
		if ct.elem == nil || ct.elem.elem != nil {
			return 0, false
		}
		switch ct.elem.base {
		case "Bool":
			return pgtype.BoolArrayOID, true
		case "Int16":
			return pgtype.Int2ArrayOID, true
		case "Int32":
			return pgtype.Int4ArrayOID, true
		case "Int64":
			return pgtype.Int8ArrayOID, true
		case "Float32":
			return pgtype.Float4ArrayOID, true
		case "Float64":
			return pgtype.Float8ArrayOID, true
		case "String":
			return pgtype.TextArrayOID, true
		}
	}
	return 0, false
}

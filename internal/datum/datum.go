// Package datum converts canonical cells to and from the engine's native
// value format, identified by Postgres type OIDs.
package datum

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/duckmesh/wrappers/internal/fdw"
)

// Codec wraps a pgtype.Map. The zero value is not usable; use New.
type Codec struct {
	m *pgtype.Map
}

func New() *Codec {
	return &Codec{m: pgtype.NewMap()}
}

var kindOIDs = map[fdw.Kind]uint32{
	fdw.KindBool:        pgtype.BoolOID,
	fdw.KindI8:          pgtype.Int2OID,
	fdw.KindI16:         pgtype.Int2OID,
	fdw.KindI32:         pgtype.Int4OID,
	fdw.KindI64:         pgtype.Int8OID,
	fdw.KindF32:         pgtype.Float4OID,
	fdw.KindF64:         pgtype.Float8OID,
	fdw.KindNumeric:     pgtype.NumericOID,
	fdw.KindString:      pgtype.TextOID,
	fdw.KindDate:        pgtype.DateOID,
	fdw.KindTimestamp:   pgtype.TimestampOID,
	fdw.KindTimestamptz: pgtype.TimestamptzOID,
	fdw.KindUUID:        pgtype.UUIDOID,
	fdw.KindJSON:        pgtype.JSONBOID,
	fdw.KindBoolArray:   pgtype.BoolArrayOID,
	fdw.KindI16Array:    pgtype.Int2ArrayOID,
	fdw.KindI32Array:    pgtype.Int4ArrayOID,
	fdw.KindI64Array:    pgtype.Int8ArrayOID,
	fdw.KindF32Array:    pgtype.Float4ArrayOID,
	fdw.KindF64Array:    pgtype.Float8ArrayOID,
	fdw.KindStringArray: pgtype.TextArrayOID,
}

// KindOID is the engine type a cell kind is stored as by default.
func KindOID(kind fdw.Kind) (uint32, bool) {
	oid, ok := kindOIDs[kind]
	return oid, ok
}

// ToEngine returns the Go value pgtype encodes for cell.
func ToEngine(cell fdw.Cell) (any, error) {
	switch c := cell.(type) {
	case nil:
		return nil, nil
	case fdw.Bool:
		return bool(c), nil
	case fdw.I8:
		return int8(c), nil
	case fdw.I16:
		return int16(c), nil
	case fdw.I32:
		return int32(c), nil
	case fdw.I64:
		return int64(c), nil
	case fdw.F32:
		return float32(c), nil
	case fdw.F64:
		return float64(c), nil
	case fdw.Numeric:
		var n pgtype.Numeric
		if err := n.Scan(c.Value.String()); err != nil {
			return nil, fdw.ValueParse("numeric", c.Value.String(), err)
		}
		return n, nil
	case fdw.String:
		return string(c), nil
	case fdw.Date:
		return pgtype.Date{Time: c.Time(), Valid: true}, nil
	case fdw.Timestamp:
		return pgtype.Timestamp{Time: c.Time(), Valid: true}, nil
	case fdw.Timestamptz:
		return pgtype.Timestamptz{Time: c.Time(), Valid: true}, nil
	case fdw.UUID:
		return pgtype.UUID{Bytes: [16]byte(c), Valid: true}, nil
	case fdw.JSON:
		// pgtype writes string values to json columns verbatim.
		return c.String(), nil
	case fdw.BoolArray:
		return []*bool(c), nil
	case fdw.I16Array:
		return []*int16(c), nil
	case fdw.I32Array:
		return []*int32(c), nil
	case fdw.I64Array:
		return []*int64(c), nil
	case fdw.F32Array:
		return []*float32(c), nil
	case fdw.F64Array:
		return []*float64(c), nil
	case fdw.StringArray:
		return []*string(c), nil
	default:
		return nil, fdw.UnsupportedColumnType(cell.Kind().String())
	}
}

// FormatText encodes cell in the engine's text format for type oid. A nil
// cell reports ok=false.
func (c *Codec) FormatText(cell fdw.Cell, oid uint32) (string, bool, error) {
	if cell == nil {
		return "", false, nil
	}
	value, err := ToEngine(cell)
	if err != nil {
		return "", false, err
	}
	buf, err := c.m.Encode(oid, pgtype.TextFormatCode, value, nil)
	if err != nil {
		return "", false, fmt.Errorf("encode %s as %s: %w", cell.Kind(), c.TypeName(oid), err)
	}
	if buf == nil {
		return "", false, nil
	}
	return string(buf), true, nil
}

// ParseText decodes engine text for type oid into a canonical cell.
func (c *Codec) ParseText(oid uint32, text string) (fdw.Cell, error) {
	src := []byte(text)
	switch oid {
	case pgtype.BoolOID:
		var v pgtype.Bool
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.Bool(v.Bool), nil
	case pgtype.Int2OID:
		var v int16
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.I16(v), nil
	case pgtype.Int4OID:
		var v int32
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.I32(v), nil
	case pgtype.Int8OID:
		var v int64
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.I64(v), nil
	case pgtype.Float4OID:
		var v float32
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.F32(v), nil
	case pgtype.Float8OID:
		var v float64
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.F64(v), nil
	case pgtype.NumericOID:
		var v pgtype.Numeric
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		if v.NaN || v.InfinityModifier != pgtype.Finite || v.Int == nil {
			return nil, fdw.ValueParse("numeric", text, nil)
		}
		return fdw.NewNumeric(decimal.NewFromBigInt(v.Int, v.Exp)), nil
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID:
		return fdw.String(text), nil
	case pgtype.DateOID:
		var v pgtype.Date
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		if v.InfinityModifier != pgtype.Finite {
			return nil, fdw.ValueParse("date", text, nil)
		}
		return fdw.DateFromTime(v.Time), nil
	case pgtype.TimestampOID:
		var v pgtype.Timestamp
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		if v.InfinityModifier != pgtype.Finite {
			return nil, fdw.ValueParse("timestamp", text, nil)
		}
		return fdw.TimestampFromTime(v.Time), nil
	case pgtype.TimestamptzOID:
		var v pgtype.Timestamptz
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		if v.InfinityModifier != pgtype.Finite {
			return nil, fdw.ValueParse("timestamptz", text, nil)
		}
		return fdw.TimestamptzFromTime(v.Time), nil
	case pgtype.UUIDOID:
		var v pgtype.UUID
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.UUID(v.Bytes), nil
	case pgtype.JSONOID, pgtype.JSONBOID:
		return fdw.ParseJSON(text)
	case pgtype.BoolArrayOID:
		var v []*bool
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.BoolArray(v), nil
	case pgtype.Int2ArrayOID:
		var v []*int16
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.I16Array(v), nil
	case pgtype.Int4ArrayOID:
		var v []*int32
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.I32Array(v), nil
	case pgtype.Int8ArrayOID:
		var v []*int64
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.I64Array(v), nil
	case pgtype.Float4ArrayOID:
		var v []*float32
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.F32Array(v), nil
	case pgtype.Float8ArrayOID:
		var v []*float64
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.F64Array(v), nil
	case pgtype.TextArrayOID, pgtype.VarcharArrayOID:
		var v []*string
		if err := c.scan(oid, src, &v); err != nil {
			return nil, err
		}
		return fdw.StringArray(v), nil
	default:
		return nil, fdw.UnsupportedColumnType(c.TypeName(oid))
	}
}

func (c *Codec) scan(oid uint32, src []byte, dst any) error {
	if err := c.m.Scan(oid, pgtype.TextFormatCode, src, dst); err != nil {
		return fdw.ValueParse(c.TypeName(oid), string(src), err)
	}
	return nil
}

// TypeName returns the SQL spelling of oid, with array types as "elem[]".
func (c *Codec) TypeName(oid uint32) string {
	t, ok := c.m.TypeForOID(oid)
	if !ok {
		return fmt.Sprintf("oid(%d)", oid)
	}
	if strings.HasPrefix(t.Name, "_") {
		return strings.TrimPrefix(t.Name, "_") + "[]"
	}
	return t.Name
}

var typeAliases = map[string]string{
	"boolean":                     "bool",
	"smallint":                    "int2",
	"integer":                     "int4",
	"int":                         "int4",
	"bigint":                      "int8",
	"real":                        "float4",
	"double precision":            "float8",
	"decimal":                     "numeric",
	"character varying":           "varchar",
	"character":                   "bpchar",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
}

// TypeOID resolves a SQL type name such as "bigint" or "text[]".
func (c *Codec) TypeOID(name string) (uint32, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	array := strings.HasSuffix(normalized, "[]")
	normalized = strings.TrimSpace(strings.TrimSuffix(normalized, "[]"))
	if alias, ok := typeAliases[normalized]; ok {
		normalized = alias
	}
	if array {
		normalized = "_" + normalized
	}
	t, ok := c.m.TypeForName(normalized)
	if !ok {
		return 0, fdw.UnsupportedColumnType(name)
	}
	return t.OID, nil
}

package pushdown

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/duckmesh/wrappers/internal/fdw"
)

// Dialect renders string and float literals for one remote system.
type Dialect interface {
	QuoteString(value string) string
	FormatFloat(value float64, bitSize int) string
}

// Standard quotes with doubled single quotes and renders non-finite floats
// as quoted specials.
type Standard struct{}

func (Standard) QuoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func (Standard) FormatFloat(value float64, bitSize int) string {
	switch {
	case math.IsNaN(value):
		return "'NaN'"
	case math.IsInf(value, 1):
		return "'Infinity'"
	case math.IsInf(value, -1):
		return "'-Infinity'"
	}
	return strconv.FormatFloat(value, 'g', -1, bitSize)
}

// Literal renders cell as an inline SQL literal. A nil cell renders as null.
func Literal(d Dialect, cell fdw.Cell) (string, error) {
	switch c := cell.(type) {
	case nil:
		return "null", nil
	case fdw.Bool, fdw.I8, fdw.I16, fdw.I32, fdw.I64, fdw.Numeric:
		return c.String(), nil
	case fdw.F32:
		return d.FormatFloat(float64(c), 32), nil
	case fdw.F64:
		return d.FormatFloat(float64(c), 64), nil
	case fdw.String, fdw.Date, fdw.Timestamp, fdw.Timestamptz, fdw.UUID, fdw.JSON:
		return d.QuoteString(c.String()), nil
	case fdw.BoolArray:
		return arrayLiteral(c, func(v bool) string { return strconv.FormatBool(v) }), nil
	case fdw.I16Array:
		return arrayLiteral(c, func(v int16) string { return strconv.FormatInt(int64(v), 10) }), nil
	case fdw.I32Array:
		return arrayLiteral(c, func(v int32) string { return strconv.FormatInt(int64(v), 10) }), nil
	case fdw.I64Array:
		return arrayLiteral(c, func(v int64) string { return strconv.FormatInt(v, 10) }), nil
	case fdw.F32Array:
		return arrayLiteral(c, func(v float32) string { return d.FormatFloat(float64(v), 32) }), nil
	case fdw.F64Array:
		return arrayLiteral(c, func(v float64) string { return d.FormatFloat(v, 64) }), nil
	case fdw.StringArray:
		return arrayLiteral(c, d.QuoteString), nil
	default:
		return "", fmt.Errorf("render literal: %w", fdw.UnsupportedColumnType(cell.Kind().String()))
	}
}

func arrayLiteral[T any](items []*T, render func(T) string) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			parts = append(parts, "null")
			continue
		}
		parts = append(parts, render(*item))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

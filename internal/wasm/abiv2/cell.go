// Package abiv2 holds the wire types of plugin ABI v2 and their
// conversions to and from the canonical value model.
//
// Guest temporal values count from the Unix epoch: dates in seconds,
// timestamps in microseconds. Canonical values count from 2000-01-01, so
// every crossing adds or removes the fixed offset between the two epochs.
package abiv2

import (
	"fmt"
	"math"
	"strconv"

	"github.com/duckmesh/wrappers/internal/fdw"
)

type CellType string

const (
	CellBool        CellType = "bool"
	CellI8          CellType = "i8"
	CellI16         CellType = "i16"
	CellF32         CellType = "f32"
	CellI32         CellType = "i32"
	CellF64         CellType = "f64"
	CellI64         CellType = "i64"
	CellNumeric     CellType = "numeric"
	CellString      CellType = "string"
	CellDate        CellType = "date"
	CellTimestamp   CellType = "timestamp"
	CellTimestamptz CellType = "timestamptz"
	CellJSON        CellType = "json"
	CellUUID        CellType = "uuid"
)

const secondsPerDay = 86_400

// Cell is one non-null guest cell. Integers, dates and timestamps travel in
// Int, floats in Float, and numeric, string, json and uuid values in Text.
// Non-finite floats travel in Text as NaN, Infinity or -Infinity.
type Cell struct {
	Type  CellType `json:"type"`
	Bool  bool     `json:"bool,omitempty"`
	Int   int64    `json:"int,omitempty"`
	Float float64  `json:"float,omitempty"`
	Text  string   `json:"text,omitempty"`
}

// FromCell converts a canonical cell for the guest. NULL becomes nil. Array
// cells have no guest form.
func FromCell(cell fdw.Cell) (*Cell, error) {
	switch c := cell.(type) {
	case nil:
		return nil, nil
	case fdw.Bool:
		return &Cell{Type: CellBool, Bool: bool(c)}, nil
	case fdw.I8:
		return &Cell{Type: CellI8, Int: int64(c)}, nil
	case fdw.I16:
		return &Cell{Type: CellI16, Int: int64(c)}, nil
	case fdw.I32:
		return &Cell{Type: CellI32, Int: int64(c)}, nil
	case fdw.I64:
		return &Cell{Type: CellI64, Int: int64(c)}, nil
	case fdw.F32:
		return floatCell(CellF32, float64(c)), nil
	case fdw.F64:
		return floatCell(CellF64, float64(c)), nil
	case fdw.Numeric:
		return &Cell{Type: CellNumeric, Text: c.String()}, nil
	case fdw.String:
		return &Cell{Type: CellString, Text: string(c)}, nil
	case fdw.Date:
		return &Cell{Type: CellDate, Int: DateToGuest(c)}, nil
	case fdw.Timestamp:
		v, err := microsToGuest(int64(c))
		if err != nil {
			return nil, err
		}
		return &Cell{Type: CellTimestamp, Int: v}, nil
	case fdw.Timestamptz:
		v, err := microsToGuest(int64(c))
		if err != nil {
			return nil, err
		}
		return &Cell{Type: CellTimestamptz, Int: v}, nil
	case fdw.JSON:
		return &Cell{Type: CellJSON, Text: c.String()}, nil
	case fdw.UUID:
		return &Cell{Type: CellUUID, Text: c.String()}, nil
	}
	return nil, fdw.UnsupportedColumnType(cell.Kind().String())
}

func floatCell(t CellType, v float64) *Cell {
	switch {
	case math.IsNaN(v):
		return &Cell{Type: t, Text: "NaN"}
	case math.IsInf(v, 1):
		return &Cell{Type: t, Text: "Infinity"}
	case math.IsInf(v, -1):
		return &Cell{Type: t, Text: "-Infinity"}
	}
	return &Cell{Type: t, Float: v}
}

// ToCell converts a guest cell to its canonical form. A nil cell is NULL.
func (c *Cell) ToCell() (fdw.Cell, error) {
	if c == nil {
		return nil, nil
	}
	switch c.Type {
	case CellBool:
		return fdw.Bool(c.Bool), nil
	case CellI8:
		if c.Int < math.MinInt8 || c.Int > math.MaxInt8 {
			return nil, outOfRange(c)
		}
		return fdw.I8(c.Int), nil
	case CellI16:
		if c.Int < math.MinInt16 || c.Int > math.MaxInt16 {
			return nil, outOfRange(c)
		}
		return fdw.I16(c.Int), nil
	case CellI32:
		if c.Int < math.MinInt32 || c.Int > math.MaxInt32 {
			return nil, outOfRange(c)
		}
		return fdw.I32(c.Int), nil
	case CellI64:
		return fdw.I64(c.Int), nil
	case CellF32:
		v, err := c.float()
		if err != nil {
			return nil, err
		}
		return fdw.F32(v), nil
	case CellF64:
		v, err := c.float()
		if err != nil {
			return nil, err
		}
		return fdw.F64(v), nil
	case CellNumeric:
		return fdw.ParseNumeric(c.Text)
	case CellString:
		return fdw.String(c.Text), nil
	case CellDate:
		return DateFromGuest(c.Int), nil
	case CellTimestamp:
		v, err := microsFromGuest(c.Int)
		if err != nil {
			return nil, err
		}
		return fdw.Timestamp(v), nil
	case CellTimestamptz:
		v, err := microsFromGuest(c.Int)
		if err != nil {
			return nil, err
		}
		return fdw.Timestamptz(v), nil
	case CellJSON:
		return fdw.ParseJSON(c.Text)
	case CellUUID:
		return fdw.ParseUUID(c.Text)
	}
	return nil, fdw.UnsupportedColumnType("guest cell " + string(c.Type))
}

func (c *Cell) float() (float64, error) {
	switch c.Text {
	case "":
		return c.Float, nil
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	}
	v, err := strconv.ParseFloat(c.Text, 64)
	if err != nil {
		return 0, fdw.ValueParse(string(c.Type), c.Text, err)
	}
	return v, nil
}

func outOfRange(c *Cell) error {
	return fdw.ValueParse(string(c.Type), strconv.FormatInt(c.Int, 10), fmt.Errorf("value out of range"))
}

// DateToGuest returns the Unix seconds of midnight UTC on d.
func DateToGuest(d fdw.Date) int64 {
	return int64(d)*secondsPerDay + fdw.EpochUnixSeconds
}

// DateFromGuest returns the UTC day containing the Unix second s.
func DateFromGuest(s int64) fdw.Date {
	days := (s - fdw.EpochUnixSeconds) / secondsPerDay
	if (s-fdw.EpochUnixSeconds)%secondsPerDay < 0 {
		days--
	}
	return fdw.Date(days)
}

func microsToGuest(v int64) (int64, error) {
	if v > math.MaxInt64-fdw.EpochUnixMicros {
		return 0, fdw.ValueParse("timestamp", strconv.FormatInt(v, 10), fmt.Errorf("value out of range"))
	}
	return v + fdw.EpochUnixMicros, nil
}

func microsFromGuest(v int64) (int64, error) {
	if v < math.MinInt64+fdw.EpochUnixMicros {
		return 0, fdw.ValueParse("timestamp", strconv.FormatInt(v, 10), fmt.Errorf("value out of range"))
	}
	return v - fdw.EpochUnixMicros, nil
}

package fdw

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Canonical date and timestamp cells count from 2000-01-01 00:00:00 UTC.
const (
	EpochUnixSeconds int64 = 946_684_800
	EpochUnixMicros  int64 = EpochUnixSeconds * 1_000_000

	secondsPerDay int64 = 86_400
)

const (
	DateLayout        = "2006-01-02"
	TimestampLayout   = "2006-01-02 15:04:05.999999"
	TimestamptzLayout = "2006-01-02 15:04:05.999999-07"
)

type Kind int

const (
	KindBool Kind = iota + 1
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindNumeric
	KindString
	KindDate
	KindTimestamp
	KindTimestamptz
	KindUUID
	KindJSON
	KindBoolArray
	KindI16Array
	KindI32Array
	KindI64Array
	KindF32Array
	KindF64Array
	KindStringArray
)

var kindNames = map[Kind]string{
	KindBool:        "bool",
	KindI8:          "i8",
	KindI16:         "i16",
	KindI32:         "i32",
	KindI64:         "i64",
	KindF32:         "f32",
	KindF64:         "f64",
	KindNumeric:     "numeric",
	KindString:      "string",
	KindDate:        "date",
	KindTimestamp:   "timestamp",
	KindTimestamptz: "timestamptz",
	KindUUID:        "uuid",
	KindJSON:        "json",
	KindBoolArray:   "bool[]",
	KindI16Array:    "i16[]",
	KindI32Array:    "i32[]",
	KindI64Array:    "i64[]",
	KindF32Array:    "f32[]",
	KindF64Array:    "f64[]",
	KindStringArray: "string[]",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func (k Kind) IsArray() bool {
	return k >= KindBoolArray && k <= KindStringArray
}

// Cell is one non-null column value. SQL NULL is a nil Cell.
type Cell interface {
	Kind() Kind
	String() string
	isCell()
}

type (
	Bool    bool
	I8      int8
	I16     int16
	I32     int32
	I64     int64
	F32     float32
	F64     float64
	String  string
	Numeric struct{ Value decimal.Decimal }
	// Date is days since 2000-01-01.
	Date int32
	// Timestamp is microseconds since 2000-01-01 00:00:00, without zone.
	Timestamp int64
	// Timestamptz is microseconds since 2000-01-01 00:00:00 UTC.
	Timestamptz int64
	UUID        uuid.UUID
	JSON        struct{ Value any }

	BoolArray   []*bool
	I16Array    []*int16
	I32Array    []*int32
	I64Array    []*int64
	F32Array    []*float32
	F64Array    []*float64
	StringArray []*string
)

func (Bool) Kind() Kind        { return KindBool }
func (I8) Kind() Kind          { return KindI8 }
func (I16) Kind() Kind         { return KindI16 }
func (I32) Kind() Kind         { return KindI32 }
func (I64) Kind() Kind         { return KindI64 }
func (F32) Kind() Kind         { return KindF32 }
func (F64) Kind() Kind         { return KindF64 }
func (String) Kind() Kind      { return KindString }
func (Numeric) Kind() Kind     { return KindNumeric }
func (Date) Kind() Kind        { return KindDate }
func (Timestamp) Kind() Kind   { return KindTimestamp }
func (Timestamptz) Kind() Kind { return KindTimestamptz }
func (UUID) Kind() Kind        { return KindUUID }
func (JSON) Kind() Kind        { return KindJSON }
func (BoolArray) Kind() Kind   { return KindBoolArray }
func (I16Array) Kind() Kind    { return KindI16Array }
func (I32Array) Kind() Kind    { return KindI32Array }
func (I64Array) Kind() Kind    { return KindI64Array }
func (F32Array) Kind() Kind    { return KindF32Array }
func (F64Array) Kind() Kind    { return KindF64Array }
func (StringArray) Kind() Kind { return KindStringArray }

func (Bool) isCell()        {}
func (I8) isCell()          {}
func (I16) isCell()         {}
func (I32) isCell()         {}
func (I64) isCell()         {}
func (F32) isCell()         {}
func (F64) isCell()         {}
func (String) isCell()      {}
func (Numeric) isCell()     {}
func (Date) isCell()        {}
func (Timestamp) isCell()   {}
func (Timestamptz) isCell() {}
func (UUID) isCell()        {}
func (JSON) isCell()        {}
func (BoolArray) isCell()   {}
func (I16Array) isCell()    {}
func (I32Array) isCell()    {}
func (I64Array) isCell()    {}
func (F32Array) isCell()    {}
func (F64Array) isCell()    {}
func (StringArray) isCell() {}

func (c Bool) String() string    { return strconv.FormatBool(bool(c)) }
func (c I8) String() string      { return strconv.FormatInt(int64(c), 10) }
func (c I16) String() string     { return strconv.FormatInt(int64(c), 10) }
func (c I32) String() string     { return strconv.FormatInt(int64(c), 10) }
func (c I64) String() string     { return strconv.FormatInt(int64(c), 10) }
func (c F32) String() string     { return strconv.FormatFloat(float64(c), 'g', -1, 32) }
func (c F64) String() string     { return strconv.FormatFloat(float64(c), 'g', -1, 64) }
func (c String) String() string  { return string(c) }
func (c Numeric) String() string { return c.Value.String() }
func (c Date) String() string    { return c.Time().Format(DateLayout) }
func (c Timestamp) String() string {
	return c.Time().Format(TimestampLayout)
}
func (c Timestamptz) String() string {
	return c.Time().Format(TimestamptzLayout)
}
func (c UUID) String() string { return uuid.UUID(c).String() }

func (c JSON) String() string {
	raw, err := json.Marshal(c.Value)
	if err != nil {
		return "null"
	}
	return string(raw)
}

func (c BoolArray) String() string   { return arrayText(c, strconv.FormatBool) }
func (c I16Array) String() string    { return arrayText(c, formatInt[int16]) }
func (c I32Array) String() string    { return arrayText(c, formatInt[int32]) }
func (c I64Array) String() string    { return arrayText(c, formatInt[int64]) }
func (c F32Array) String() string    { return arrayText(c, formatFloat32) }
func (c F64Array) String() string    { return arrayText(c, formatFloat64) }
func (c StringArray) String() string { return arrayText(c, quoteArrayElement) }

func NewNumeric(value decimal.Decimal) Numeric {
	return Numeric{Value: value}
}

func ParseNumeric(text string) (Numeric, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return Numeric{}, ValueParse("numeric", text, err)
	}
	return Numeric{Value: value}, nil
}

func DateFromTime(t time.Time) Date {
	year, month, day := t.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date((midnight.Unix() - EpochUnixSeconds) / secondsPerDay)
}

func (c Date) Time() time.Time {
	return time.Unix(int64(c)*secondsPerDay+EpochUnixSeconds, 0).UTC()
}

func ParseDate(text string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(text))
	if err != nil {
		return 0, ValueParse("date", text, err)
	}
	return DateFromTime(t), nil
}

// TimestampFromTime keeps the wall clock of t and drops its zone.
func TimestampFromTime(t time.Time) Timestamp {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return Timestamp(wall.UnixMicro() - EpochUnixMicros)
}

func (c Timestamp) Time() time.Time {
	return time.UnixMicro(int64(c) + EpochUnixMicros).UTC()
}

func TimestamptzFromTime(t time.Time) Timestamptz {
	return Timestamptz(t.UnixMicro() - EpochUnixMicros)
}

func (c Timestamptz) Time() time.Time {
	return time.UnixMicro(int64(c) + EpochUnixMicros).UTC()
}

// ParseTimestamp accepts timestamps with and without a sub-second fraction.
func ParseTimestamp(text string) (Timestamp, error) {
	trimmed := strings.TrimSpace(text)
	t, err := time.Parse("2006-01-02 15:04:05", trimmed)
	if err != nil {
		var fracErr error
		t, fracErr = time.Parse("2006-01-02 15:04:05.999999", trimmed)
		if fracErr != nil {
			return 0, ValueParse("timestamp", text, fracErr)
		}
	}
	return TimestampFromTime(t), nil
}

func ParseUUID(text string) (UUID, error) {
	value, err := uuid.Parse(strings.TrimSpace(text))
	if err != nil {
		return UUID{}, ValueParse("uuid", text, err)
	}
	return UUID(value), nil
}

func ParseJSON(text string) (JSON, error) {
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return JSON{}, ValueParse("json", text, err)
	}
	return JSON{Value: value}, nil
}

func arrayText[T any](items []*T, format func(T) string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, item := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		if item == nil {
			b.WriteString("NULL")
			continue
		}
		b.WriteString(format(*item))
	}
	b.WriteByte('}')
	return b.String()
}

func formatInt[T int16 | int32 | int64](v T) string {
	return strconv.FormatInt(int64(v), 10)
}

func formatFloat32(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func formatFloat64(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func quoteArrayElement(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}

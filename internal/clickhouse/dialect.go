package clickhouse

import (
	"math"
	"strconv"
	"strings"
)

// Dialect renders ClickHouse literals: backslash escaping inside single
// quotes and bare nan/inf for non-finite floats.
type Dialect struct{}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func (Dialect) QuoteString(value string) string {
	return "'" + stringEscaper.Replace(value) + "'"
}

func (Dialect) FormatFloat(value float64, bitSize int) string {
	switch {
	case math.IsNaN(value):
		return "nan"
	case math.IsInf(value, 1):
		return "inf"
	case math.IsInf(value, -1):
		return "-inf"
	}
	return strconv.FormatFloat(value, 'g', -1, bitSize)
}

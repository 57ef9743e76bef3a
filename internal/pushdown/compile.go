package pushdown

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/duckmesh/wrappers/internal/fdw"
)

var paramPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// Query is the shape of one scan request.
type Query struct {
	// Table is a remote table name, or a parenthesized sub-query that may
	// reference quals as ${field} placeholders.
	Table   string
	Quals   []fdw.Qual
	Columns []fdw.Column
	Sorts   []fdw.Sort
	Limit   *fdw.Limit
}

type Compiled struct {
	SQL string
	// Params are the quals substituted into the table template. Their
	// columns are not selected remotely and are filled from the qual value.
	Params []fdw.Qual
}

// ParamValue returns the substituted cell for column name, if any.
func (c Compiled) ParamValue(name string) (fdw.Cell, bool) {
	for _, qual := range c.Params {
		if qual.Field == name {
			return qual.Value.Cell, true
		}
	}
	return nil, false
}

func (c Compiled) consumed(field string) bool {
	_, ok := c.ParamValue(field)
	return ok
}

// Compile renders q into a single select statement. Offset is never pushed;
// the limit asks for offset+count rows and the caller skips the offset.
func Compile(d Dialect, q Query) (Compiled, error) {
	var out Compiled
	table := q.Table
	if strings.HasPrefix(table, "(") {
		substituted, params, err := substituteParams(d, table, q.Quals)
		if err != nil {
			return Compiled{}, err
		}
		table = substituted
		out.Params = params
	}

	targets := make([]string, 0, len(q.Columns))
	for _, col := range q.Columns {
		if out.consumed(col.Name) {
			continue
		}
		targets = append(targets, col.Name)
	}
	tgts := "*"
	if len(targets) > 0 {
		tgts = strings.Join(targets, ", ")
	}

	var b strings.Builder
	b.WriteString("select ")
	b.WriteString(tgts)
	b.WriteString(" from ")
	b.WriteString(table)

	conds := make([]string, 0, len(q.Quals))
	for _, qual := range q.Quals {
		if out.consumed(qual.Field) {
			continue
		}
		cond, err := DeparseQual(d, qual)
		if err != nil {
			return Compiled{}, err
		}
		conds = append(conds, cond)
	}
	if len(conds) > 0 {
		b.WriteString(" where ")
		b.WriteString(strings.Join(conds, " and "))
	}

	if len(q.Sorts) > 0 {
		orderBy := make([]string, 0, len(q.Sorts))
		for _, sort := range q.Sorts {
			orderBy = append(orderBy, DeparseSort(sort))
		}
		b.WriteString(" order by ")
		b.WriteString(strings.Join(orderBy, ", "))
	}

	if q.Limit != nil {
		b.WriteString(" limit ")
		b.WriteString(strconv.FormatInt(q.Limit.Offset+q.Limit.Count, 10))
	}

	out.SQL = b.String()
	return out, nil
}

func substituteParams(d Dialect, template string, quals []fdw.Qual) (string, []fdw.Qual, error) {
	var params []fdw.Qual
	var firstErr error
	result := paramPattern.ReplaceAllStringFunc(template, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := paramPattern.FindStringSubmatch(match)[1]
		for _, qual := range quals {
			if qual.Field != name {
				continue
			}
			if qual.Value.IsArray() {
				firstErr = fdw.NoArrayParameter(name)
				return match
			}
			lit, err := Literal(d, qual.Value.Cell)
			if err != nil {
				firstErr = err
				return match
			}
			params = append(params, qual)
			return lit
		}
		firstErr = fdw.UnmatchedParameter(name)
		return match
	})
	if firstErr != nil {
		return "", nil, firstErr
	}
	return result, params, nil
}

// DeparseQual renders one qual as a boolean expression.
func DeparseQual(d Dialect, qual fdw.Qual) (string, error) {
	if qual.Value.IsArray() {
		parts := make([]string, 0, len(qual.Value.Array))
		for _, cell := range qual.Value.Array {
			lit, err := Literal(d, cell)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", qual.Field, qual.Operator, lit))
		}
		joiner := " and "
		if qual.UseOr {
			joiner = " or "
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	}

	op := strings.ToLower(qual.Operator)
	if op == "is" || op == "is not" {
		if s, ok := qual.Value.Cell.(fdw.String); ok && strings.EqualFold(string(s), "null") {
			return fmt.Sprintf("%s %s null", qual.Field, op), nil
		}
		if qual.Value.Cell == nil {
			return fmt.Sprintf("%s %s null", qual.Field, op), nil
		}
	}
	lit, err := Literal(d, qual.Value.Cell)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", qual.Field, qual.Operator, lit), nil
}

func DeparseSort(sort fdw.Sort) string {
	dir := " asc"
	if sort.Descending {
		dir = " desc"
	}
	nulls := " nulls last"
	if sort.NullsFirst {
		nulls = " nulls first"
	}
	return sort.Field + dir + nulls
}

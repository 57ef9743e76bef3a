package fdwctl

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/goccy/go-json"

	"github.com/duckmesh/wrappers/internal/datum"
	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/stats"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// renderCell formats cell in the engine text format of its column, falling
// back to the cell's own rendering when the two types disagree.
func renderCell(codec *datum.Codec, cell fdw.Cell, col fdw.Column) *string {
	if cell == nil {
		return nil
	}
	text, ok, err := codec.FormatText(cell, col.TypeOID)
	if err != nil || !ok {
		text = cell.String()
	}
	return &text
}

func resultRows(codec *datum.Codec, columns []fdw.Column, rows []fdw.Row) [][]*string {
	out := make([][]*string, 0, len(rows))
	for _, row := range rows {
		values := make([]*string, 0, len(columns))
		for _, col := range columns {
			cell, _ := row.Get(col.Name)
			values = append(values, renderCell(codec, cell, col))
		}
		out = append(out, values)
	}
	return out
}

func writeRows(w io.Writer, format string, codec *datum.Codec, columns []fdw.Column, rows []fdw.Row) error {
	names := fdw.ColumnNames(columns)
	values := resultRows(codec, columns, rows)
	if format == formatJSON {
		return json.NewEncoder(w).Encode(struct {
			Columns []string    `json:"columns"`
			Rows    [][]*string `json:"rows"`
		}{Columns: names, Rows: values})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(names...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, value := range values {
		cells := make([]string, 0, len(value))
		for _, v := range value {
			if v == nil {
				cells = append(cells, "NULL")
				continue
			}
			cells = append(cells, *v)
		}
		t.Row(cells...)
	}
	_, err := fmt.Fprintf(w, "%s\n(%d rows)\n", t.String(), len(rows))
	return err
}

func writeStatements(w io.Writer, format string, statements []string) error {
	if statements == nil {
		statements = []string{}
	}
	if format == formatJSON {
		return json.NewEncoder(w).Encode(struct {
			Statements []string `json:"statements"`
		}{Statements: statements})
	}
	for _, stmt := range statements {
		if _, err := fmt.Fprintf(w, "%s;\n\n", stmt); err != nil {
			return err
		}
	}
	return nil
}

func writeStats(w io.Writer, snapshot map[stats.Key]int64) {
	keys := make([]stats.Key, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].FDW != keys[j].FDW {
			return keys[i].FDW < keys[j].FDW
		}
		return keys[i].Metric < keys[j].Metric
	})

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("fdw", "metric", "value").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, k := range keys {
		t.Row(k.FDW, k.Metric.String(), strconv.FormatInt(snapshot[k], 10))
	}
	_, _ = fmt.Fprintln(w, t.String())
}

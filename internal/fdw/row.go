package fdw

// Value is either a single cell or an array of cells, as found on the
// right-hand side of a qual.
type Value struct {
	Cell  Cell
	Array []Cell
}

func ScalarValue(cell Cell) Value {
	return Value{Cell: cell}
}

func ArrayValue(cells ...Cell) Value {
	if cells == nil {
		cells = []Cell{}
	}
	return Value{Array: cells}
}

func (v Value) IsArray() bool { return v.Array != nil }

type Param struct {
	ID      int
	TypeOID uint32
}

// Qual is one restriction from the local WHERE clause. Field and Operator
// are trusted identifiers from the engine.
type Qual struct {
	Field    string
	Operator string
	Value    Value
	UseOr    bool
	Param    *Param
}

type Sort struct {
	Field      string
	Descending bool
	NullsFirst bool
}

type Limit struct {
	Count  int64
	Offset int64
}

type Column struct {
	Name    string
	Num     int
	TypeOID uint32
}

func ColumnNames(columns []Column) []string {
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		names = append(names, col.Name)
	}
	return names
}

// Row is an ordered list of column names and cells of equal length.
type Row struct {
	Cols  []string
	Cells []Cell
}

func (r *Row) Push(col string, cell Cell) {
	r.Cols = append(r.Cols, col)
	r.Cells = append(r.Cells, cell)
}

func (r *Row) Clear() {
	r.Cols = r.Cols[:0]
	r.Cells = r.Cells[:0]
}

func (r Row) Len() int { return len(r.Cols) }

func (r Row) Get(col string) (Cell, bool) {
	for i, name := range r.Cols {
		if name == col {
			return r.Cells[i], true
		}
	}
	return nil, false
}

func (r Row) Clone() Row {
	return Row{
		Cols:  append([]string(nil), r.Cols...),
		Cells: append([]Cell(nil), r.Cells...),
	}
}

package clickhouse

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/stats"
	"github.com/duckmesh/wrappers/internal/vault"
)

type insertCall struct {
	table   string
	columns []string
	values  []any
}

type fakeConn struct {
	blocks  map[string]*Block
	queries []string
	execs   []string
	inserts []insertCall
	closed  int
	err     error
}

func (c *fakeConn) Query(_ context.Context, query string) (*Block, error) {
	c.queries = append(c.queries, query)
	if c.err != nil {
		return nil, c.err
	}
	for prefix, block := range c.blocks {
		if strings.HasPrefix(query, prefix) {
			return block, nil
		}
	}
	return &Block{}, nil
}

func (c *fakeConn) Exec(_ context.Context, query string) error {
	c.execs = append(c.execs, query)
	return c.err
}

func (c *fakeConn) Insert(_ context.Context, table string, columns []string, values []any) error {
	c.inserts = append(c.inserts, insertCall{table: table, columns: columns, values: values})
	return c.err
}

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

type fakeDialer struct {
	conn *fakeConn
	dsns []string
}

func (d *fakeDialer) Dial(_ context.Context, dsn string) (Conn, error) {
	d.dsns = append(d.dsns, dsn)
	return d.conn, nil
}

func newTestWrapper(t *testing.T, conn *fakeConn, rec *stats.Recorder) (*Wrapper, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{conn: conn}
	env := fdw.Env{}
	if rec != nil {
		env.Stats = rec
	}
	w, err := New(context.Background(), fdw.ForeignServer{
		Name:    "ch",
		Wrapper: Name,
		Options: fdw.Options{"conn_string": "tcp://localhost:9000/default"},
	}, env, dialer.Dial)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return w, dialer
}

func collect(t *testing.T, w *Wrapper) []fdw.Row {
	t.Helper()
	var rows []fdw.Row
	for {
		var row fdw.Row
		ok, err := w.IterScan(context.Background(), &row)
		if err != nil {
			t.Fatalf("IterScan() error = %v", err)
		}
		if !ok {
			return rows
		}
		rows = append(rows, row)
	}
}

func TestNewRequiresConnString(t *testing.T) {
	_, err := New(context.Background(), fdw.ForeignServer{Name: "ch", Options: fdw.Options{}}, fdw.Env{}, nil)
	if !errors.Is(err, fdw.ErrOptionMissing) {
		t.Fatalf("New() error = %v, want option missing", err)
	}
}

func TestNewResolvesConnStringFromVault(t *testing.T) {
	secrets := vault.NewStatic(map[string]string{"ch-dsn": "tcp://secret:9000"})
	rec := stats.NewRecorder(nil)
	dialer := &fakeDialer{conn: &fakeConn{}}
	w, err := New(context.Background(), fdw.ForeignServer{
		Name:    "ch",
		Options: fdw.Options{"conn_string_id": "ch-dsn"},
	}, fdw.Env{Secrets: secrets, Stats: rec}, dialer.Dial)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.BeginScan(context.Background(), nil, nil, nil, nil, fdw.Options{"table": "t"}); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	if diff := cmp.Diff([]string{"tcp://secret:9000"}, dialer.dsns); diff != "" {
		t.Fatalf("dsns (-want +got):\n%s", diff)
	}
	if got := rec.Get(Name, fdw.MetricCreateTimes); got != 1 {
		t.Fatalf("create_times = %d, want 1", got)
	}

	_, err = New(context.Background(), fdw.ForeignServer{
		Name:    "ch",
		Options: fdw.Options{"conn_string_id": "missing"},
	}, fdw.Env{Secrets: secrets}, dialer.Dial)
	if !errors.Is(err, fdw.ErrSecretNotFound) {
		t.Fatalf("New() error = %v, want secret not found", err)
	}
}

func TestScanWithTemplateParams(t *testing.T) {
	conn := &fakeConn{blocks: map[string]*Block{
		"select name from": {
			Columns: []BlockColumn{{Name: "name", Type: "Nullable(String)"}},
			Rows:    [][]any{{ptr("alice")}, {(*string)(nil)}},
		},
	}}
	rec := stats.NewRecorder(nil)
	w, _ := newTestWrapper(t, conn, rec)

	quals := []fdw.Qual{{Field: "id", Operator: "=", Value: fdw.ScalarValue(fdw.I64(42))}}
	columns := []fdw.Column{{Name: "id"}, {Name: "name"}}
	options := fdw.Options{"table": "(select * from users where id = ${id})"}
	if err := w.BeginScan(context.Background(), quals, columns, nil, nil, options); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	if diff := cmp.Diff([]string{"select name from (select * from users where id = 42)"}, conn.queries); diff != "" {
		t.Fatalf("queries (-want +got):\n%s", diff)
	}

	rows := collect(t, w)
	want := []fdw.Row{
		{Cols: []string{"id", "name"}, Cells: []fdw.Cell{fdw.I64(42), fdw.String("alice")}},
		{Cols: []string{"id", "name"}, Cells: []fdw.Cell{fdw.I64(42), nil}},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
	if rec.Get(Name, fdw.MetricRowsIn) != 2 || rec.Get(Name, fdw.MetricRowsOut) != 2 {
		t.Fatalf("stats = %v", rec.Snapshot())
	}

	if err := w.ReScan(context.Background()); err != nil {
		t.Fatalf("ReScan() error = %v", err)
	}
	if got := len(collect(t, w)); got != 2 {
		t.Fatalf("rows after rescan = %d, want 2", got)
	}
	if err := w.EndScan(context.Background()); err != nil {
		t.Fatalf("EndScan() error = %v", err)
	}
	if conn.closed != 1 {
		t.Fatalf("closed = %d, want 1", conn.closed)
	}
}

func TestScanRequiresTableOption(t *testing.T) {
	w, _ := newTestWrapper(t, &fakeConn{}, nil)
	err := w.BeginScan(context.Background(), nil, nil, nil, nil, fdw.Options{})
	if !errors.Is(err, fdw.ErrOptionMissing) {
		t.Fatalf("BeginScan() error = %v", err)
	}
}

func TestScanSurfacesUnsupportedColumnType(t *testing.T) {
	conn := &fakeConn{blocks: map[string]*Block{
		"select": {
			Columns: []BlockColumn{{Name: "m", Type: "Map(String, UInt64)"}},
			Rows:    [][]any{{map[string]uint64{}}},
		},
	}}
	w, _ := newTestWrapper(t, conn, nil)
	if err := w.BeginScan(context.Background(), nil, []fdw.Column{{Name: "m"}}, nil, nil, fdw.Options{"table": "t"}); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	var row fdw.Row
	_, err := w.IterScan(context.Background(), &row)
	if !errors.Is(err, fdw.ErrUnsupportedColumnType) {
		t.Fatalf("IterScan() error = %v", err)
	}
}

func TestScanWrapsQueryFailure(t *testing.T) {
	w, _ := newTestWrapper(t, &fakeConn{err: errors.New("boom")}, nil)
	err := w.BeginScan(context.Background(), nil, nil, nil, nil, fdw.Options{"table": "t"})
	if !errors.Is(err, fdw.ErrRemoteProtocol) {
		t.Fatalf("BeginScan() error = %v", err)
	}
}

func TestModifyRequiresOptions(t *testing.T) {
	w, _ := newTestWrapper(t, &fakeConn{}, nil)
	if err := w.BeginModify(context.Background(), fdw.Options{"table": "t"}); !errors.Is(err, fdw.ErrOptionMissing) {
		t.Fatalf("BeginModify() error = %v", err)
	}
}

func TestInsertSkipsNullsAndNarrows(t *testing.T) {
	conn := &fakeConn{blocks: map[string]*Block{
		"select * from events where false": {
			Columns: []BlockColumn{
				{Name: "id", Type: "UInt32"},
				{Name: "flag", Type: "UInt8"},
				{Name: "note", Type: "Nullable(String)"},
			},
		},
	}}
	w, _ := newTestWrapper(t, conn, nil)
	ctx := context.Background()
	if err := w.BeginModify(ctx, fdw.Options{"table": "events", "rowid_column": "id"}); err != nil {
		t.Fatalf("BeginModify() error = %v", err)
	}
	row := fdw.Row{}
	row.Push("id", fdw.I64(4294967295))
	row.Push("flag", fdw.I16(255))
	row.Push("note", nil)
	if err := w.Insert(ctx, row); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := w.Insert(ctx, row); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	want := insertCall{table: "events", columns: []string{"id", "flag"}, values: []any{uint32(4294967295), uint8(255)}}
	if diff := cmp.Diff(want, conn.inserts[0], cmp.AllowUnexported(insertCall{})); diff != "" {
		t.Fatalf("insert (-want +got):\n%s", diff)
	}
	if len(conn.queries) != 1 {
		t.Fatalf("probe queries = %d, want 1", len(conn.queries))
	}
	if err := w.EndModify(ctx); err != nil {
		t.Fatalf("EndModify() error = %v", err)
	}
}

func TestInsertAllNullRowNamesColumns(t *testing.T) {
	conn := &fakeConn{blocks: map[string]*Block{
		"select * from events where false": {
			Columns: []BlockColumn{
				{Name: "note", Type: "Nullable(String)"},
				{Name: "score", Type: "Nullable(Float64)"},
			},
		},
	}}
	w, _ := newTestWrapper(t, conn, nil)
	ctx := context.Background()
	if err := w.BeginModify(ctx, fdw.Options{"table": "events", "rowid_column": "note"}); err != nil {
		t.Fatalf("BeginModify() error = %v", err)
	}
	row := fdw.Row{}
	row.Push("note", nil)
	row.Push("score", nil)
	if err := w.Insert(ctx, row); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	want := insertCall{table: "events", columns: []string{"note", "score"}, values: []any{nil, nil}}
	if diff := cmp.Diff(want, conn.inserts[0], cmp.AllowUnexported(insertCall{})); diff != "" {
		t.Fatalf("insert (-want +got):\n%s", diff)
	}

	if err := w.Insert(ctx, fdw.Row{}); !errors.Is(err, fdw.ErrValueParse) {
		t.Fatalf("Insert(empty row) error = %v", err)
	}
	if len(conn.inserts) != 1 {
		t.Fatalf("inserts = %d, want 1", len(conn.inserts))
	}
}

func TestInsertRejectsUnknownColumn(t *testing.T) {
	conn := &fakeConn{blocks: map[string]*Block{
		"select * from events where false": {Columns: []BlockColumn{{Name: "id", Type: "Int64"}}},
	}}
	w, _ := newTestWrapper(t, conn, nil)
	ctx := context.Background()
	if err := w.BeginModify(ctx, fdw.Options{"table": "events", "rowid_column": "id"}); err != nil {
		t.Fatalf("BeginModify() error = %v", err)
	}
	row := fdw.Row{}
	row.Push("other", fdw.I64(1))
	if err := w.Insert(ctx, row); !errors.Is(err, fdw.ErrRemoteProtocol) {
		t.Fatalf("Insert() error = %v", err)
	}
}

func TestUpdateAndDeleteStatements(t *testing.T) {
	conn := &fakeConn{}
	w, _ := newTestWrapper(t, conn, nil)
	ctx := context.Background()
	if err := w.BeginModify(ctx, fdw.Options{"table": "events", "rowid_column": "id"}); err != nil {
		t.Fatalf("BeginModify() error = %v", err)
	}

	row := fdw.Row{}
	row.Push("id", fdw.I64(7))
	row.Push("note", fdw.String("it's"))
	row.Push("score", nil)
	if err := w.Update(ctx, fdw.I64(7), row); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	onlyID := fdw.Row{}
	onlyID.Push("id", fdw.I64(7))
	if err := w.Update(ctx, fdw.I64(7), onlyID); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := w.Delete(ctx, fdw.String("k'1")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	want := []string{
		`alter table events update note = 'it\'s', score = null where id = 7`,
		`alter table events delete where id = 'k\'1'`,
	}
	if diff := cmp.Diff(want, conn.execs); diff != "" {
		t.Fatalf("execs (-want +got):\n%s", diff)
	}
}

func TestModifyBeforeBeginIsInvalid(t *testing.T) {
	w, _ := newTestWrapper(t, &fakeConn{}, nil)
	if err := w.Delete(context.Background(), fdw.I64(1)); !errors.Is(err, fdw.ErrInvalidState) {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestLifecycleThroughInstance(t *testing.T) {
	conn := &fakeConn{blocks: map[string]*Block{
		"select": {
			Columns: []BlockColumn{{Name: "n", Type: "UInt16"}},
			Rows:    [][]any{{uint16(65535)}},
		},
	}}
	w, _ := newTestWrapper(t, conn, nil)
	inst := fdw.NewInstance("ch", w, nil)
	ctx := context.Background()
	if err := inst.BeginScan(ctx, nil, []fdw.Column{{Name: "n"}}, nil, nil, fdw.Options{"table": "t"}); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	var row fdw.Row
	ok, err := inst.IterScan(ctx, &row)
	if err != nil || !ok {
		t.Fatalf("IterScan() = %v, %v", ok, err)
	}
	if cell, _ := row.Get("n"); cell != fdw.I32(65535) {
		t.Fatalf("n = %#v", cell)
	}
	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

package duckdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/parquet-go/parquet-go"

	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/stats"
	"github.com/duckmesh/wrappers/internal/storage"
)

func ptr[T any](v T) *T { return &v }

func newTestWrapper(t *testing.T, cfg Config, rec *stats.Recorder) *Wrapper {
	t.Helper()
	env := fdw.Env{}
	if rec != nil {
		env.Stats = rec
	}
	w, err := New(context.Background(), fdw.ForeignServer{Name: "local", Wrapper: Name}, env, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func mustExec(t *testing.T, w *Wrapper, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		if _, err := w.db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("exec %q error = %v", stmt, err)
		}
	}
}

func scanAll(t *testing.T, inst *fdw.Instance) []fdw.Row {
	t.Helper()
	var rows []fdw.Row
	for {
		var row fdw.Row
		ok, err := inst.IterScan(context.Background(), &row)
		if err != nil {
			t.Fatalf("IterScan() error = %v", err)
		}
		if !ok {
			return rows
		}
		rows = append(rows, row)
	}
}

func TestScanPushesDownQualsSortsAndLimit(t *testing.T) {
	rec := stats.NewRecorder(nil)
	w := newTestWrapper(t, Config{}, rec)
	mustExec(t, w,
		"CREATE TABLE events (id BIGINT, kind VARCHAR, score DOUBLE, small UTINYINT)",
		"INSERT INTO events VALUES (1, 'a', 0.5, 1), (2, 'b', 1.5, 200), (3, 'a', 2.5, 255), (4, 'b', 3.5, NULL)",
	)
	inst := fdw.NewInstance(Name, w, nil)
	ctx := context.Background()

	quals := []fdw.Qual{{Field: "score", Operator: ">", Value: fdw.ScalarValue(fdw.F64(1))}}
	columns := []fdw.Column{{Name: "id"}, {Name: "small"}}
	sorts := []fdw.Sort{{Field: "id", Descending: true}}
	limit := &fdw.Limit{Count: 2, Offset: 0}
	if err := inst.BeginScan(ctx, quals, columns, sorts, limit, fdw.Options{"table": "events"}); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	if w.compiled.SQL != "select id, small from events where score > 1 order by id desc nulls last limit 2" {
		t.Fatalf("SQL = %q", w.compiled.SQL)
	}

	want := []fdw.Row{
		{Cols: []string{"id", "small"}, Cells: []fdw.Cell{fdw.I64(4), nil}},
		{Cols: []string{"id", "small"}, Cells: []fdw.Cell{fdw.I64(3), fdw.I16(255)}},
	}
	if diff := cmp.Diff(want, scanAll(t, inst)); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
	if err := inst.ReScan(ctx); err != nil {
		t.Fatalf("ReScan() error = %v", err)
	}
	if got := len(scanAll(t, inst)); got != 2 {
		t.Fatalf("rows after rescan = %d", got)
	}
	if err := inst.EndScan(ctx); err != nil {
		t.Fatalf("EndScan() error = %v", err)
	}
	if rec.Get(Name, fdw.MetricRowsIn) != 2 || rec.Get(Name, fdw.MetricCreateTimes) != 1 {
		t.Fatalf("stats = %v", rec.Snapshot())
	}
}

func TestScanTemplateFillsConsumedColumn(t *testing.T) {
	w := newTestWrapper(t, Config{}, nil)
	mustExec(t, w,
		"CREATE TABLE events (id BIGINT, kind VARCHAR)",
		"INSERT INTO events VALUES (1, 'a'), (2, 'b'), (3, 'a')",
	)
	ctx := context.Background()
	quals := []fdw.Qual{{Field: "kind", Operator: "=", Value: fdw.ScalarValue(fdw.String("a"))}}
	columns := []fdw.Column{{Name: "id"}, {Name: "kind"}}
	sorts := []fdw.Sort{{Field: "id"}}
	options := fdw.Options{"table": "(select * from events where kind = ${kind})"}
	if err := w.BeginScan(ctx, quals, columns, sorts, nil, options); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	var ids []fdw.Cell
	for {
		var row fdw.Row
		ok, err := w.IterScan(ctx, &row)
		if err != nil {
			t.Fatalf("IterScan() error = %v", err)
		}
		if !ok {
			break
		}
		if kind, _ := row.Get("kind"); kind != fdw.String("a") {
			t.Fatalf("kind = %#v", kind)
		}
		id, _ := row.Get("id")
		ids = append(ids, id)
	}
	if diff := cmp.Diff([]fdw.Cell{fdw.I64(1), fdw.I64(3)}, ids); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
}

func TestScanTemplateRejectsArrayParameter(t *testing.T) {
	w := newTestWrapper(t, Config{}, nil)
	quals := []fdw.Qual{{Field: "kind", Operator: "=", Value: fdw.ArrayValue(fdw.String("a"), fdw.String("b"))}}
	err := w.BeginScan(context.Background(), quals, nil, nil, nil, fdw.Options{"table": "(select 1 where ${kind})"})
	if !errors.Is(err, fdw.ErrNoArrayParameter) {
		t.Fatalf("BeginScan() error = %v", err)
	}
}

func TestModifyRoundTrip(t *testing.T) {
	w := newTestWrapper(t, Config{}, nil)
	mustExec(t, w, `CREATE TABLE notes (id BIGINT, body VARCHAR, day DATE, "at" TIMESTAMP, tags VARCHAR[])`)
	inst := fdw.NewInstance(Name, w, nil)
	ctx := context.Background()

	if err := inst.BeginModify(ctx, fdw.Options{"table": "notes", "rowid_column": "id"}); err != nil {
		t.Fatalf("BeginModify() error = %v", err)
	}
	row := fdw.Row{}
	row.Push("id", fdw.I64(1))
	row.Push("body", fdw.String("it's"))
	row.Push("day", fdw.Date(1))
	row.Push("at", fdw.Timestamp(5_000_000))
	row.Push("tags", fdw.StringArray{ptr("x"), nil})
	if err := inst.Insert(ctx, row); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	second := fdw.Row{}
	second.Push("id", fdw.I64(2))
	second.Push("body", nil)
	if err := inst.Insert(ctx, second); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	update := fdw.Row{}
	update.Push("id", fdw.I64(2))
	update.Push("body", fdw.String("second"))
	if err := inst.Update(ctx, fdw.I64(2), update); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := inst.Delete(ctx, fdw.I64(1)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := inst.EndModify(ctx); err != nil {
		t.Fatalf("EndModify() error = %v", err)
	}

	if err := inst.BeginScan(ctx, nil, []fdw.Column{{Name: "id"}, {Name: "body"}}, nil, nil, fdw.Options{"table": "notes"}); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	want := []fdw.Row{{Cols: []string{"id", "body"}, Cells: []fdw.Cell{fdw.I64(2), fdw.String("second")}}}
	if diff := cmp.Diff(want, scanAll(t, inst)); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestInsertedValuesReadBack(t *testing.T) {
	w := newTestWrapper(t, Config{}, nil)
	mustExec(t, w, "CREATE TABLE notes (id BIGINT, body VARCHAR, day DATE, seen_at TIMESTAMP, tags VARCHAR[])")
	ctx := context.Background()
	if err := w.BeginModify(ctx, fdw.Options{"table": "notes", "rowid_column": "id"}); err != nil {
		t.Fatalf("BeginModify() error = %v", err)
	}
	row := fdw.Row{}
	row.Push("id", fdw.I64(1))
	row.Push("body", fdw.String("it's"))
	row.Push("day", fdw.Date(1))
	row.Push("seen_at", fdw.Timestamp(5_000_000))
	row.Push("tags", fdw.StringArray{ptr("x"), nil})
	if err := w.Insert(ctx, row); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := w.EndModify(ctx); err != nil {
		t.Fatalf("EndModify() error = %v", err)
	}

	columns := []fdw.Column{{Name: "id"}, {Name: "body"}, {Name: "day"}, {Name: "seen_at"}, {Name: "tags"}}
	if err := w.BeginScan(ctx, nil, columns, nil, nil, fdw.Options{"table": "notes"}); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	var got fdw.Row
	if ok, err := w.IterScan(ctx, &got); err != nil || !ok {
		t.Fatalf("IterScan() = %v, %v", ok, err)
	}
	if diff := cmp.Diff(row, got); diff != "" {
		t.Fatalf("row (-want +got):\n%s", diff)
	}
}

func TestModifyQuotesKeywordColumns(t *testing.T) {
	w := newTestWrapper(t, Config{}, nil)
	mustExec(t, w, `CREATE TABLE slots ("order" BIGINT, "at" VARCHAR)`)
	ctx := context.Background()
	if err := w.BeginModify(ctx, fdw.Options{"table": "slots", "rowid_column": "order"}); err != nil {
		t.Fatalf("BeginModify() error = %v", err)
	}
	for i, at := range []string{"noon", "dusk"} {
		row := fdw.Row{}
		row.Push("order", fdw.I64(int64(i+1)))
		row.Push("at", fdw.String(at))
		if err := w.Insert(ctx, row); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	update := fdw.Row{}
	update.Push("order", fdw.I64(2))
	update.Push("at", fdw.String("dawn"))
	if err := w.Update(ctx, fdw.I64(2), update); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := w.Delete(ctx, fdw.I64(1)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := w.EndModify(ctx); err != nil {
		t.Fatalf("EndModify() error = %v", err)
	}

	var order int64
	var at string
	if err := w.db.QueryRowContext(ctx, `SELECT "order", "at" FROM slots`).Scan(&order, &at); err != nil {
		t.Fatalf("QueryRow() error = %v", err)
	}
	if order != 2 || at != "dawn" {
		t.Fatalf("row = %d, %q, want 2, dawn", order, at)
	}
}

func TestModifyRequiresRowidColumn(t *testing.T) {
	w := newTestWrapper(t, Config{}, nil)
	err := w.BeginModify(context.Background(), fdw.Options{"table": "notes"})
	if !errors.Is(err, fdw.ErrOptionMissing) {
		t.Fatalf("BeginModify() error = %v", err)
	}
	if err := w.Insert(context.Background(), fdw.Row{}); !errors.Is(err, fdw.ErrInvalidState) {
		t.Fatalf("Insert() error = %v", err)
	}
}

type event struct {
	ID   int64  `parquet:"id"`
	Kind string `parquet:"kind"`
}

func buildParquet(t *testing.T, rows []event) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[event](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("parquet Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("parquet Close() error = %v", err)
	}
	return buf.Bytes()
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var infos []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func TestScanStagesParquetObjects(t *testing.T) {
	first := buildParquet(t, []event{{ID: 1, Kind: "a"}, {ID: 2, Kind: "b"}})
	second := buildParquet(t, []event{{ID: 3, Kind: "a"}})
	store := &memoryStore{objects: map[string][]byte{
		"events/date=2026-02-19/part-1.parquet": first,
		"events/date=2026-02-20/part-2.parquet": second,
		"events/date=2026-02-20/_SUCCESS":       []byte("ok"),
	}}
	rec := stats.NewRecorder(nil)
	w := newTestWrapper(t, Config{Store: store, StagingDir: t.TempDir()}, rec)
	inst := fdw.NewInstance(Name, w, nil)
	ctx := context.Background()

	quals := []fdw.Qual{{Field: "kind", Operator: "=", Value: fdw.ScalarValue(fdw.String("a"))}}
	columns := []fdw.Column{{Name: "id"}}
	sorts := []fdw.Sort{{Field: "id"}}
	options := fdw.Options{"table": "events", "objects": "events/"}
	if err := inst.BeginScan(ctx, quals, columns, sorts, nil, options); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	want := []fdw.Row{
		{Cols: []string{"id"}, Cells: []fdw.Cell{fdw.I64(1)}},
		{Cols: []string{"id"}, Cells: []fdw.Cell{fdw.I64(3)}},
	}
	if diff := cmp.Diff(want, scanAll(t, inst)); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
	if got, want := rec.Get(Name, fdw.MetricBytesIn), int64(len(first)+len(second)); got != want {
		t.Fatalf("bytes_in = %d, want %d", got, want)
	}
	dir := w.staged.dir
	if err := inst.EndScan(ctx); err != nil {
		t.Fatalf("EndScan() error = %v", err)
	}
	if _, err := w.db.ExecContext(ctx, "SELECT * FROM events"); err == nil {
		t.Fatal("expected view to be dropped after EndScan")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("staging dir %q still present: %v", dir, err)
	}
}

func TestScanStagingRequiresViewForTemplates(t *testing.T) {
	w := newTestWrapper(t, Config{Store: &memoryStore{objects: map[string][]byte{}}}, nil)
	err := w.BeginScan(context.Background(), nil, nil, nil, nil, fdw.Options{
		"table":   "(select * from staged)",
		"objects": "events/a.parquet",
	})
	if !errors.Is(err, fdw.ErrOptionMissing) {
		t.Fatalf("BeginScan() error = %v", err)
	}
}

func TestScanStagingWithoutStoreFails(t *testing.T) {
	w := newTestWrapper(t, Config{}, nil)
	err := w.BeginScan(context.Background(), nil, nil, nil, nil, fdw.Options{"table": "events", "objects": "events/a.parquet"})
	if !errors.Is(err, fdw.ErrRemoteProtocol) {
		t.Fatalf("BeginScan() error = %v", err)
	}
}

func TestImportForeignSchema(t *testing.T) {
	w := newTestWrapper(t, Config{}, nil)
	mustExec(t, w,
		`CREATE TABLE events (id BIGINT NOT NULL, kind VARCHAR, tags INTEGER[], "at" TIMESTAMP, blob BLOB)`,
		"CREATE TABLE skipped (id INTEGER)",
	)
	stmts, err := w.ImportForeignSchema(context.Background(), fdw.ImportForeignSchemaStmt{
		ServerName:  "local",
		LocalSchema: "public",
		ListType:    fdw.ImportSchemaLimitTo,
		TableList:   []string{"events"},
	})
	if err != nil {
		t.Fatalf("ImportForeignSchema() error = %v", err)
	}
	want := []string{
		"create foreign table if not exists \"public\".\"events\" (\n" +
			"  \"id\" int8 not null,\n" +
			"  \"kind\" text,\n" +
			"  \"tags\" int4[],\n" +
			"  \"at\" timestamp\n" +
			")\nserver \"local\"\noptions (table 'events')",
	}
	if diff := cmp.Diff(want, stmts); diff != "" {
		t.Fatalf("statements (-want +got):\n%s", diff)
	}

	_, err = w.ImportForeignSchema(context.Background(), fdw.ImportForeignSchemaStmt{
		ServerName:  "local",
		LocalSchema: "public",
		Options:     fdw.Options{"strict": "on"},
	})
	if !errors.Is(err, fdw.ErrUnsupportedColumnType) {
		t.Fatalf("strict ImportForeignSchema() error = %v", err)
	}
}

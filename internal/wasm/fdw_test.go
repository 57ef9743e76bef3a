package wasm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/wasm/abiv2"
)

type statCall struct {
	name   string
	metric fdw.Metric
	delta  int64
}

type recordingStats struct {
	calls []statCall
}

func (r *recordingStats) IncStats(name string, metric fdw.Metric, delta int64) {
	r.calls = append(r.calls, statCall{name: name, metric: metric, delta: delta})
}

func (r *recordingStats) total(metric fdw.Metric) int64 {
	var sum int64
	for _, c := range r.calls {
		if c.metric == metric {
			sum += c.delta
		}
	}
	return sum
}

func packageServer(path string) fdw.ForeignServer {
	return fdw.ForeignServer{
		Name:    "plugin_srv",
		Wrapper: Name,
		Options: fdw.Options{"fdw_package_url": path, "fdw_package_name": "static"},
	}
}

func TestWrapperScansGuestRows(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	ctx := context.Background()
	stats := &recordingStats{}
	w, err := New(ctx, packageServer(writePackage(t, guestModule("v2.0.0"))), fdw.Env{Stats: stats}, Config{MemoryLimitPages: 16})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	inst := fdw.NewInstance("static", w, nil)
	t.Cleanup(func() { _ = inst.Close(ctx) })

	if got := logs.FilterMessage(logCreated).Len(); got != 1 {
		t.Fatalf("guest log lines = %d, want 1", got)
	}
	if got := stats.total(fdw.MetricCreateTimes); got != 1 {
		t.Fatalf("create_times = %d, want 1", got)
	}

	columns := []fdw.Column{{Name: "id", Num: 1, TypeOID: 20}}
	quals := []fdw.Qual{{Field: "day", Operator: "=", Value: fdw.ScalarValue(fdw.Date(1))}}
	if err := inst.BeginScan(ctx, quals, columns, nil, nil, fdw.Options{}); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}

	want := fdw.Row{
		Cols:  []string{"id", "day", "at", "note"},
		Cells: []fdw.Cell{fdw.I64(42), fdw.Date(1), fdw.Timestamptz(0), nil},
	}
	for pass := 0; pass < 2; pass++ {
		var row fdw.Row
		ok, err := inst.IterScan(ctx, &row)
		if err != nil {
			t.Fatalf("IterScan() error = %v", err)
		}
		if !ok {
			t.Fatalf("IterScan() pass %d reported no row", pass)
		}
		if diff := cmp.Diff(want, row); diff != "" {
			t.Fatalf("IterScan() row mismatch (-want +got):\n%s", diff)
		}
		ok, err = inst.IterScan(ctx, &row)
		if err != nil || ok {
			t.Fatalf("IterScan() after last row = %v, %v; want false, nil", ok, err)
		}
		if err := inst.ReScan(ctx); err != nil {
			t.Fatalf("ReScan() error = %v", err)
		}
	}
	if err := inst.EndScan(ctx); err != nil {
		t.Fatalf("EndScan() error = %v", err)
	}
	if got := stats.total(fdw.MetricRowsIn); got != 2 {
		t.Fatalf("rows_in = %d, want 2", got)
	}
	if got, want := stats.total(fdw.MetricBytesOut), int64(2*len(respRow)+2*len(respDone)); got != want {
		t.Fatalf("bytes_out = %d, want %d released iter_scan bytes", got, want)
	}
	for _, c := range stats.calls {
		if c.name != "static" {
			t.Fatalf("stats recorded under %q, want static", c.name)
		}
	}
}

func TestWrapperGuestErrors(t *testing.T) {
	ctx := context.Background()
	w, err := New(ctx, packageServer(writePackage(t, guestModule("2.3.0"))), fdw.Env{}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	err = w.BeginModify(ctx, fdw.Options{})
	if !errors.Is(err, fdw.ErrPluginFault) || !strings.Contains(err.Error(), "read only") {
		t.Fatalf("BeginModify() error = %v, want plugin fault carrying the guest message", err)
	}
	if err := w.Insert(ctx, fdw.Row{}); !errors.Is(err, fdw.ErrPluginFault) {
		t.Fatalf("Insert() error = %v, want plugin fault for missing export", err)
	}

	statements, err := w.ImportForeignSchema(ctx, fdw.ImportForeignSchemaStmt{ServerName: "plugin_srv", LocalSchema: "public"})
	if err != nil {
		t.Fatalf("ImportForeignSchema() error = %v", err)
	}
	if diff := cmp.Diff([]string{"create foreign table t"}, statements); diff != "" {
		t.Fatalf("ImportForeignSchema() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRejectsPackages(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		wasm []byte
		want string
	}{
		{"no version", wasmHeader, "declares no wrappers-abi"},
		{"old major", concat(wasmHeader, versionSection("v1.4.0")), "unsupported abi version"},
		{"no memory", concat(wasmHeader, versionSection("v2.0.0")), "exports no memory"},
		{"not wasm", []byte("not a module"), "compile package"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ctx, packageServer(writePackage(t, tt.wasm)), fdw.Env{}, Config{})
			if !errors.Is(err, fdw.ErrPluginFault) {
				t.Fatalf("New() error = %v, want plugin fault", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("New() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestNewRequiresPackageURL(t *testing.T) {
	_, err := New(context.Background(), fdw.ForeignServer{Name: "srv", Options: fdw.Options{}}, fdw.Env{}, Config{})
	if !errors.Is(err, fdw.ErrOptionMissing) {
		t.Fatalf("New() error = %v, want option missing", err)
	}
}

func TestFactorySharesCompilationCache(t *testing.T) {
	ctx := context.Background()
	factory := NewFactory(Config{})
	server := packageServer(writePackage(t, guestModule("v2.0.0")))
	for i := 0; i < 2; i++ {
		w, err := factory(ctx, server, fdw.Env{})
		if err != nil {
			t.Fatalf("factory() error = %v", err)
		}
		if err := w.(*Wrapper).Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}
}

type fakeCall struct {
	export string
	req    any
}

type fakeGuest struct {
	calls   []fakeCall
	exports map[string]bool
	rows    []abiv2.Row
	err     error
	closed  bool
}

func (f *fakeGuest) call(_ context.Context, export string, req, resp any) error {
	f.calls = append(f.calls, fakeCall{export: export, req: req})
	if f.err != nil {
		return f.err
	}
	if export == abiv2.ExportIterScan {
		out := resp.(*abiv2.IterScanResponse)
		if len(f.rows) > 0 {
			out.Row = &f.rows[0]
			f.rows = f.rows[1:]
		}
	}
	return nil
}

func (f *fakeGuest) has(export string) bool {
	if f.exports == nil {
		return true
	}
	return f.exports[export]
}

func (f *fakeGuest) close(context.Context) error {
	f.closed = true
	return nil
}

func TestWrapperRequests(t *testing.T) {
	ctx := context.Background()
	g := &fakeGuest{}
	server := fdw.ForeignServer{Name: "srv", Options: fdw.Options{"api_key": "k"}}
	w, err := newWithGuest(ctx, server, fdw.Env{}, Name, g)
	if err != nil {
		t.Fatalf("newWithGuest() error = %v", err)
	}

	quals := []fdw.Qual{{Field: "at", Operator: ">", Value: fdw.ScalarValue(fdw.Timestamp(0)), Param: &fdw.Param{ID: 1, TypeOID: 1114}}}
	sorts := []fdw.Sort{{Field: "at", Descending: true}}
	if err := w.BeginScan(ctx, quals, nil, sorts, &fdw.Limit{Count: 3}, fdw.Options{"object": "events"}); err != nil {
		t.Fatalf("BeginScan() error = %v", err)
	}
	if err := w.Update(ctx, fdw.I64(9), fdw.Row{Cols: []string{"n"}, Cells: []fdw.Cell{fdw.String("x")}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := w.Delete(ctx, fdw.Date(0)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := w.Close(); err != nil || !g.closed {
		t.Fatalf("Close() = %v, closed = %v", err, g.closed)
	}

	want := []fakeCall{
		{export: abiv2.ExportCreate, req: abiv2.CreateRequest{Server: "srv", Options: map[string]string{"api_key": "k"}}},
		{export: abiv2.ExportBeginScan, req: abiv2.BeginScanRequest{
			Quals: []abiv2.Qual{{
				Field:    "at",
				Operator: ">",
				Value:    abiv2.Value{Cell: &abiv2.Cell{Type: abiv2.CellTimestamp, Int: fdw.EpochUnixMicros}},
				Param:    &abiv2.Param{ID: 1, TypeOID: 1114},
			}},
			Columns: []abiv2.Column{},
			Sorts:   []abiv2.Sort{{Field: "at", Reversed: true}},
			Limit:   &abiv2.Limit{Count: 3},
			Options: map[string]string{"object": "events"},
		}},
		{export: abiv2.ExportUpdate, req: abiv2.UpdateRequest{
			Rowid: &abiv2.Cell{Type: abiv2.CellI64, Int: 9},
			Row:   abiv2.Row{Cols: []string{"n"}, Cells: []*abiv2.Cell{{Type: abiv2.CellString, Text: "x"}}},
		}},
		{export: abiv2.ExportDelete, req: abiv2.DeleteRequest{Rowid: &abiv2.Cell{Type: abiv2.CellDate, Int: fdw.EpochUnixSeconds}}},
	}
	if diff := cmp.Diff(want, g.calls, cmp.AllowUnexported(fakeCall{})); diff != "" {
		t.Fatalf("guest calls mismatch (-want +got):\n%s", diff)
	}
}

func TestWrapperUnsupportedExports(t *testing.T) {
	ctx := context.Background()
	g := &fakeGuest{exports: map[string]bool{abiv2.ExportCreate: true}}
	w, err := newWithGuest(ctx, fdw.ForeignServer{Name: "srv"}, fdw.Env{}, Name, g)
	if err != nil {
		t.Fatalf("newWithGuest() error = %v", err)
	}
	if err := w.BeginModify(ctx, nil); !errors.Is(err, fdw.ErrUnsupported) {
		t.Fatalf("BeginModify() error = %v, want unsupported", err)
	}
	if _, err := w.ImportForeignSchema(ctx, fdw.ImportForeignSchemaStmt{}); !errors.Is(err, fdw.ErrUnsupported) {
		t.Fatalf("ImportForeignSchema() error = %v, want unsupported", err)
	}
}

func TestWrapperRejectsBadGuestRows(t *testing.T) {
	ctx := context.Background()
	g := &fakeGuest{rows: []abiv2.Row{{Cols: []string{"n"}, Cells: []*abiv2.Cell{{Type: abiv2.CellI8, Int: 300}}}}}
	w, err := newWithGuest(ctx, fdw.ForeignServer{Name: "srv"}, fdw.Env{}, Name, g)
	if err != nil {
		t.Fatalf("newWithGuest() error = %v", err)
	}
	var row fdw.Row
	if _, err := w.IterScan(ctx, &row); !errors.Is(err, fdw.ErrValueParse) {
		t.Fatalf("IterScan() error = %v, want value parse", err)
	}
}

func TestCreateFailureIsReported(t *testing.T) {
	g := &fakeGuest{err: fdw.PluginFault("create: bad api key", nil)}
	stats := &recordingStats{}
	if _, err := newWithGuest(context.Background(), fdw.ForeignServer{Name: "srv"}, fdw.Env{Stats: stats}, Name, g); !errors.Is(err, fdw.ErrPluginFault) {
		t.Fatalf("newWithGuest() error = %v, want plugin fault", err)
	}
	if len(stats.calls) != 0 {
		t.Fatalf("stats recorded for a failed create: %+v", stats.calls)
	}
}

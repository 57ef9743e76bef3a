package wasm

import (
	"os"
	"path/filepath"
	"testing"
)

// Minimal WebAssembly binary encoding for test guests.

const (
	valI32 = 0x7f
	valI64 = 0x7e
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func encName(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(payload)))...)
	return append(out, payload...)
}

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint64(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint64(len(results)))...)
	return append(out, results...)
}

func i32Const(v int64) []byte { return append([]byte{0x41}, sleb(v)...) }
func i64Const(v int64) []byte { return append([]byte{0x42}, sleb(v)...) }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func body(code ...[]byte) []byte {
	fn := concat(append([][]byte{{0x00}}, append(code, []byte{0x0b})...)...)
	return append(uleb(uint64(len(fn))), fn...)
}

func exportFunc(n string, idx uint64) []byte {
	return concat(encName(n), []byte{0x00}, uleb(idx))
}

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func versionSection(version string) []byte {
	return section(0x00, concat(encName("wrappers-abi"), []byte(version)))
}

const dataBase = 1024

// staticGuest serves canned responses from a data segment.
type staticGuest struct {
	data    []byte
	offsets map[string]int64
}

func (s *staticGuest) add(key, text string) {
	if s.offsets == nil {
		s.offsets = map[string]int64{}
	}
	s.offsets[key] = int64(dataBase + len(s.data))
	s.data = append(s.data, text...)
}

// packed returns ptr << 32 | len for the response stored under key.
func (s *staticGuest) packed(key, text string) int64 {
	return s.offsets[key]<<32 | int64(len(text))
}

const (
	respOK     = `{"ok":{}}`
	respRow    = `{"ok":{"row":{"cols":["id","day","at","note"],"cells":[{"type":"i64","int":42},{"type":"date","int":946771200},{"type":"timestamptz","int":946684800000000},null]}}}`
	respDone   = `{"ok":{"row":null}}`
	respFail   = `{"err":"read only"}`
	respSchema = `{"ok":{"statements":["create foreign table t"]}}`
	logCreated = "created"
)

// guestModule encodes a guest that logs on create, returns one row per scan
// and rejects modification. Releasing an iter_scan result counts its length
// as bytes_out.
func guestModule(version string) []byte {
	var s staticGuest
	s.add("ok", respOK)
	s.add("row", respRow)
	s.add("done", respDone)
	s.add("fail", respFail)
	s.add("schema", respSchema)
	s.add("log", logCreated)

	types := section(0x01, vec(
		funcType([]byte{valI32, valI32, valI32, valI32}, []byte{valI32}),
		funcType([]byte{valI32, valI32}, []byte{valI64}),
		funcType([]byte{valI32, valI64}, nil),
		funcType([]byte{valI32, valI32, valI32}, nil),
		funcType([]byte{valI64}, nil),
	))
	imports := section(0x02, vec(
		concat(encName("wrappers"), encName("inc_stats"), []byte{0x00}, uleb(2)),
		concat(encName("wrappers"), encName("log"), []byte{0x00}, uleb(3)),
	))
	funcs := section(0x03, vec(
		uleb(0), uleb(1), uleb(1), uleb(1), uleb(1), uleb(1), uleb(1), uleb(1), uleb(4),
	))
	memory := section(0x05, vec([]byte{0x00, 0x01}))
	globals := section(0x06, vec(
		concat([]byte{valI32, 0x01}, i32Const(8192), []byte{0x0b}),
		concat([]byte{valI32, 0x01}, i32Const(0), []byte{0x0b}),
	))
	exports := section(0x07, vec(
		concat(encName("memory"), []byte{0x02}, uleb(0)),
		exportFunc("cabi_realloc", 2),
		exportFunc("create", 3),
		exportFunc("begin_scan", 4),
		exportFunc("iter_scan", 5),
		exportFunc("re_scan", 6),
		exportFunc("end_scan", 7),
		exportFunc("begin_modify", 8),
		exportFunc("import_foreign_schema", 9),
		exportFunc("cabi_post_iter_scan", 10),
	))

	ok := i64Const(s.packed("ok", respOK))
	reset := concat(i32Const(0), []byte{0x24, 0x01})
	code := section(0x0a, vec(
		// cabi_realloc: bump allocator over global 0.
		body([]byte{0x23, 0x00, 0x23, 0x00, 0x20, 0x03, 0x6a, 0x24, 0x00}),
		// create: log at info, then ok.
		body(i32Const(1), i32Const(s.offsets["log"]), i32Const(int64(len(logCreated))), []byte{0x10, 0x01}, ok),
		// begin_scan
		body(reset, ok),
		// iter_scan: one row, counted as rows_in, then done.
		body(
			[]byte{0x23, 0x01, 0x45, 0x04, valI64},
			i32Const(1), []byte{0x24, 0x01},
			i32Const(1), i64Const(1), []byte{0x10, 0x00},
			i64Const(s.packed("row", respRow)),
			[]byte{0x05},
			i64Const(s.packed("done", respDone)),
			[]byte{0x0b},
		),
		// re_scan
		body(reset, ok),
		// end_scan
		body(ok),
		// begin_modify
		body(i64Const(s.packed("fail", respFail))),
		// import_foreign_schema
		body(i64Const(s.packed("schema", respSchema))),
		// cabi_post_iter_scan: reports the released result length as bytes_out.
		body(i32Const(4), []byte{0x20, 0x00}, i64Const(0xffffffff), []byte{0x83, 0x10, 0x00}),
	))
	data := section(0x0b, vec(concat([]byte{0x00}, i32Const(dataBase), []byte{0x0b}, uleb(uint64(len(s.data))), s.data)))

	return concat(wasmHeader, types, imports, funcs, memory, globals, exports, code, data, versionSection(version))
}

func writePackage(t *testing.T, wasmBytes []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guest.wasm")
	if err := os.WriteFile(path, wasmBytes, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

package fdw

import (
	"context"
	"io"
	"log/slog"
)

// ForeignDataWrapper is the scan half of the capability contract. Rows are
// produced one at a time by IterScan into a caller-owned Row.
type ForeignDataWrapper interface {
	BeginScan(ctx context.Context, quals []Qual, columns []Column, sorts []Sort, limit *Limit, options Options) error
	// IterScan fills row and reports true, or reports false once the scan
	// is exhausted.
	IterScan(ctx context.Context, row *Row) (bool, error)
	ReScan(ctx context.Context) error
	EndScan(ctx context.Context) error
}

// Modifier is implemented by wrappers that accept INSERT, UPDATE and DELETE.
type Modifier interface {
	BeginModify(ctx context.Context, options Options) error
	Insert(ctx context.Context, row Row) error
	Update(ctx context.Context, rowid Cell, row Row) error
	Delete(ctx context.Context, rowid Cell) error
	EndModify(ctx context.Context) error
}

// SchemaImporter is implemented by wrappers that can describe remote tables.
// It returns one CREATE FOREIGN TABLE statement per imported table.
type SchemaImporter interface {
	ImportForeignSchema(ctx context.Context, stmt ImportForeignSchemaStmt) ([]string, error)
}

// Factory creates a wrapper instance for a foreign server.
type Factory func(ctx context.Context, server ForeignServer, env Env) (ForeignDataWrapper, error)

type Metric int

const (
	MetricCreateTimes Metric = iota
	MetricRowsIn
	MetricRowsOut
	MetricBytesIn
	MetricBytesOut
)

func (m Metric) String() string {
	switch m {
	case MetricCreateTimes:
		return "create_times"
	case MetricRowsIn:
		return "rows_in"
	case MetricRowsOut:
		return "rows_out"
	case MetricBytesIn:
		return "bytes_in"
	case MetricBytesOut:
		return "bytes_out"
	default:
		return "unknown"
	}
}

type StatsSink interface {
	IncStats(fdwName string, metric Metric, delta int64)
}

// Env carries the host services a wrapper may use.
type Env struct {
	Secrets SecretResolver
	Stats   StatsSink
	Logger  *slog.Logger
}

func (e Env) Log() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

func (e Env) IncStats(fdwName string, metric Metric, delta int64) {
	if e.Stats == nil {
		return
	}
	e.Stats.IncStats(fdwName, metric, delta)
}

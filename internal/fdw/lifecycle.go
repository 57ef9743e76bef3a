package fdw

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

type State int

const (
	StateCreated State = iota
	StateScanning
	StateExhausted
	StateModifying
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateScanning:
		return "scanning"
	case StateExhausted:
		return "exhausted"
	case StateModifying:
		return "modifying"
	default:
		return "unknown"
	}
}

// Instance drives one wrapper through the scan and modify lifecycle. Once a
// scan is exhausted IterScan keeps returning false without touching the
// wrapper again, and EndScan and EndModify are idempotent.
type Instance struct {
	name    string
	wrapper ForeignDataWrapper
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

func NewInstance(name string, wrapper ForeignDataWrapper, logger *slog.Logger) *Instance {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Instance{
		name:    name,
		wrapper: wrapper,
		logger:  logger.With(slog.String("fdw", name)),
		state:   StateCreated,
	}
}

func (i *Instance) Name() string { return i.name }

func (i *Instance) Wrapper() ForeignDataWrapper { return i.wrapper }

func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) BeginScan(ctx context.Context, quals []Qual, columns []Column, sorts []Sort, limit *Limit, options Options) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateCreated {
		return InvalidState("begin_scan", i.state)
	}
	if err := i.wrapper.BeginScan(ctx, quals, columns, sorts, limit, options); err != nil {
		i.logger.ErrorContext(ctx, "begin scan failed", slog.Any("error", err))
		return err
	}
	i.state = StateScanning
	return nil
}

func (i *Instance) IterScan(ctx context.Context, row *Row) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch i.state {
	case StateExhausted:
		row.Clear()
		return false, nil
	case StateScanning:
	default:
		return false, InvalidState("iter_scan", i.state)
	}
	row.Clear()
	ok, err := i.wrapper.IterScan(ctx, row)
	if err != nil {
		return false, err
	}
	if !ok {
		row.Clear()
		i.state = StateExhausted
	}
	return ok, nil
}

func (i *Instance) ReScan(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateScanning && i.state != StateExhausted {
		return InvalidState("re_scan", i.state)
	}
	if err := i.wrapper.ReScan(ctx); err != nil {
		return err
	}
	i.state = StateScanning
	return nil
}

func (i *Instance) EndScan(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch i.state {
	case StateCreated:
		return nil
	case StateScanning, StateExhausted:
	default:
		return InvalidState("end_scan", i.state)
	}
	i.state = StateCreated
	return i.wrapper.EndScan(ctx)
}

func (i *Instance) modifier() (Modifier, error) {
	m, ok := i.wrapper.(Modifier)
	if !ok {
		return nil, Unsupported("modify", i.name)
	}
	return m, nil
}

func (i *Instance) BeginModify(ctx context.Context, options Options) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateCreated {
		return InvalidState("begin_modify", i.state)
	}
	m, err := i.modifier()
	if err != nil {
		return err
	}
	if err := m.BeginModify(ctx, options); err != nil {
		i.logger.ErrorContext(ctx, "begin modify failed", slog.Any("error", err))
		return err
	}
	i.state = StateModifying
	return nil
}

func (i *Instance) Insert(ctx context.Context, row Row) error {
	m, err := i.activeModifier("insert")
	if err != nil {
		return err
	}
	return m.Insert(ctx, row)
}

func (i *Instance) Update(ctx context.Context, rowid Cell, row Row) error {
	m, err := i.activeModifier("update")
	if err != nil {
		return err
	}
	return m.Update(ctx, rowid, row)
}

func (i *Instance) Delete(ctx context.Context, rowid Cell) error {
	m, err := i.activeModifier("delete")
	if err != nil {
		return err
	}
	return m.Delete(ctx, rowid)
}

func (i *Instance) activeModifier(op string) (Modifier, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateModifying {
		return nil, InvalidState(op, i.state)
	}
	return i.modifier()
}

func (i *Instance) EndModify(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch i.state {
	case StateCreated:
		return nil
	case StateModifying:
	default:
		return InvalidState("end_modify", i.state)
	}
	i.state = StateCreated
	m, err := i.modifier()
	if err != nil {
		return err
	}
	return m.EndModify(ctx)
}

// ImportForeignSchema returns no statements when the wrapper does not
// implement SchemaImporter.
func (i *Instance) ImportForeignSchema(ctx context.Context, stmt ImportForeignSchemaStmt) ([]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateCreated {
		return nil, InvalidState("import_foreign_schema", i.state)
	}
	importer, ok := i.wrapper.(SchemaImporter)
	if !ok {
		return nil, nil
	}
	stmt.ListType = stmt.ListType.Normalize()
	return importer.ImportForeignSchema(ctx, stmt)
}

// Close ends any open scan or modify and releases the wrapper if it holds
// resources of its own.
func (i *Instance) Close(ctx context.Context) error {
	var errs []error
	switch i.State() {
	case StateScanning, StateExhausted:
		errs = append(errs, i.EndScan(ctx))
	case StateModifying:
		errs = append(errs, i.EndModify(ctx))
	}
	if closer, ok := i.wrapper.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

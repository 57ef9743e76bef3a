package fdwctl

import (
	"github.com/spf13/cobra"

	"github.com/duckmesh/wrappers/internal/fdw"
)

type scanFlags struct {
	tableOptions []string
	columns      []string
	filters      []string
	sorts        []string
	limit        int64
	offset       int64
}

type scanRequest struct {
	quals   []fdw.Qual
	columns []fdw.Column
	sorts   []fdw.Sort
	limit   *fdw.Limit
	options fdw.Options
}

func (r *runner) scanCommand() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a foreign table and print its rows",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := r.scanRequest(f)
			if err != nil {
				return err
			}
			s, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := r.scan(s, req)
			if err == nil {
				err = writeRows(cmd.OutOrStdout(), r.flags.format, r.codec, req.columns, rows)
			}
			return r.finish(s, err)
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVarP(&f.tableOptions, "table-option", "t", nil, "table option as key=value (repeatable)")
	flags.StringArrayVarP(&f.columns, "column", "c", nil, "column as name:type (repeatable)")
	flags.StringArrayVar(&f.filters, "filter", nil, "restriction such as id=42, ts>=2024-01-01, id={1,2} or name is null (repeatable)")
	flags.StringArrayVar(&f.sorts, "sort", nil, "sort key as column[:asc|desc[:nulls-first|nulls-last]] (repeatable)")
	flags.Int64Var(&f.limit, "limit", -1, "maximum number of rows")
	flags.Int64Var(&f.offset, "offset", 0, "rows to skip before the first returned row")
	return cmd
}

func (r *runner) scanRequest(f scanFlags) (scanRequest, error) {
	var req scanRequest
	var err error
	if req.options, err = parseOptions(f.tableOptions); err != nil {
		return scanRequest{}, err
	}
	if len(f.columns) == 0 {
		return scanRequest{}, usageErrorf("at least one -c name:type column is required")
	}
	if req.columns, err = parseColumns(r.codec, f.columns); err != nil {
		return scanRequest{}, err
	}
	for _, raw := range f.filters {
		qual, err := parseFilter(r.codec, req.columns, raw)
		if err != nil {
			return scanRequest{}, err
		}
		req.quals = append(req.quals, qual)
	}
	for _, raw := range f.sorts {
		sort, err := parseSort(raw)
		if err != nil {
			return scanRequest{}, err
		}
		req.sorts = append(req.sorts, sort)
	}
	if f.offset < 0 {
		return scanRequest{}, usageErrorf("--offset must not be negative")
	}
	if f.limit >= 0 {
		req.limit = &fdw.Limit{Count: f.limit, Offset: f.offset}
	} else if f.offset > 0 {
		return scanRequest{}, usageErrorf("--offset requires --limit")
	}
	return req, nil
}

// scan runs one scan to exhaustion. The limit reaches the wrapper as a hint;
// the offset rows are skipped here and at most Count rows are kept.
func (r *runner) scan(s *session, req scanRequest) ([]fdw.Row, error) {
	if err := s.inst.BeginScan(s.ctx, req.quals, req.columns, req.sorts, req.limit, req.options); err != nil {
		return nil, err
	}
	var rows []fdw.Row
	var row fdw.Row
	var seen int64
	for {
		ok, err := s.inst.IterScan(s.ctx, &row)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		seen++
		if req.limit != nil {
			if seen <= req.limit.Offset {
				continue
			}
			if int64(len(rows)) >= req.limit.Count {
				break
			}
		}
		rows = append(rows, row.Clone())
	}
	if err := s.inst.EndScan(s.ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErrorf("%s takes no arguments, got %q", cmd.Name(), args)
	}
	return nil
}

// usageArgs reports positional argument failures as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err: err}
		}
		return nil
	}
}

package fdwctl

import (
	"github.com/spf13/cobra"

	"github.com/duckmesh/wrappers/internal/fdw"
)

type modifyFlags struct {
	tableOptions []string
	columns      []string
}

func (f *modifyFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringArrayVarP(&f.tableOptions, "table-option", "t", nil, "table option as key=value (repeatable)")
	flags.StringArrayVarP(&f.columns, "column", "c", nil, "column as name:type (repeatable)")
}

func (r *runner) modifyTarget(f modifyFlags) (fdw.Options, []fdw.Column, error) {
	opts, err := parseOptions(f.tableOptions)
	if err != nil {
		return nil, nil, err
	}
	if len(f.columns) == 0 {
		return nil, nil, usageErrorf("at least one -c name:type column is required")
	}
	columns, err := parseColumns(r.codec, f.columns)
	if err != nil {
		return nil, nil, err
	}
	return opts, columns, nil
}

// modify runs apply between BeginModify and EndModify.
func (r *runner) modify(cmd *cobra.Command, opts fdw.Options, apply func(*session) error) error {
	s, err := r.open(cmd.Context())
	if err != nil {
		return err
	}
	err = s.inst.BeginModify(s.ctx, opts)
	if err == nil {
		err = apply(s)
		if err == nil {
			err = s.inst.EndModify(s.ctx)
		}
	}
	return r.finish(s, err)
}

func (r *runner) insertCommand() *cobra.Command {
	var f modifyFlags
	cmd := &cobra.Command{
		Use:   "insert ROW...",
		Short: "Insert comma separated rows, with \\N for null",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, columns, err := r.modifyTarget(f)
			if err != nil {
				return err
			}
			rows := make([]fdw.Row, 0, len(args))
			for _, raw := range args {
				row, err := parseRow(r.codec, columns, raw)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}
			return r.modify(cmd, opts, func(s *session) error {
				for _, row := range rows {
					if err := s.inst.Insert(s.ctx, row); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (r *runner) updateCommand() *cobra.Command {
	var f modifyFlags
	cmd := &cobra.Command{
		Use:   "update ROW...",
		Short: "Update rows matched by their rowid column",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, columns, err := r.modifyTarget(f)
			if err != nil {
				return err
			}
			rowidCol, err := rowidColumn(columns, opts)
			if err != nil {
				return err
			}
			rows := make([]fdw.Row, 0, len(args))
			for _, raw := range args {
				row, err := parseRow(r.codec, columns, raw)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}
			return r.modify(cmd, opts, func(s *session) error {
				for _, row := range rows {
					rowid, _ := row.Get(rowidCol.Name)
					if err := s.inst.Update(s.ctx, rowid, row); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (r *runner) deleteCommand() *cobra.Command {
	var f modifyFlags
	cmd := &cobra.Command{
		Use:   "delete ROWID...",
		Short: "Delete rows by rowid",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, columns, err := r.modifyTarget(f)
			if err != nil {
				return err
			}
			rowidCol, err := rowidColumn(columns, opts)
			if err != nil {
				return err
			}
			rowids := make([]fdw.Cell, 0, len(args))
			for _, raw := range args {
				rowid, err := parseCell(r.codec, rowidCol, raw)
				if err != nil {
					return err
				}
				rowids = append(rowids, rowid)
			}
			return r.modify(cmd, opts, func(s *session) error {
				for _, rowid := range rowids {
					if err := s.inst.Delete(s.ctx, rowid); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

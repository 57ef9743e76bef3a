package fdwctl

import (
	"github.com/spf13/cobra"

	"github.com/duckmesh/wrappers/internal/fdw"
)

func (r *runner) importSchemaCommand() *cobra.Command {
	var (
		remoteSchema string
		localSchema  string
		limitTo      []string
		except       []string
		stmtOptions  []string
	)
	cmd := &cobra.Command{
		Use:   "import-schema",
		Short: "Print CREATE FOREIGN TABLE statements for a remote schema",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if remoteSchema == "" {
				return usageErrorf("--remote-schema is required")
			}
			if len(limitTo) > 0 && len(except) > 0 {
				return usageErrorf("--limit-to and --except are mutually exclusive")
			}
			opts, err := parseOptions(stmtOptions)
			if err != nil {
				return err
			}
			stmt := fdw.ImportForeignSchemaStmt{
				ServerName:   r.flags.server,
				RemoteSchema: remoteSchema,
				LocalSchema:  localSchema,
				ListType:     fdw.ImportSchemaAll,
				Options:      opts,
			}
			switch {
			case len(limitTo) > 0:
				stmt.ListType, stmt.TableList = fdw.ImportSchemaLimitTo, limitTo
			case len(except) > 0:
				stmt.ListType, stmt.TableList = fdw.ImportSchemaExcept, except
			}

			s, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			statements, err := s.inst.ImportForeignSchema(s.ctx, stmt)
			if err == nil {
				err = writeStatements(cmd.OutOrStdout(), r.flags.format, statements)
			}
			return r.finish(s, err)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&remoteSchema, "remote-schema", "", "remote schema or database to describe")
	flags.StringVar(&localSchema, "local-schema", "public", "local schema the foreign tables are created in")
	flags.StringSliceVar(&limitTo, "limit-to", nil, "only import these tables")
	flags.StringSliceVar(&except, "except", nil, "import every table except these")
	flags.StringArrayVarP(&stmtOptions, "import-option", "i", nil, "import option as key=value (repeatable)")
	return cmd
}

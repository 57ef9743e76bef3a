package fdwctl

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/duckmesh/wrappers/internal/migrations"
	"github.com/duckmesh/wrappers/internal/vault"
)

func (r *runner) openVault(ctx context.Context) (*sql.DB, error) {
	if r.opts.OpenVault != nil {
		return r.opts.OpenVault(ctx)
	}
	cfg := r.opts.Config.Vault
	if cfg.DSN == "" {
		return nil, fmt.Errorf("vault is not configured, set DUCKMESH_VAULT_DSN")
	}
	return vault.Open(ctx, vault.DBConfig{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
}

func (r *runner) vaultCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the secrets that *_id options resolve through",
		Args:  noArgs,
		RunE: func(*cobra.Command, []string) error {
			return usageErrorf("a vault command is required")
		},
	}
	cmd.AddCommand(r.vaultMigrateCommand(), r.vaultPutCommand())
	return cmd
}

func (r *runner) vaultMigrateCommand() *cobra.Command {
	var (
		down  bool
		steps int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Install the development vault schema on a database without Supabase Vault",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := r.openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			m := migrations.NewRunner()
			if down {
				n, err := m.Down(cmd.Context(), db, steps)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migrations\n", n)
				return err
			}
			n, err := m.Up(cmd.Context(), db, steps)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migrations\n", n)
			return err
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back instead of applying")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to run, 0 for all pending (one when rolling back)")
	return cmd
}

func (r *runner) vaultPutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put NAME [VALUE]",
		Short: "Store a secret, reading the value from stdin when omitted",
		Args:  usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return usageErrorf("secret name must not be empty")
			}
			var value string
			if len(args) == 2 {
				value = args[1]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if line == "" && err != nil {
					return fmt.Errorf("read secret value: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}

			db, err := r.openVault(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			id, err := vault.NewPostgres(db).Put(cmd.Context(), name, value)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
}

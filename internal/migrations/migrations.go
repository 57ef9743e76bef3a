// Package migrations installs the development vault schema: a plaintext
// vault.secrets table with the decrypted_secrets view and create_secret
// function that a Supabase Vault provides in production.
package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const migrationTable = "wrappers_schema_migrations"

var scriptName = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

// Runner applies the numbered sql/NNNNNN_name.{up,down}.sql scripts and
// records each applied version in wrappers_schema_migrations.
type Runner struct {
	source fs.FS
}

func NewRunner() *Runner {
	return &Runner{source: embeddedFS}
}

type migration struct {
	Version int64
	UpSQL   string
	DownSQL string
}

type direction struct {
	undo   bool
	verb   string
	order  string
	record string
	script func(migration) string
}

var (
	forward = direction{
		verb:   "apply",
		order:  "ASC",
		record: "INSERT INTO " + migrationTable + " (version) VALUES ($1)",
		script: func(m migration) string { return m.UpSQL },
	}
	backward = direction{
		undo:   true,
		verb:   "roll back",
		order:  "DESC",
		record: "DELETE FROM " + migrationTable + " WHERE version = $1",
		script: func(m migration) string { return m.DownSQL },
	}
)

// Up applies pending migrations oldest first, at most steps of them when
// steps is positive.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	return r.run(ctx, db, forward, steps)
}

// Down rolls back the newest applied migrations, one when steps is not
// positive.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	return r.run(ctx, db, backward, max(steps, 1))
}

func (r *Runner) run(ctx context.Context, db *sql.DB, dir direction, steps int) (int, error) {
	known, err := loadMigrations(r.source)
	if err != nil {
		return 0, err
	}
	ddl := "CREATE TABLE IF NOT EXISTS " + migrationTable + ` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return 0, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, db, dir.order)
	if err != nil {
		return 0, err
	}

	var plan []migration
	if !dir.undo {
		plan = slices.DeleteFunc(known, func(m migration) bool { return slices.Contains(applied, m.Version) })
	} else {
		for _, version := range applied {
			i := slices.IndexFunc(known, func(m migration) bool { return m.Version == version })
			if i < 0 {
				return 0, fmt.Errorf("applied migration %d is missing from source", version)
			}
			plan = append(plan, known[i])
		}
	}
	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}

	for done, m := range plan {
		if err := execVersioned(ctx, db, dir.script(m), dir.record, m.Version); err != nil {
			return done, fmt.Errorf("%s migration %d: %w", dir.verb, m.Version, err)
		}
	}
	return len(plan), nil
}

// execVersioned runs script and the version bookkeeping in one transaction.
func execVersioned(ctx context.Context, db *sql.DB, script, record string, version int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, db *sql.DB, order string) ([]int64, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM "+migrationTable+" ORDER BY version "+order)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func loadMigrations(source fs.FS) ([]migration, error) {
	names, err := fs.Glob(source, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(names) == 0 {
		if _, err := fs.Stat(source, "sql"); err != nil {
			return nil, fmt.Errorf("read migration dir: %w", err)
		}
	}

	byVersion := map[int64]*migration{}
	for _, name := range names {
		match := scriptName.FindStringSubmatch(path.Base(name))
		if match == nil {
			continue
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q: %w", name, err)
		}
		body, err := fs.ReadFile(source, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", name, err)
		}
		m := byVersion[version]
		if m == nil {
			m = &migration{Version: version}
			byVersion[version] = m
		}
		if match[2] == "up" {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		switch {
		case strings.TrimSpace(m.UpSQL) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", m.Version)
		case strings.TrimSpace(m.DownSQL) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", m.Version)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/duckmesh/wrappers/internal/storage"
)

// staged is a set of Parquet objects copied to local files and exposed as a
// view.
type staged struct {
	view  string
	dir   string
	files int
	bytes int64
}

// stageObjects copies every object named by refs into a fresh directory
// under baseDir and replaces view with a read_parquet over the copies.
func stageObjects(ctx context.Context, db *sql.DB, store storage.ObjectStore, baseDir, view string, refs []storage.ObjectRef) (st *staged, err error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required to stage objects")
	}
	keys, err := resolveRefs(ctx, store, refs)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no parquet objects found for view %q", view)
	}

	dir, err := os.MkdirTemp(baseDir, "wrappers-duckdb-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	st = &staged{view: view, dir: dir}
	files := make([]string, len(keys))
	for i, key := range keys {
		files[i] = filepath.Join(dir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(view), i))
		n, err := copyObject(ctx, store, key, files[i])
		if err != nil {
			return nil, err
		}
		st.files++
		st.bytes += n
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)", quoteIdent(view), quoteStringArray(files))); err != nil {
		return nil, fmt.Errorf("create view %q: %w", view, err)
	}
	return st, nil
}

func copyObject(ctx context.Context, store storage.ObjectStore, key, dst string) (int64, error) {
	body, err := store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = body.Close() }()

	file, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("stage object %q: %w", key, err)
	}
	n, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("stage object %q: %w", key, err)
	}
	return n, nil
}

// resolveRefs expands prefix refs into the Parquet keys below them.
func resolveRefs(ctx context.Context, store storage.ObjectStore, refs []storage.ObjectRef) ([]string, error) {
	var keys []string
	for _, ref := range refs {
		if !ref.Prefix {
			keys = append(keys, ref.Key)
			continue
		}
		infos, err := store.List(ctx, ref.Key)
		if err != nil {
			return nil, fmt.Errorf("list objects %q: %w", ref.Key, err)
		}
		for _, info := range infos {
			if storage.IsParquet(info.Key) {
				keys = append(keys, info.Key)
			}
		}
	}
	return keys, nil
}

// release drops the view and removes the local copies.
func (s *staged) release(ctx context.Context, db *sql.DB) error {
	if s == nil {
		return nil
	}
	_, err := db.ExecContext(ctx, "DROP VIEW IF EXISTS "+quoteIdent(s.view))
	if rmErr := os.RemoveAll(s.dir); err == nil {
		err = rmErr
	}
	return err
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

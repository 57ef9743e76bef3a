package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound reports a missing key or bucket.
var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the read side of a bucket holding the Parquet objects that
// backends stage for local scans. Keys are relative to the store's root.
type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/duckmesh/wrappers/internal/storage"
)

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

// bucket is the part of the S3 API the store reads through.
type bucket interface {
	open(ctx context.Context, key string) (io.ReadCloser, error)
	list(ctx context.Context, prefix string, visit func(storage.ObjectInfo)) error
}

// Store reads the objects of one bucket below an optional root prefix.
type Store struct {
	bucket bucket
	root   string
}

func New(cfg Config) (*Store, error) {
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, errors.New("s3 bucket is required")
	}
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return newStore(&minioBucket{client: client, name: name}, cfg.Prefix), nil
}

func newStore(b bucket, prefix string) *Store {
	root := strings.Trim(strings.TrimSpace(prefix), "/")
	if root != "" {
		if root = path.Clean(root); root == "." {
			root = ""
		} else {
			root += "/"
		}
	}
	return &Store{bucket: b, root: root}
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.fullKey(key)
	if err != nil {
		return nil, err
	}
	body, err := s.bucket.open(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", full, err)
	}
	return body, nil
}

// List returns every object whose key starts with prefix, sorted by key. A
// blank prefix lists the whole root.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	search := s.root
	if trimmed := strings.TrimSpace(prefix); strings.Trim(trimmed, "/") != "" {
		full, err := s.fullKey(trimmed)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(trimmed, "/") {
			full += "/"
		}
		search = full
	}

	var infos []storage.ObjectInfo
	err := s.bucket.list(ctx, search, func(info storage.ObjectInfo) {
		info.Key = strings.TrimPrefix(info.Key, s.root)
		infos = append(infos, info)
	})
	if err != nil {
		return nil, fmt.Errorf("list objects %q: %w", search, err)
	}
	slices.SortFunc(infos, func(a, b storage.ObjectInfo) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

// fullKey joins key to the root, refusing keys that could climb out of it.
func (s *Store) fullKey(key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("object key is required")
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("invalid object key: %q", key)
		}
	}
	return s.root + key, nil
}

// splitEndpoint accepts host[:port] or a URL. A URL scheme decides TLS and
// overrides useSSL.
func splitEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint %q has no host", raw)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported s3 endpoint scheme %q", u.Scheme)
	}
}

type minioBucket struct {
	client *minio.Client
	name   string
}

func (b *minioBucket) open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.name, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	// GetObject does not touch the network until the first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, classify(err)
	}
	return obj, nil
}

func (b *minioBucket) list(ctx context.Context, prefix string, visit func(storage.ObjectInfo)) error {
	for obj := range b.client.ListObjects(ctx, b.name, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return classify(obj.Err)
		}
		visit(storage.ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return nil
}

func classify(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %v", storage.ErrObjectNotFound, err)
	}
	return err
}

package wasm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/duckmesh/wrappers/internal/fdw"
)

const maxPackageBytes = 256 << 20

// packageSource describes where a guest package comes from.
type packageSource struct {
	URL      string
	Checksum string
	CacheDir string
	Timeout  time.Duration
	Client   *http.Client
}

// load returns the package bytes. Local paths and file:// URLs are read
// directly; http(s) URLs are fetched and, when a checksum is given, cached
// under CacheDir by checksum.
func (s packageSource) load(ctx context.Context) ([]byte, error) {
	checksum := strings.ToLower(strings.TrimSpace(s.Checksum))
	parsed, err := url.Parse(s.URL)
	if err != nil {
		return nil, fdw.ValueParse("fdw_package_url", s.URL, err)
	}

	var data []byte
	switch parsed.Scheme {
	case "", "file":
		path := s.URL
		if parsed.Scheme == "file" {
			path = parsed.Path
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fdw.PluginFault("read package", err)
		}
	case "http", "https":
		if cached, ok := s.cached(checksum); ok {
			return cached, nil
		}
		data, err = s.fetch(ctx)
		if err != nil {
			return nil, fdw.PluginFault("fetch package", err)
		}
	default:
		return nil, fdw.ValueParse("fdw_package_url", s.URL, fmt.Errorf("unsupported scheme %q", parsed.Scheme))
	}

	if err := verifyChecksum(data, checksum); err != nil {
		return nil, err
	}
	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		s.store(checksum, data)
	}
	return data, nil
}

func (s packageSource) fetch(ctx context.Context) ([]byte, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPackageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxPackageBytes {
		return nil, fmt.Errorf("package exceeds %d bytes", maxPackageBytes)
	}
	return data, nil
}

func (s packageSource) cachePath(checksum string) string {
	if s.CacheDir == "" || checksum == "" {
		return ""
	}
	return filepath.Join(s.CacheDir, checksum+".wasm")
}

func (s packageSource) cached(checksum string) ([]byte, bool) {
	path := s.cachePath(checksum)
	if path == "" {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if verifyChecksum(data, checksum) != nil {
		_ = os.Remove(path)
		return nil, false
	}
	return data, true
}

func (s packageSource) store(checksum string, data []byte) {
	path := s.cachePath(checksum)
	if path == "" {
		return
	}
	if err := os.MkdirAll(s.CacheDir, 0o755); err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, path)
}

func verifyChecksum(data []byte, checksum string) error {
	if checksum == "" {
		return nil
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != checksum {
		return fdw.PluginFault(fmt.Sprintf("package checksum mismatch: got %s, want %s", got, checksum), nil)
	}
	return nil
}

package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/labstack/gommon/bytes"
	"go.uber.org/zap"
)

// LocalDisk keeps export files on the local filesystem. Used in development
// and by single node deployments.
type LocalDisk struct {
	Root      string
	PublicURL string
	Log       *zap.SugaredLogger
}

func NewLocalDisk(root, publicURL string, log *zap.SugaredLogger) *LocalDisk {
	return &LocalDisk{Root: root, PublicURL: publicURL, Log: log}
}

func (d *LocalDisk) Name() string { return "local" }

func (d *LocalDisk) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(d.Root, clean), nil
}

func (d *LocalDisk) Put(ctx context.Context, key string, body io.Reader, contentType string) (int64, error) {
	totalUploads.Inc()
	target, err := d.resolve(key)
	if err != nil {
		failUploads.Inc()
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		failUploads.Inc()
		return 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		failUploads.Inc()
		return 0, fmt.Errorf("failed to create %s: %w", key, err)
	}
	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), target)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		failUploads.Inc()
		return n, fmt.Errorf("failed to write %s: %w", key, err)
	}

	uploadSizes.With(map[string]string{"disk": d.Name()}).Observe(float64(n))
	d.Log.Infow("stored export file", "key", key, "path", target, "size", bytes.Format(n))
	return n, nil
}

func (d *LocalDisk) URL(ctx context.Context, key string) (string, error) {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(d.PublicURL, "/") + "/" + path.Join(parts...), nil
}

func (d *LocalDisk) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	target, err := d.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(target)
}

// Package gcp is a thin wrapper over the Google Cloud Storage SDK.
//
// It speaks in raw bucket/key/bytes terms only — no retry policy, no
// freshness semantics. Its only path handling is normalizeKey, which strips
// a leading "gs://<bucket>/" and leading/trailing slashes. Retry and
// freshness belong to internal/objectstore, which is the only caller of
// this package.
package gcp

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/mweiss17/wormulon/internal/platform/logger"
)

// Client wraps a single GCS bucket.
type Client struct {
	log    *logger.Logger
	sc     *storage.Client
	bucket string
}

// ObjectAttrs mirrors the subset of storage.ObjectAttrs callers need.
type ObjectAttrs struct {
	Size    int64
	Updated time.Time
}

// NewClient resolves ObjectStorageConfig from the environment and dials GCS
// (or the configured emulator).
func NewClient(log *logger.Logger, bucket string) (*Client, error) {
	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	return NewClientWithConfig(log, bucket, cfg)
}

func NewClientWithConfig(log *logger.Logger, bucket string, cfg ObjectStorageConfig) (*Client, error) {
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("gcp: bucket name is required")
	}

	ctx := context.Background()
	sc, err := newStorageClientForMode(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	if log != nil {
		log.Info("object storage initialized", "mode", cfg.Mode, "mode_source", cfg.ModeSource(), "bucket", bucket)
	}

	return &Client{log: log, sc: sc, bucket: bucket}, nil
}

func newStorageClientForMode(ctx context.Context, cfg ObjectStorageConfig) (*storage.Client, error) {
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		return storage.NewClient(ctx,
			option.WithEndpoint(strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
	default:
		return nil, &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
}

func (c *Client) object(key string) *storage.ObjectHandle {
	return c.sc.Bucket(c.bucket).Object(normalizeKey(key))
}

// normalizeKey strips a leading "gs://<bucket>/" prefix and leading/trailing
// slashes, per spec.md's ObjectStore.download note ("resolves gs://-style
// and leading/trailing slashes uniformly").
func normalizeKey(key string) string {
	k := strings.TrimSpace(key)
	if strings.HasPrefix(k, "gs://") {
		k = strings.TrimPrefix(k, "gs://")
		if i := strings.Index(k, "/"); i >= 0 {
			k = k[i+1:]
		} else {
			k = ""
		}
	}
	k = strings.TrimPrefix(k, "/")
	k = strings.TrimSuffix(k, "/")
	return k
}

func (c *Client) Upload(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := c.object(key).NewWriter(ctx)
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	r, err := c.object(key).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return c.object(key).Delete(ctx)
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := c.object(key).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) Attrs(ctx context.Context, key string) (ObjectAttrs, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	a, err := c.object(key).Attrs(ctx)
	if err != nil {
		return ObjectAttrs{}, err
	}
	return ObjectAttrs{Size: a.Size, Updated: a.Updated}, nil
}

func (c *Client) List(ctx context.Context, prefix string) ([]ObjectAttrs, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := c.sc.Bucket(c.bucket).Objects(ctx, &storage.Query{Prefix: normalizeKey(prefix)})
	var attrs []ObjectAttrs
	var names []string
	for {
		a, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		attrs = append(attrs, ObjectAttrs{Size: a.Size, Updated: a.Updated})
		names = append(names, a.Name)
	}
	return attrs, names, nil
}

// IsNotExist reports whether err is the GCS "no such object" sentinel.
func IsNotExist(err error) bool {
	return err == storage.ErrObjectNotExist
}

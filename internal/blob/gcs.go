package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig selects a Cloud Storage bucket and how to reach it.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string // empty: application default credentials
	EmulatorHost    string // e.g. http://localhost:4443 for fake-gcs-server
}

// GCS is a Bucket backed by Google Cloud Storage.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a Cloud Storage client for cfg.Bucket.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("GCS bucket name is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.EmulatorHost != "":
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		opts = append(opts, option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(storage.ScopeReadWrite))
	default:
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket}, nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// Put writes data under key, replacing any existing object.
func (g *GCS) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s to GCS: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close GCS writer for %s: %w", key, err)
	}
	return nil
}

// Get reads the object under key.
func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s in GCS: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s from GCS: %w", key, err)
	}
	return data, nil
}

// Delete removes the object under key. Deleting a missing object is not an
// error.
func (g *GCS) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s from GCS: %w", key, err)
	}
	return nil
}

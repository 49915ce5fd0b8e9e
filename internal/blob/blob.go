// Package blob stores uploaded files in a bucket: Google Cloud Storage in
// production, a local directory in development and tests.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotExist is returned by Get when no object has the key.
var ErrNotExist = errors.New("object does not exist")

// Bucket is a flat key/value object store. Keys use '/' separators.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// UploadKey is the key an owner's PDF upload is stored under.
func UploadKey(ownerID int64, sha256Hex string) string {
	return fmt.Sprintf("uploads/%d/%s.pdf", ownerID, sha256Hex)
}

// validKey rejects keys that are empty, absolute or escape the bucket root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "../") || key == ".." {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}

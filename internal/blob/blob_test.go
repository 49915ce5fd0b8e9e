package blob

import (
	"context"
	"errors"
	"testing"
)

func TestUploadKey(t *testing.T) {
	if got := UploadKey(42, "deadbeef"); got != "uploads/42/deadbeef.pdf" {
		t.Errorf("UploadKey() = %q", got)
	}
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"uploads/1/abc.pdf", true},
		{"a", true},
		{"", false},
		{"/etc/passwd", false},
		{"../secret", false},
		{"uploads/../../x", false},
		{"uploads//x", false},
		{"..", false},
	}
	for _, tt := range tests {
		if err := validKey(tt.key); (err == nil) != tt.ok {
			t.Errorf("validKey(%q) = %v, want ok=%v", tt.key, err, tt.ok)
		}
	}
}

func TestDir(t *testing.T) {
	ctx := context.Background()
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	key := UploadKey(1, "abc")

	if _, err := d.Get(ctx, key); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	if err := d.Put(ctx, key, []byte("%PDF-1"), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := d.Put(ctx, key, []byte("%PDF-2"), "application/pdf"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	data, err := d.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "%PDF-2" {
		t.Errorf("Get() = %q", data)
	}
	if err := d.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := d.Delete(ctx, key); err != nil {
		t.Errorf("deleting a missing object should succeed: %v", err)
	}
	if _, err := d.Get(ctx, key); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist after delete, got %v", err)
	}
	if err := d.Put(ctx, "../escape", []byte("x"), ""); err == nil {
		t.Error("Put should reject keys outside the root")
	}
}

func TestNewGCSRequiresBucket(t *testing.T) {
	if _, err := NewGCS(context.Background(), GCSConfig{}); err == nil {
		t.Error("expected error for missing bucket name")
	}
}

var (
	_ Bucket = (*Dir)(nil)
	_ Bucket = (*GCS)(nil)
)

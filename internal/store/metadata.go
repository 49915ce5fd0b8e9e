package store

import (
	"database/sql"
	"time"
)

// Upload records a PDF a user stored in the bucket, keyed by content hash.
type Upload struct {
	OwnerID   int64
	SHA256    string
	BlobKey   string
	Size      int64
	JobID     string
	CreatedAt time.Time
}

// RecordUpload upserts the upload row for (owner, hash), pointing it at the
// latest job that processed the file.
func (s *Store) RecordUpload(u Upload) error {
	_, err := s.db.Exec(
		`INSERT INTO uploads (owner_id, sha256, blob_key, size, job_id, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_id, sha256) DO UPDATE SET blob_key = ?, size = ?, job_id = ?`,
		u.OwnerID, u.SHA256, u.BlobKey, u.Size, u.JobID, time.Now(),
		u.BlobKey, u.Size, u.JobID,
	)
	return err
}

// FindUpload returns the upload with the given hash, or nil if the owner
// never uploaded it.
func (s *Store) FindUpload(ownerID int64, sha256 string) (*Upload, error) {
	var u Upload
	err := s.db.QueryRow(
		`SELECT owner_id, sha256, blob_key, size, job_id, created_at FROM uploads WHERE owner_id = ? AND sha256 = ?`,
		ownerID, sha256,
	).Scan(&u.OwnerID, &u.SHA256, &u.BlobKey, &u.Size, &u.JobID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

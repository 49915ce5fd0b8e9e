package store

import (
	"database/sql"
	"time"
)

// RevokeToken records a token ID as logged out until it would have expired
// anyway. Revoking twice is not an error.
func (s *Store) RevokeToken(jti string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		 ON CONFLICT(jti) DO NOTHING`,
		jti, expiresAt,
	)
	return err
}

// IsTokenRevoked reports whether jti was revoked.
func (s *Store) IsTokenRevoked(jti string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM revoked_tokens WHERE jti = ?`, jti).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CleanupRevokedTokens forgets revocations of tokens that have expired.
func (s *Store) CleanupRevokedTokens() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

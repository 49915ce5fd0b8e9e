package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/mathwhiz/internal/model"
)

const userColumns = `id, username, display_name, password_hash, role, grade, active, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Grade, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user. A taken username yields ErrConflict.
func (s *Store) CreateUser(u model.User) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO users (username, display_name, password_hash, role, grade, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.DisplayName, u.PasswordHash, u.Role, u.Grade, u.Active, time.Now(),
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("username %q: %w", u.Username, ErrConflict)
	}
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

// GetUserByUsername returns a user by username, or nil if there is none.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// GetUserByID returns a user by ID, or nil if there is none.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all users, optionally restricted to one role.
func (s *Store) ListUsers(role model.UserRole) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	rows, err := s.db.Query(query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetUserActive enables or disables a user.
func (s *Store) SetUserActive(id int64, active bool) error {
	res, err := s.db.Exec(`UPDATE users SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	return requireRow(res, "user", id)
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func requireRow(res sql.Result, what string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return nil
}

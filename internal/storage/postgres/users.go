package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jamesturk/bobsled/internal/auth"
	"github.com/jamesturk/bobsled/internal/storage"
)

// SetUser creates or replaces a user with the given password.
func (s *Store) SetUser(ctx context.Context, username, password string, permissions []string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	perms, err := jsonField(permissions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (username, password_hash, permissions)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			permissions = EXCLUDED.permissions
	`
	_, err = s.db.ExecContext(ctx, query, username, hash, perms)
	return err
}

// CheckPassword reports whether the password matches the stored hash.
func (s *Store) CheckPassword(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT password_hash FROM users WHERE username = $1", username).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return auth.VerifyPassword(hash, password), nil
}

func scanUser(scan func(dest ...any) error) (*storage.User, error) {
	var user storage.User
	var perms []byte

	if err := scan(&user.Username, &user.PasswordHash, &perms); err != nil {
		return nil, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &user.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions: %w", err)
		}
	}
	return &user, nil
}

// GetUser returns the user with the given username, or nil if none exists.
func (s *Store) GetUser(ctx context.Context, username string) (*storage.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT username, password_hash, permissions FROM users WHERE username = $1", username).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// GetUsers returns all users.
func (s *Store) GetUsers(ctx context.Context) ([]*storage.User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT username, password_hash, permissions FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*storage.User
	for rows.Next() {
		user, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

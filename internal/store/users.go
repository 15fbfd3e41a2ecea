// ABOUTME: Local user directory replica used for existence checks and sender profiles
// ABOUTME: Users are seeded by the CLI; the chat service only reads them

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertUser inserts a user or updates the profile fields of an existing one
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, email, profile_picture, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			email = excluded.email,
			profile_picture = excluded.profile_picture
	`, user.ID, user.FullName, user.Email, user.ProfilePicture, formatTime(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, profile_picture, created_at
		FROM users
		WHERE id = ?
	`, id)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// UsersExist returns the subset of ids present in the directory
func (s *SQLiteStore) UsersExist(ctx context.Context, ids []string) ([]string, error) {
	users, err := s.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	existing := make([]string, 0, len(users))
	for _, id := range ids {
		if _, ok := users[id]; ok {
			existing = append(existing, id)
			delete(users, id) // collapse duplicate input ids
		}
	}
	return existing, nil
}

// GetUsers returns the known users among ids, keyed by ID
func (s *SQLiteStore) GetUsers(ctx context.Context, ids []string) (map[string]*User, error) {
	users := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, full_name, email, profile_picture, created_at
		FROM users
		WHERE id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users[user.ID] = user
	}
	return users, rows.Err()
}

func scanUser(row scanner) (*User, error) {
	var user User
	var createdAt string
	if err := row.Scan(&user.ID, &user.FullName, &user.Email, &user.ProfilePicture, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &user, nil
}

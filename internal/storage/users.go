package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opencommander/commander/internal/core"
)

// CreateUser inserts a user along with the hash of its API token.
// An empty ID is replaced with a fresh UUID.
func (s *Store) CreateUser(ctx context.Context, u *core.User, tokenHash string) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	return s.retryWrite(ctx, "create user", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (id, name, image, avatar_image_url, token_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			u.ID, u.Name, u.Image, u.AvatarImageURL, tokenHash, toMillis(u.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting user: %w", err)
		}
		return nil
	})
}

// GetUser returns the user with id, or a not-found error.
func (s *Store) GetUser(ctx context.Context, id string) (*core.User, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, name, image, avatar_image_url, created_at FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("user", id)
	}
	return u, err
}

// GetUserByTokenHash resolves an API token digest to its user.
func (s *Store) GetUserByTokenHash(ctx context.Context, tokenHash string) (*core.User, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, name, image, avatar_image_url, created_at FROM users WHERE token_hash = ?`, tokenHash)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAuth("invalid token")
	}
	return u, err
}

// ListUsers returns all users ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, name, image, avatar_image_url, created_at FROM users ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*core.User, error) {
	var (
		u       core.User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Image, &u.AvatarImageURL, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

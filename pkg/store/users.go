package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

// UserStore persists accounts for the auth layer.
type UserStore struct {
	db *sqlx.DB
}

// Create inserts a user and returns the stored row.
func (s *UserStore) Create(ctx context.Context, u *model.User) (*model.User, error) {
	const q = `
		INSERT INTO users (username, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, username, email, password_hash, role, created_at`

	var out model.User
	err := s.db.GetContext(ctx, &out, q, u.Username, u.Email, u.PasswordHash, u.Role)
	if isPgError(err, pgUniqueViolation) {
		return nil, fmt.Errorf("user %q: %w", u.Username, util.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return &out, nil
}

// GetByUsername fetches one user for login.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `
		SELECT id, username, email, password_hash, role, created_at
		FROM users
		WHERE username = $1`

	var u model.User
	err := s.db.GetContext(ctx, &u, q, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("user %q", username)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return &u, nil
}

// Get fetches one user by id, for token refresh.
func (s *UserStore) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `
		SELECT id, username, email, password_hash, role, created_at
		FROM users
		WHERE id = $1`

	var u model.User
	err := s.db.GetContext(ctx, &u, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, util.NotFoundf("user %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return &u, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/netwatch-nms/netwatch/pkg/model"
	"github.com/netwatch-nms/netwatch/pkg/util"
)

type userStore interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Get(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Service implements account registration and the token lifecycle.
type Service struct {
	users  userStore
	tokens *TokenManager
}

// NewService wires the auth service.
func NewService(users userStore, tokens *TokenManager) *Service {
	return &Service{users: users, tokens: tokens}
}

// Register creates an account. The password must satisfy the policy;
// the stored row only ever holds the bcrypt hash.
func (s *Service) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	if err := ValidatePasswordPolicy(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return s.users.Create(ctx, &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         "user",
	})
}

// Login verifies credentials and issues a token pair. Unknown user and
// wrong password return the same error so usernames cannot be probed.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, *model.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: invalid credentials", util.ErrUnauthorized)
		}
		return nil, nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, nil, fmt.Errorf("%w: invalid credentials", util.ErrUnauthorized)
	}

	pair, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Refresh exchanges a valid refresh token for a new pair. The account
// must still exist.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Validate(refreshToken, RefreshToken)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, fmt.Errorf("%w: account gone", util.ErrUnauthorized)
		}
		return nil, err
	}
	return s.tokens.Issue(user.ID, user.Role)
}

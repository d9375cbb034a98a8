package auth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password so that login failures cannot be used to enumerate users.
	ErrInvalidCredentials = errors.New("incorrect username or password")

	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
)

// Service orchestrates the register, login, refresh and logout flows. All
// collaborators are injected at startup; the service holds no mutable state.
type Service struct {
	users    UserStore
	registry *RefreshTokenRegistry
	tokens   *TokenManager
}

func NewService(users UserStore, registry *RefreshTokenRegistry, tokens *TokenManager) *Service {
	return &Service{users: users, registry: registry, tokens: tokens}
}

// Register creates the user and returns an access token only; a refresh
// token is first issued at login.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, username, hash)
	if err != nil {
		return "", err
	}

	access, err := s.tokens.IssueAccessToken(user.Username)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}

	return access, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (Tokens, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, err
	}

	if !VerifyPassword(password, user.PasswordHash) {
		return Tokens{}, ErrInvalidCredentials
	}

	return s.issuePair(ctx, user.Username)
}

// Refresh exchanges a valid refresh token for a new access/refresh pair and
// records the new refresh token in the registry, overwriting the previous
// entry. The presented token is verified by signature and expiry only; it is
// not compared against the registry entry, so a superseded token stays usable
// until its own expiry.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	username, err := s.tokens.Subject(refreshToken)
	if err != nil {
		return Tokens{}, ErrInvalidRefreshToken
	}

	if _, err := s.users.GetByUsername(ctx, username); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}

	return s.issuePair(ctx, username)
}

// Logout removes the registry entry for the token's subject.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	username, err := s.tokens.Subject(refreshToken)
	if err != nil {
		return ErrInvalidRefreshToken
	}

	return s.registry.Delete(ctx, username)
}

// CurrentUser resolves a bearer access token to its subject.
func (s *Service) CurrentUser(accessToken string) (string, error) {
	return s.tokens.Subject(accessToken)
}

func (s *Service) issuePair(ctx context.Context, username string) (Tokens, error) {
	access, err := s.tokens.IssueAccessToken(username)
	if err != nil {
		return Tokens{}, fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := s.tokens.IssueRefreshToken(username)
	if err != nil {
		return Tokens{}, fmt.Errorf("issue refresh token: %w", err)
	}

	if err := s.registry.Save(ctx, username, refresh, s.tokens.RefreshTTL()); err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
	}, nil
}

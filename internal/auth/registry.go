package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoActiveRefreshToken is returned when the registry has no entry for the
// user, either because none was recorded or because it expired.
var ErrNoActiveRefreshToken = errors.New("no active refresh token")

const refreshTokenKeyPrefix = "refresh_token:"

// RefreshTokenRegistry records the single currently-valid refresh token per
// user in Redis. Writes overwrite the previous entry and carry a TTL matching
// the token's own expiry, so the registry window and the token validity
// window stay aligned. Last-write-wins is fine here: only one refresh token
// per user is ever valid by design.
type RefreshTokenRegistry struct {
	client *redis.Client
}

func NewRefreshTokenRegistry(client *redis.Client) *RefreshTokenRegistry {
	return &RefreshTokenRegistry{client: client}
}

func (r *RefreshTokenRegistry) Save(ctx context.Context, username, token string, ttl time.Duration) error {
	if err := r.client.Set(ctx, refreshTokenKey(username), token, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRegistry) Get(ctx context.Context, username string) (string, error) {
	token, err := r.client.Get(ctx, refreshTokenKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNoActiveRefreshToken
		}
		return "", fmt.Errorf("get refresh token: %w", err)
	}
	return token, nil
}

func (r *RefreshTokenRegistry) Delete(ctx context.Context, username string) error {
	if err := r.client.Del(ctx, refreshTokenKey(username)).Err(); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func refreshTokenKey(username string) string {
	return refreshTokenKeyPrefix + username
}

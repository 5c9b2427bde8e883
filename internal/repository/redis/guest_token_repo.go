package redis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"callhub-backend/internal/database"
	"callhub-backend/internal/domain"
	"callhub-backend/internal/repository"
)

const guestSignalingKeyPrefix = "guest_signaling:"

// GuestTokenRepository stores guest signaling tokens with native Redis expiry.
// Keys are derived from a BLAKE2b-256 digest so raw tokens never appear in Redis.
type GuestTokenRepository struct {
	client *database.RedisClient
}

// NewGuestTokenRepository creates a new GuestTokenRepository
func NewGuestTokenRepository(client *database.RedisClient) *GuestTokenRepository {
	return &GuestTokenRepository{client: client}
}

func guestSignalingKey(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return guestSignalingKeyPrefix + hex.EncodeToString(sum[:])
}

// Save stores the token until its ExpiresAt
func (r *GuestTokenRepository) Save(ctx context.Context, token *domain.GuestSignalingToken) error {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("guest signaling token already expired")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal guest signaling token: %w", err)
	}

	if err := r.client.SafeSet(ctx, guestSignalingKey(token.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save guest signaling token: %w", err)
	}
	return nil
}

// Get looks a token up. Missing and expired tokens both return repository.ErrNotFound.
func (r *GuestTokenRepository) Get(ctx context.Context, token string) (*domain.GuestSignalingToken, error) {
	data, err := r.client.SafeGet(ctx, guestSignalingKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get guest signaling token: %w", err)
	}

	var stored domain.GuestSignalingToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guest signaling token: %w", err)
	}
	return &stored, nil
}

// Delete removes a token
func (r *GuestTokenRepository) Delete(ctx context.Context, token string) error {
	if err := r.client.SafeDel(ctx, guestSignalingKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete guest signaling token: %w", err)
	}
	return nil
}

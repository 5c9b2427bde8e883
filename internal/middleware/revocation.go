package middleware

import (
	"context"
	"fmt"

	"callhub-backend/internal/database"
	appJWT "callhub-backend/pkg/jwt"
)

// RedisRevocationChecker implements RevocationChecker on the auth service's
// Redis blacklist
type RedisRevocationChecker struct {
	client *database.RedisClient
}

// NewRedisRevocationChecker creates a new RedisRevocationChecker
func NewRedisRevocationChecker(client *database.RedisClient) *RedisRevocationChecker {
	return &RedisRevocationChecker{client: client}
}

// IsTokenRevoked checks if a token is in the Redis blacklist
func (c *RedisRevocationChecker) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	// Signature validated by middleware already
	claims, err := appJWT.ParseUnverified(tokenString)
	if err != nil {
		return false, err
	}
	if claims.ID == "" {
		return false, nil
	}

	exists, err := c.client.SafeExists(ctx, fmt.Sprintf("blacklist:%s", claims.ID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}
	return exists > 0, nil
}

package link

import (
	"crypto/rand"
	"encoding/base64"

	"callhub-backend/internal/domain"
	"callhub-backend/pkg/constants"
)

// generateToken returns an unguessable URL-safe token (43 characters)
func generateToken() (string, error) {
	bytes := make([]byte, constants.LinkTokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// maskToken returns a safe masked version of a token for logging
func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}

// resourceOf names a link target in audit events, e.g. group_call:<id>
func resourceOf(target domain.LinkTarget) string {
	return string(target.Kind()) + ":" + target.ID().String()
}

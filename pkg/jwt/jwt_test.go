package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes"

func TestNewJWTManager(t *testing.T) {
	manager := NewJWTManager(testSecret, "", 15*time.Minute)

	assert.NotNil(t, manager)
	assert.Equal(t, testSecret, manager.secretKey)
	assert.Equal(t, DefaultAudience, manager.audience)
	assert.Equal(t, 15*time.Minute, manager.accessTokenDuration)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager(testSecret, "", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "alice", "user")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "user", claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := NewJWTManager(testSecret, "", 15*time.Minute)
	verifier := NewJWTManager("another-secret-key-for-testing-purposes", "", 15*time.Minute)

	token, err := issuer.GenerateAccessToken(uuid.New(), "alice", "user")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_WrongAudience(t *testing.T) {
	issuer := NewJWTManager(testSecret, "admin-api", 15*time.Minute)
	verifier := NewJWTManager(testSecret, "", 15*time.Minute)

	token, err := issuer.GenerateAccessToken(uuid.New(), "alice", "user")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorContains(t, err, "audience")
}

func TestValidateToken_Expired(t *testing.T) {
	manager := NewJWTManager(testSecret, "", -time.Minute)

	token, err := manager.GenerateAccessToken(uuid.New(), "alice", "user")
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	manager := NewJWTManager(testSecret, "", 15*time.Minute)

	_, err := manager.ValidateToken("not.a.token")
	assert.Error(t, err)
}

func TestParseUnverified(t *testing.T) {
	manager := NewJWTManager(testSecret, "", 15*time.Minute)
	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "alice", "user")
	require.NoError(t, err)

	claims, err := ParseUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

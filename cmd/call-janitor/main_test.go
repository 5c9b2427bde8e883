package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callhub-backend/pkg/jwt"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestIssueToken(t *testing.T) {
	const secret = "test-secret-key-at-least-32-bytes!!"
	t.Setenv("JWT_SECRET", secret)
	t.Setenv("JWT_AUDIENCE", "callhub")

	out, err := run(t, "issue-token", "--user-id", "5f0c2a4e-8a53-4b8e-9a55-1f3c7d0d8a11", "--username", "alice")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "user_id=5f0c2a4e-8a53-4b8e-9a55-1f3c7d0d8a11", lines[0])

	claims, err := jwt.NewJWTManager(secret, "callhub", 0).ValidateToken(lines[1])
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "5f0c2a4e-8a53-4b8e-9a55-1f3c7d0d8a11", claims.UserID.String())
}

func TestIssueToken_Rejects(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := run(t, "issue-token")
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "test-secret-key-at-least-32-bytes!!")
	_, err = run(t, "issue-token", "--user-id", "nope")
	assert.Error(t, err)

	t.Setenv("ENV", "production")
	_, err = run(t, "issue-token")
	assert.Error(t, err)
}

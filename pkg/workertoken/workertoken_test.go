package workertoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	auth := New("shared-secret")

	token, err := auth.Issue("worker-1", "host-a")
	require.NoError(t, err)

	claims, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", claims.WorkerID)
	assert.Equal(t, "host-a", claims.Hostname)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := New("secret-a").Issue("worker-1", "host-a")
	require.NoError(t, err)

	_, err = New("secret-b").Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	auth := New("shared-secret")
	claims := Claims{
		WorkerID: "worker-1",
		Hostname: "host-a",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = auth.Verify(signed)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	auth := New("shared-secret")
	_, err := auth.Verify("not-a-token")
	assert.Error(t, err)
}

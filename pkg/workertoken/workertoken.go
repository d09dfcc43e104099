// Package workertoken mints and verifies the HMAC-signed worker token that
// authenticates every Worker → Dispatcher protocol call (spec §6: "HMAC-
// signed, containing workerId and hostname, expiring 24h"). Both the
// dispatcher and the worker agent hold the same shared secret
// (`workerTokenSecret`), so a worker can self-issue its own token before
// ever talking to the dispatcher — there is no separate issuance handshake.
package workertoken

import (
	"time"

	"github.com/cuemby/dispatch-core/pkg/apierr"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a worker token.
type Claims struct {
	WorkerID string `json:"workerId"`
	Hostname string `json:"hostname"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies worker tokens under one HMAC secret.
type Authenticator struct {
	secret []byte
}

// New constructs an Authenticator with the given HMAC secret.
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue mints a 24h worker token for workerID/hostname.
func (a *Authenticator) Issue(workerID, hostname string) (string, error) {
	claims := Claims{
		WorkerID: workerID,
		Hostname: hostname,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Verify parses and validates tokenStr, returning its claims.
func (a *Authenticator) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apierr.New(apierr.Unauthorized, "invalid worker token")
	}
	return claims, nil
}

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mailwise/mailwise/internal/store"
)

// SessionClaims are the claims embedded in a session token. The subject is
// the user's Google subject identifier.
type SessionClaims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SessionIssuer mints and verifies the application's own signed session
// tokens. Tokens are stateless: validity is established purely by signature
// and expiry, nothing is persisted server-side.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewSessionIssuer creates a SessionIssuer signing with the given secret.
// If ttl is zero the 7-day default applies.
func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	if ttl <= 0 {
		ttl = 10080 * time.Minute
	}
	return &SessionIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue produces a signed token for the user with expiry now + TTL.
// Deterministic given the same signing key and clock; no external calls.
func (i *SessionIssuer) Issue(user *store.User) (string, error) {
	now := i.now()
	claims := &SessionClaims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify checks signature and expiry and returns the decoded claims.
// Expired tokens fail with ExpiredSessionError even when well signed; any
// other parse or signature failure is InvalidSessionError. Both surface as
// 401 but stay distinguishable for logging.
func (i *SessionIssuer) Verify(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ExpiredSessionError("session token has expired")
		}
		return nil, InvalidSessionError("session token is invalid")
	}
	if !token.Valid || claims.Subject == "" {
		return nil, InvalidSessionError("session token has no subject")
	}
	return claims, nil
}

// TTL returns the configured session lifetime.
func (i *SessionIssuer) TTL() time.Duration {
	return i.ttl
}

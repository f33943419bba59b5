package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailwise/mailwise/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testUser() *store.User {
	return &store.User{
		ID:    "u1",
		Email: "u1@x.com",
		Name:  "User One",
	}
}

func TestSessionRoundTrip(t *testing.T) {
	issuer := NewSessionIssuer(testSecret, time.Hour)

	token, err := issuer.Issue(testUser())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "u1@x.com", claims.Email)
	assert.Equal(t, "User One", claims.Name)
}

func TestSessionDefaultTTL(t *testing.T) {
	issuer := NewSessionIssuer(testSecret, 0)
	assert.Equal(t, 10080*time.Minute, issuer.TTL())
}

func TestSessionExpired(t *testing.T) {
	issuer := NewSessionIssuer(testSecret, time.Hour)

	token, err := issuer.Issue(testUser())
	require.NoError(t, err)

	// Move the verification clock past the expiry. The signature is still
	// valid, only the expiry has elapsed.
	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = issuer.Verify(token)
	require.Error(t, err)
	assert.Equal(t, KindExpiredSession, KindOf(err))
}

func TestSessionTampered(t *testing.T) {
	issuer := NewSessionIssuer(testSecret, time.Hour)

	token, err := issuer.Issue(testUser())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// Flip a byte of the payload; the signature no longer matches.
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	_, err = issuer.Verify(tampered)
	require.Error(t, err)
	assert.Equal(t, KindInvalidSession, KindOf(err))
}

func TestSessionWrongKey(t *testing.T) {
	issuer := NewSessionIssuer(testSecret, time.Hour)
	other := NewSessionIssuer("another-secret-another-secret-ab", time.Hour)

	token, err := issuer.Issue(testUser())
	require.NoError(t, err)

	_, err = other.Verify(token)
	require.Error(t, err)
	assert.Equal(t, KindInvalidSession, KindOf(err))
}

func TestSessionGarbage(t *testing.T) {
	issuer := NewSessionIssuer(testSecret, time.Hour)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := issuer.Verify(token)
		require.Error(t, err, "token %q", token)
		assert.Equal(t, KindInvalidSession, KindOf(err))
	}
}

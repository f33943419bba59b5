package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mailwise/mailwise/internal/store"
)

// stubGoogle is a stub of Google's token and userinfo endpoints.
type stubGoogle struct {
	server *httptest.Server

	// validCode is the only authorization code the token endpoint accepts.
	validCode string

	// failUserInfo makes the userinfo endpoint return 500.
	failUserInfo bool

	tokenCalls    int
	userInfoCalls int
}

func newStubGoogle(t *testing.T) *stubGoogle {
	t.Helper()

	s := &stubGoogle{validCode: "abc123"}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls++
		require.NoError(t, r.ParseForm())

		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("code") != s.validCode {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "A1",
			"refresh_token": "R1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		s.userInfoCalls++
		if s.failUserInfo {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":      "u1",
			"email":   "u1@x.com",
			"name":    "User One",
			"picture": "https://example.com/pic.png",
		})
	})

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func (s *stubGoogle) brokerConfig() BrokerConfig {
	return BrokerConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8000/api/v1/auth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   s.server.URL + "/auth",
			TokenURL:  s.server.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoBase: s.server.URL,
	}
}

func TestBeginLogin(t *testing.T) {
	stub := newStubGoogle(t)
	broker := NewBroker(stub.brokerConfig(), store.NewMemoryStore(), NewSessionIssuer(testSecret, time.Hour), nil)

	authURL := broker.BeginLogin()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	// Offline access plus a forced consent prompt so a refresh token is
	// issued even on repeat logins.
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))

	scopes := q.Get("scope")
	assert.Contains(t, scopes, "gmail.readonly")
	assert.Contains(t, scopes, "gmail.send")
	assert.Contains(t, scopes, "gmail.modify")
	assert.Contains(t, scopes, "userinfo.email")
	assert.Contains(t, scopes, "userinfo.profile")

	// URL construction has no side effects.
	assert.Zero(t, stub.tokenCalls)
}

func TestCompleteLogin(t *testing.T) {
	stub := newStubGoogle(t)
	users := store.NewMemoryStore()
	issuer := NewSessionIssuer(testSecret, time.Hour)
	broker := NewBroker(stub.brokerConfig(), users, issuer, nil)

	user, token, err := broker.CompleteLogin(context.Background(), "abc123")
	require.NoError(t, err)

	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "u1@x.com", user.Email)
	assert.Equal(t, "A1", user.AccessToken)
	assert.NotEmpty(t, user.RefreshToken)
	assert.Equal(t, "R1", user.RefreshToken)

	// The session token decodes to the same user identifier.
	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)

	// The user record was persisted.
	stored, err := users.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "A1", stored.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), stored.TokenExpiry, time.Minute)
}

func TestCompleteLoginRepeatOverwritesRefreshToken(t *testing.T) {
	stub := newStubGoogle(t)
	users := store.NewMemoryStore()
	broker := NewBroker(stub.brokerConfig(), users, NewSessionIssuer(testSecret, time.Hour), nil)

	_, _, err := broker.CompleteLogin(context.Background(), "abc123")
	require.NoError(t, err)

	// Simulate the stored tokens drifting, then a fresh login.
	require.NoError(t, users.UpdateTokens(context.Background(), "u1", "stale", time.Now()))

	_, _, err = broker.CompleteLogin(context.Background(), "abc123")
	require.NoError(t, err)

	stored, err := users.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "A1", stored.AccessToken)
	assert.Equal(t, "R1", stored.RefreshToken)
}

func TestCompleteLoginInvalidCode(t *testing.T) {
	stub := newStubGoogle(t)
	users := store.NewMemoryStore()
	broker := NewBroker(stub.brokerConfig(), users, NewSessionIssuer(testSecret, time.Hour), nil)

	_, _, err := broker.CompleteLogin(context.Background(), "wrong-code")
	require.Error(t, err)
	assert.Equal(t, KindUpstreamAuth, KindOf(err))

	_, err = users.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompleteLoginProfileFetchFails(t *testing.T) {
	stub := newStubGoogle(t)
	stub.failUserInfo = true
	users := store.NewMemoryStore()
	broker := NewBroker(stub.brokerConfig(), users, NewSessionIssuer(testSecret, time.Hour), nil)

	_, _, err := broker.CompleteLogin(context.Background(), "abc123")
	require.Error(t, err)
	assert.Equal(t, KindProfileFetch, KindOf(err))

	// The token exchange succeeded but its result is discarded: no partial
	// user is persisted.
	assert.Equal(t, 1, stub.tokenCalls)
	_, err = users.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

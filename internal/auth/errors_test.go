package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{UpstreamAuthError("exchange failed", nil), KindUpstreamAuth},
		{ProfileFetchError("profile call failed", nil), KindProfileFetch},
		{ReauthRequiredError("refresh rejected", nil), KindReauthRequired},
		{InvalidSessionError("bad signature"), KindInvalidSession},
		{ExpiredSessionError("expiry elapsed"), KindExpiredSession},
		{MissingCredentialsError("no header"), KindMissingCredentials},
		{UnknownUserError("record purged"), KindUnknownUser},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.err))
	}
}

func TestKindOfNonAuthError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("handler: %w", ExpiredSessionError("expiry elapsed"))
	assert.Equal(t, KindExpiredSession, KindOf(err))
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ReauthRequiredError("refresh rejected", errors.New("invalid_grant")))

	assert.True(t, errors.Is(err, ReauthRequiredError("", nil)))
	assert.False(t, errors.Is(err, ExpiredSessionError("")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := UpstreamAuthError("exchange failed", cause)

	assert.Contains(t, err.Error(), "upstream_auth_error")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

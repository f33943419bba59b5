package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/mailwise/mailwise/internal/logging"
	"github.com/mailwise/mailwise/internal/store"
)

// refreshMargin is the safety window before expiry within which the access
// token is refreshed preemptively, so a Gmail call never starts with a
// token about to lapse mid-flight.
const refreshMargin = 5 * time.Minute

// Refresher exchanges a stored refresh token for a new upstream access
// token when the previous one has expired, and persists the result.
//
// Concurrent refreshes for the same user are not deduplicated: each racer
// obtains its own token and the last write is retained, which upstream
// treats as benign.
type Refresher struct {
	config *oauth2.Config
	users  store.UserStore
	logger *slog.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewRefresher creates a Refresher sharing the broker's OAuth2 config.
func NewRefresher(config *oauth2.Config, users store.UserStore, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		config: config,
		users:  users,
		logger: logging.WithComponent(logger, "token_refresher"),
		now:    time.Now,
	}
}

// EnsureFresh returns a usable upstream access token for the user,
// refreshing and persisting it first when the stored one has expired or is
// inside the safety margin. Idempotent on a fresh token: it returns the
// stored value without an upstream call.
//
// If upstream rejects the refresh token (revoked or invalid) the call
// fails with ReauthRequiredError and the stored stale access token is left
// unchanged; the user must repeat the login flow. This is never retried.
func (r *Refresher) EnsureFresh(ctx context.Context, user *store.User) (string, error) {
	if !r.isExpired(user.TokenExpiry) {
		return user.AccessToken, nil
	}

	if user.RefreshToken == "" {
		return "", ReauthRequiredError("no refresh token on record", nil)
	}

	// Expiry in the past forces the TokenSource to hit the token endpoint
	// instead of reusing the stale access token.
	stale := &oauth2.Token{
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Unix(1, 0),
	}

	fresh, err := r.config.TokenSource(ctx, stale).Token()
	if err != nil {
		r.logger.Warn("upstream token refresh failed",
			logging.UserHash(user.Email),
			logging.Err(err))

		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", ReauthRequiredError("refresh token rejected by upstream", err)
		}
		return "", UpstreamAuthError("token refresh call failed", err)
	}

	if err := r.users.UpdateTokens(ctx, user.ID, fresh.AccessToken, fresh.Expiry); err != nil {
		return "", UpstreamAuthError("failed to persist refreshed token", err)
	}

	user.AccessToken = fresh.AccessToken
	user.TokenExpiry = fresh.Expiry

	r.logger.Info("access token refreshed",
		logging.UserHash(user.Email),
		logging.Status(logging.StatusSuccess))

	return fresh.AccessToken, nil
}

// isExpired reports whether the stored expiry is past or inside the
// refresh margin. A zero expiry counts as expired: we have never seen a
// valid expiry for the token.
func (r *Refresher) isExpired(expiry time.Time) bool {
	if expiry.IsZero() {
		return true
	}
	return r.now().Add(refreshMargin).After(expiry)
}

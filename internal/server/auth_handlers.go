package server

import (
	"net/http"
	"net/url"

	"github.com/mailwise/mailwise/internal/auth"
	"github.com/mailwise/mailwise/internal/instrumentation"
	"github.com/mailwise/mailwise/internal/logging"
)

// handleLogin returns the Google consent URL. The SPA navigates the
// browser there itself.
//
// GET /api/v1/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"authorization_url": s.broker.BeginLogin(),
	})
}

// handleCallback completes the OAuth flow. On success the browser is
// redirected to the frontend with a session token; on failure with an
// error code. The callback never renders content itself.
//
// GET /api/v1/auth/callback?code=...
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if errCode := r.URL.Query().Get("error"); errCode != "" {
		s.logger.Warn("consent denied", logging.Operation("oauth_callback"), "error", errCode)
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		s.redirectFrontend(w, r, url.Values{"error": {"access_denied"}})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		s.redirectFrontend(w, r, url.Values{"error": {"missing_code"}})
		return
	}

	action := instrumentation.NewUserAction("login")
	user, token, err := s.broker.CompleteLogin(ctx, code)
	if err != nil {
		s.logger.Error("login failed",
			logging.Operation("oauth_callback"),
			logging.ErrorKind(string(auth.KindOf(err))),
			logging.Err(err),
		)
		s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		s.audit.LogUserAction(action.CompleteWithError(err))
		s.redirectFrontend(w, r, url.Values{"error": {"auth_failed"}})
		return
	}

	s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)
	s.metrics.IncrementActiveSessions(ctx)
	s.audit.LogUserAction(action.WithUser(user.Email).CompleteSuccess())

	s.redirectFrontend(w, r, url.Values{"token": {token}})
}

// redirectFrontend sends the browser to the frontend's OAuth callback
// page with the given query parameters.
func (s *Server) redirectFrontend(w http.ResponseWriter, r *http.Request, params url.Values) {
	http.Redirect(w, r, s.cfg.FrontendURL+"/auth/callback?"+params.Encode(), http.StatusTemporaryRedirect)
}

// handleMe returns the authenticated user's profile. Tokens never
// serialize.
//
// GET /api/v1/auth/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing_credentials", "authentication required")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// handleLogout acknowledges a logout. Sessions are stateless JWTs, so
// the token simply stops being presented; nothing is revoked upstream.
//
// POST /api/v1/auth/logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing_credentials", "authentication required")
		return
	}

	s.metrics.DecrementActiveSessions(ctx)
	s.audit.LogUserAction(instrumentation.NewUserAction("logout").WithUser(user.Email).CompleteSuccess())

	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

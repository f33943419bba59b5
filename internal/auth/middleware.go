package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mailwise/mailwise/internal/logging"
	"github.com/mailwise/mailwise/internal/store"
)

// contextKey is the type for context keys.
type contextKey string

// userContextKey is the key under which the authenticated user is stored
// in the request context.
const userContextKey contextKey = "auth_user"

// Guard validates the inbound bearer token on every protected request and
// resolves it to a stored user record before the request proceeds.
type Guard struct {
	sessions *SessionIssuer
	users    store.UserStore
	logger   *slog.Logger
}

// NewGuard creates a Guard.
func NewGuard(sessions *SessionIssuer, users store.UserStore, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		sessions: sessions,
		users:    users,
		logger:   logging.WithComponent(logger, "request_guard"),
	}
}

// Authenticate extracts and verifies the bearer token and loads the user
// record for its subject. Each failure carries the kind of the first
// branch that failed: missing credentials, invalid or expired session, or
// unknown user. No upstream-token refresh happens here; Gmail handlers
// invoke the Refresher themselves.
func (g *Guard) Authenticate(r *http.Request) (*store.User, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, MissingCredentialsError("missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, MissingCredentialsError("Authorization header is not a bearer token")
	}

	claims, err := g.sessions.Verify(parts[1])
	if err != nil {
		return nil, err
	}

	user, err := g.users.GetUser(r.Context(), claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, UnknownUserError("no user record for session subject")
	}
	if err != nil {
		return nil, UnknownUserError("user lookup failed")
	}

	return user, nil
}

// RequireUser is middleware enforcing authentication. On success the user
// is injected into the request context; every failure is surfaced as 401
// with the internal cause logged.
func (g *Guard) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := g.Authenticate(r)
		if err != nil {
			g.logger.Info("request rejected",
				slog.String("path", r.URL.Path),
				logging.ErrorKind(string(KindOf(err))),
				logging.Err(err))
			writeUnauthorized(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the authenticated user stored by RequireUser.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userContextKey).(*store.User)
	return user, ok
}

// ContextWithUser returns a context carrying the user. Exported for
// handler tests that bypass the middleware.
func ContextWithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// unauthorizedResponse is the JSON body of a 401 response.
type unauthorizedResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// writeUnauthorized writes the uniform 401 encoding for authentication
// failures. The error code is the auth error kind, so the frontend can
// recognize reauth_required and restart the login flow.
func writeUnauthorized(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	if kind == "" {
		kind = KindInvalidSession
	}

	w.Header().Set("WWW-Authenticate", `Bearer realm="mailwise"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(unauthorizedResponse{
		Error:            string(kind),
		ErrorDescription: "authentication required",
	})
}

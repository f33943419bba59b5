package auth

import (
	"errors"
	"fmt"
)

// Kind identifies the authentication error category. Kinds are logged and
// returned as machine-readable codes in 401 responses; apart from
// KindReauthRequired they all mean "access denied" to the caller.
type Kind string

const (
	KindUpstreamAuth       Kind = "upstream_auth_error"
	KindProfileFetch       Kind = "profile_fetch_error"
	KindReauthRequired     Kind = "reauth_required"
	KindInvalidSession     Kind = "invalid_session"
	KindExpiredSession     Kind = "expired_session"
	KindMissingCredentials Kind = "missing_credentials"
	KindUnknownUser        Kind = "unknown_user"
)

// Error is an authentication-layer error. Errors of this type are never
// retried; they terminate the current request.
type Error struct {
	Kind        Kind
	Description string
	Err         error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an auth Error of the same kind, so
// errors.Is(err, auth.ExpiredSessionError("")) works across wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// UpstreamAuthError indicates the authorization code exchange or another
// upstream OAuth call failed.
func UpstreamAuthError(desc string, err error) *Error {
	return &Error{Kind: KindUpstreamAuth, Description: desc, Err: err}
}

// ProfileFetchError indicates the profile call failed after a successful
// token exchange. The exchange result is discarded in this case.
func ProfileFetchError(desc string, err error) *Error {
	return &Error{Kind: KindProfileFetch, Description: desc, Err: err}
}

// ReauthRequiredError indicates the stored refresh token was rejected
// upstream; the user must repeat the full login flow.
func ReauthRequiredError(desc string, err error) *Error {
	return &Error{Kind: KindReauthRequired, Description: desc, Err: err}
}

// InvalidSessionError indicates a session token whose signature does not
// verify, or that is otherwise malformed.
func InvalidSessionError(desc string) *Error {
	return &Error{Kind: KindInvalidSession, Description: desc}
}

// ExpiredSessionError indicates a well-signed session token whose expiry
// has elapsed.
func ExpiredSessionError(desc string) *Error {
	return &Error{Kind: KindExpiredSession, Description: desc}
}

// MissingCredentialsError indicates the request carried no bearer token.
func MissingCredentialsError(desc string) *Error {
	return &Error{Kind: KindMissingCredentials, Description: desc}
}

// UnknownUserError indicates a valid session token whose user record no
// longer exists.
func UnknownUserError(desc string) *Error {
	return &Error{Kind: KindUnknownUser, Description: desc}
}

// KindOf returns the Kind of err, or the empty Kind if err is not an
// authentication error.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

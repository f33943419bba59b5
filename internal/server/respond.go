package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/mailwise/mailwise/internal/auth"
)

// errorResponse is the JSON shape for all error replies.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, description string) {
	respondJSON(w, status, errorResponse{Error: code, Description: description})
}

// respondAuthError writes a 401 for any authentication-layer error.
// The error kind is exposed so the frontend can distinguish
// reauth_required (restart the login flow) from an invalid session.
func respondAuthError(w http.ResponseWriter, err error) {
	kind := auth.KindOf(err)
	if kind == "" {
		kind = auth.KindInvalidSession
	}

	w.Header().Set("WWW-Authenticate", `Bearer realm="mailwise"`)

	description := ""
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		description = authErr.Description
	}
	respondError(w, http.StatusUnauthorized, string(kind), description)
}

// respondUpstreamError translates a Gmail API failure. Not-found
// surfaces as 404; everything else is reported as a bad gateway.
func respondUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		respondError(w, http.StatusNotFound, "not_found", "message not found")
		return
	}
	respondError(w, http.StatusBadGateway, "upstream_error", err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

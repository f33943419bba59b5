package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailwise/mailwise/internal/auth"
	"github.com/mailwise/mailwise/internal/gmail"
	"github.com/mailwise/mailwise/internal/instrumentation"
	"github.com/mailwise/mailwise/internal/logging"
	"github.com/mailwise/mailwise/internal/store"
)

const (
	defaultEmailCount = 10
	defaultSearchMax  = 20
	maxEmailCount     = 50
)

// gmailClientFor resolves the authenticated user's Gmail client,
// refreshing the upstream access token first. On failure the response
// is already written and ok is false.
func (s *Server) gmailClientFor(w http.ResponseWriter, r *http.Request) (*gmail.Client, *store.User, bool) {
	ctx := r.Context()

	user, ok := auth.UserFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing_credentials", "authentication required")
		return nil, nil, false
	}

	accessToken, err := s.refresher.EnsureFresh(ctx, user)
	if err != nil {
		result := instrumentation.OAuthResultFailure
		if auth.KindOf(err) == auth.KindReauthRequired {
			result = instrumentation.OAuthResultExpired
		}
		s.metrics.RecordOAuthTokenRefresh(ctx, result)

		s.logger.Warn("token refresh failed",
			logging.Operation("ensure_fresh"),
			logging.UserHash(user.Email),
			logging.ErrorKind(string(auth.KindOf(err))),
		)
		respondAuthError(w, err)
		return nil, nil, false
	}

	client, err := s.gmail.ClientFor(ctx, accessToken)
	if err != nil {
		s.logger.Error("gmail client setup failed", logging.Err(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to initialize mail client")
		return nil, nil, false
	}

	return client, user, true
}

// countParam parses a bounded integer query parameter.
func countParam(r *http.Request, name string, def, max int) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return int64(def)
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return int64(def)
	}
	if n > max {
		n = max
	}
	return int64(n)
}

// handleRecentEmails returns the newest inbox messages.
//
// GET /api/v1/emails/recent?count=10
func (s *Server) handleRecentEmails(w http.ResponseWriter, r *http.Request) {
	client, _, ok := s.gmailClientFor(w, r)
	if !ok {
		return
	}

	count := countParam(r, "count", defaultEmailCount, maxEmailCount)

	start := time.Now()
	emails, err := client.Recent(r.Context(), count)
	s.recordGmail(r, instrumentation.OperationList, err, start)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"emails": emails,
		"count":  len(emails),
	})
}

// handleSearchEmails searches messages with a Gmail query.
//
// GET /api/v1/emails/search?query=...&max=20
func (s *Server) handleSearchEmails(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter is required")
		return
	}

	client, _, ok := s.gmailClientFor(w, r)
	if !ok {
		return
	}

	max := countParam(r, "max", defaultSearchMax, maxEmailCount)

	start := time.Now()
	emails, err := client.Search(r.Context(), query, max)
	s.recordGmail(r, instrumentation.OperationSearch, err, start)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"emails": emails,
		"count":  len(emails),
		"query":  query,
	})
}

// handleCategorizeEmails buckets recent messages into fixed categories.
//
// GET /api/v1/emails/categories?count=20
func (s *Server) handleCategorizeEmails(w http.ResponseWriter, r *http.Request) {
	client, user, ok := s.gmailClientFor(w, r)
	if !ok {
		return
	}

	count := countParam(r, "count", defaultSearchMax, maxEmailCount)

	emails, err := client.Recent(r.Context(), count)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	start := time.Now()
	categories, err := s.assistant.Categorize(r.Context(), emails)
	s.recordAssistant(r, instrumentation.AssistantCategorize, user, err, start)
	if err != nil {
		s.logger.Error("categorization failed", logging.Err(err))
		respondError(w, http.StatusBadGateway, "assistant_error", "failed to categorize emails")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"categories": categories,
		"emails":     emails,
		"total":      len(emails),
	})
}

// handleDigest produces an assistant-written inbox summary with
// counts.
//
// GET /api/v1/emails/digest
func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	client, user, ok := s.gmailClientFor(w, r)
	if !ok {
		return
	}

	emails, err := client.Recent(r.Context(), defaultSearchMax)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	start := time.Now()
	digest, err := s.assistant.Digest(r.Context(), emails)
	s.recordAssistant(r, instrumentation.AssistantDigest, user, err, start)
	if err != nil {
		s.logger.Error("digest failed", logging.Err(err))
		respondError(w, http.StatusBadGateway, "assistant_error", "failed to generate digest")
		return
	}

	unread := 0
	for _, e := range emails {
		if e.IsUnread() {
			unread++
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"digest": digest,
		"total":  len(emails),
		"unread": unread,
	})
}

// handleGetEmail returns one message with its decoded body.
//
// GET /api/v1/emails/{id}
func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	client, _, ok := s.gmailClientFor(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")

	start := time.Now()
	email, err := client.Get(r.Context(), id)
	s.recordGmail(r, instrumentation.OperationGet, err, start)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, email)
}

// sendEmailRequest is the body for POST /emails/send.
type sendEmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// handleSendEmail sends a plain-text message as the user.
//
// POST /api/v1/emails/send
func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	if req.To == "" || req.Subject == "" || req.Body == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "to, subject and body are required")
		return
	}

	client, user, ok := s.gmailClientFor(w, r)
	if !ok {
		return
	}

	action := instrumentation.NewUserAction("send_email").
		WithUser(user.Email).
		WithService(instrumentation.ServiceGmail, instrumentation.OperationSend)

	start := time.Now()
	result, err := client.Send(r.Context(), req.To, req.Subject, req.Body, "", "")
	s.recordGmail(r, instrumentation.OperationSend, err, start)
	if err != nil {
		s.audit.LogUserAction(action.CompleteWithError(err))
		respondUpstreamError(w, err)
		return
	}
	s.audit.LogUserAction(action.WithResource(result.ID).CompleteSuccess())

	respondJSON(w, http.StatusOK, result)
}

// handleTrashEmail moves a message to the trash. Nothing is ever
// deleted permanently through this API.
//
// DELETE /api/v1/emails/{id}
func (s *Server) handleTrashEmail(w http.ResponseWriter, r *http.Request) {
	client, user, ok := s.gmailClientFor(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")

	action := instrumentation.NewUserAction("trash_email").
		WithUser(user.Email).
		WithService(instrumentation.ServiceGmail, instrumentation.OperationTrash).
		WithResource(id)

	start := time.Now()
	err := client.Trash(r.Context(), id)
	s.recordGmail(r, instrumentation.OperationTrash, err, start)
	if err != nil {
		s.audit.LogUserAction(action.CompleteWithError(err))
		respondUpstreamError(w, err)
		return
	}
	s.audit.LogUserAction(action.CompleteSuccess())

	respondJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": "trashed",
	})
}

// recordGmail records a Gmail API operation metric.
func (s *Server) recordGmail(r *http.Request, operation string, err error, start time.Time) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	s.metrics.RecordGoogleAPIOperation(r.Context(), instrumentation.ServiceGmail, operation, status, time.Since(start))
}

// recordAssistant records an assistant operation metric.
func (s *Server) recordAssistant(r *http.Request, operation string, user *store.User, err error, start time.Time) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	email := ""
	if user != nil {
		email = user.Email
	}
	s.metrics.RecordAssistantOperationForUser(r.Context(), operation, status, email, time.Since(start))
}

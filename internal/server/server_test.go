package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailwise/mailwise/internal/ai"
	"github.com/mailwise/mailwise/internal/auth"
	"github.com/mailwise/mailwise/internal/gmail"
	"github.com/mailwise/mailwise/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGenerator returns a canned model output.
type fakeGenerator struct {
	output string
}

func (f *fakeGenerator) Generate(context.Context, string) (string, error) {
	return f.output, nil
}

// stubGmailAPI serves the subset of the Gmail REST API the handlers
// touch.
func stubGmailAPI(t *testing.T) *httptest.Server {
	t.Helper()

	body := base64.URLEncoding.EncodeToString([]byte("stub body"))
	full := map[string]any{
		"id":       "m1",
		"threadId": "t1",
		"snippet":  "stub...",
		"labelIds": []string{"INBOX", "UNREAD"},
		"payload": map[string]any{
			"mimeType": "text/plain",
			"headers": []map[string]string{
				{"name": "Subject", "value": "Stub subject"},
				{"name": "From", "value": "Jane Doe <jane@example.com>"},
			},
			"body": map[string]any{"data": body},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages") && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "m1", "threadId": "t1"}},
			})
		case strings.HasSuffix(r.URL.Path, "/messages/send"):
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "sent1", "threadId": "t1"})
		case strings.HasSuffix(r.URL.Path, "/trash"):
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "m1"})
		case strings.Contains(r.URL.Path, "/messages/"):
			_ = json.NewEncoder(w).Encode(full)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// testHarness bundles a fully wired server over in-memory fakes.
type testHarness struct {
	server *Server
	router http.Handler
	store  *store.MemoryStore
	issuer *auth.SessionIssuer
	token  string
	user   *store.User
}

func newTestHarness(t *testing.T, generatorOutput string, ratePerMinute int) *testHarness {
	t.Helper()

	logger := testLogger()
	st := store.NewMemoryStore()
	issuer := auth.NewSessionIssuer("test-secret-key", time.Hour)
	guard := auth.NewGuard(issuer, st, logger)
	broker := auth.NewBroker(auth.BrokerConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8000/api/v1/auth/callback",
	}, st, issuer, logger)
	refresher := auth.NewRefresher(broker.OAuthConfig(), st, logger)

	user := &store.User{
		ID:           "u1",
		Email:        "u1@example.com",
		Name:         "User One",
		AccessToken:  "A1",
		RefreshToken: "R1",
		TokenExpiry:  time.Now().Add(time.Hour),
	}
	require.NoError(t, st.UpsertUser(context.Background(), user))

	token, err := issuer.Issue(user)
	require.NoError(t, err)

	srv := New(Config{
		Addr:               ":0",
		FrontendURL:        "http://frontend.test",
		CORSOrigins:        []string{"*"},
		RateLimitPerMinute: ratePerMinute,
	}, Deps{
		Logger:    logger,
		Broker:    broker,
		Guard:     guard,
		Refresher: refresher,
		Store:     st,
		Gmail:     &gmail.Factory{Endpoint: stubGmailAPI(t).URL},
		Assistant: ai.NewAssistant(&fakeGenerator{output: generatorOutput}, logger),
	})
	t.Cleanup(srv.limiter.Stop)

	return &testHarness{
		server: srv,
		router: srv.Router(),
		store:  st,
		issuer: issuer,
		token:  token,
		user:   user,
	}
}

func (h *testHarness) request(method, path, body string, authorized bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodGet, "/readyz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodGet, "/healthz/detailed", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "uptime")

	h.server.Health().SetReady(false)
	rec = h.request(http.MethodGet, "/readyz", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoginReturnsConsentURL(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodGet, "/api/v1/auth/login", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	authURL := out["authorization_url"].(string)
	assert.Contains(t, authURL, "accounts.google.com")
	assert.Contains(t, authURL, "access_type=offline")
	assert.Contains(t, authURL, "prompt=consent")
}

func TestCallbackMissingCode(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodGet, "/api/v1/auth/callback", "", false)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "http://frontend.test/auth/callback?error=missing_code", rec.Header().Get("Location"))
}

func TestCallbackConsentDenied(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodGet, "/api/v1/auth/callback?error=access_denied", "", false)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "error=access_denied")
}

func TestMeRequiresAuth(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodGet, "/api/v1/auth/me", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_credentials")
}

func TestMeReturnsProfileWithoutTokens(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodGet, "/api/v1/auth/me", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "u1@example.com")
	assert.NotContains(t, body, "A1")
	assert.NotContains(t, body, "R1")
}

func TestTamperedSessionRejected(t *testing.T) {
	h := newTestHarness(t, "", 120)
	h.token = h.token + "x"

	rec := h.request(http.MethodGet, "/api/v1/auth/me", "", true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_session")
}

func TestLogout(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodPost, "/api/v1/auth/logout", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "logged out")
}

func TestRecentEmails(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodGet, "/api/v1/emails/recent?count=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, float64(1), out["count"])
	assert.Contains(t, rec.Body.String(), "Stub subject")
}

func TestSearchRequiresQuery(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodGet, "/api/v1/emails/search", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestSearchEmails(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodGet, "/api/v1/emails/search?query=from%3Ajane", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, "from:jane", out["query"])
	assert.Equal(t, float64(1), out["count"])
}

func TestGetEmail(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodGet, "/api/v1/emails/m1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, "m1", out["id"])
	assert.Equal(t, "stub body", out["body"])
}

func TestSendEmailValidation(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodPost, "/api/v1/emails/send", `{"to":"","subject":"s","body":"b"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendEmail(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodPost, "/api/v1/emails/send",
		`{"to":"jane@example.com","subject":"hello","body":"hi"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, "sent1", out["id"])
	assert.Equal(t, "sent", out["status"])
}

func TestTrashEmail(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodDelete, "/api/v1/emails/m1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, "m1", out["id"])
	assert.Equal(t, "trashed", out["status"])
}

func TestCategorizeEmails(t *testing.T) {
	h := newTestHarness(t, `{"important":["m1"],"social":[],"promotions":[],"updates":[],"spam":[]}`, 120)

	rec := h.request(http.MethodGet, "/api/v1/emails/categories", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	categories := out["categories"].(map[string]any)
	assert.Equal(t, []any{"m1"}, categories["important"])
}

func TestDigest(t *testing.T) {
	h := newTestHarness(t, "One unread message from Jane.", 120)

	rec := h.request(http.MethodGet, "/api/v1/emails/digest", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, "One unread message from Jane.", out["digest"])
	assert.Equal(t, float64(1), out["total"])
	assert.Equal(t, float64(1), out["unread"])
}

func TestReauthRequiredSurfacesAs401(t *testing.T) {
	h := newTestHarness(t, "", 120)

	// A user whose access token is expired and who has no refresh token
	// cannot be refreshed; the frontend must restart the login flow.
	stale := &store.User{
		ID:          "u2",
		Email:       "u2@example.com",
		AccessToken: "old",
		TokenExpiry: time.Now().Add(-time.Hour),
	}
	require.NoError(t, h.store.UpsertUser(context.Background(), stale))

	token, err := h.issuer.Issue(stale)
	require.NoError(t, err)
	h.token = token

	rec := h.request(http.MethodGet, "/api/v1/emails/recent", "", true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "reauth_required")
}

func TestRateLimitExceeded(t *testing.T) {
	h := newTestHarness(t, "", 1)

	rec := h.request(http.MethodGet, "/api/v1/emails/recent", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodGet, "/api/v1/emails/recent", "", true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

func TestChatMessageReadAction(t *testing.T) {
	h := newTestHarness(t, `{"action":"read","parameters":{"count":"5"},"confidence":0.95}`, 120)

	rec := h.request(http.MethodPost, "/api/v1/chat/message", `{"message":"show my last 5 emails"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, "read", out["action"])
	assert.Contains(t, out["response"], "1 most recent")
	assert.NotEmpty(t, out["conversation_id"])

	// The exchange was persisted as one conversation with two turns.
	convs, err := h.store.ListConversations(context.Background(), h.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 2)
	assert.Equal(t, "user", convs[0].Messages[0].Role)
	assert.Equal(t, "assistant", convs[0].Messages[1].Role)
	assert.Equal(t, "read", convs[0].Messages[1].Action)
}

func TestChatMessageContinuesConversation(t *testing.T) {
	h := newTestHarness(t, `{"action":"read","parameters":{},"confidence":0.9}`, 120)

	rec := h.request(http.MethodPost, "/api/v1/chat/message", `{"message":"show my emails"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeResponse(t, rec)

	body := `{"message":"show them again","conversation_id":"` + first["conversation_id"].(string) + `"}`
	rec = h.request(http.MethodPost, "/api/v1/chat/message", body, true)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeResponse(t, rec)

	assert.Equal(t, first["conversation_id"], second["conversation_id"])

	convs, err := h.store.ListConversations(context.Background(), h.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Len(t, convs[0].Messages, 4)
}

func TestChatMessageFallsBackToChat(t *testing.T) {
	h := newTestHarness(t, "Hello! How can I help with your inbox?", 120)

	rec := h.request(http.MethodPost, "/api/v1/chat/message", `{"message":"hey there"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, "chat", out["action"])
	assert.Equal(t, "Hello! How can I help with your inbox?", out["response"])
}

func TestChatMessageDeleteAction(t *testing.T) {
	h := newTestHarness(t, `{"action":"delete","parameters":{"query":"from:spam"},"confidence":0.9}`, 120)

	rec := h.request(http.MethodPost, "/api/v1/chat/message", `{"message":"delete emails from spam"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, "delete", out["action"])
	assert.Contains(t, out["response"], "Moved 1 emails to trash")
}

func TestChatMessageSendNeedsDetails(t *testing.T) {
	h := newTestHarness(t, `{"action":"send","parameters":{"to":"jane@example.com"},"confidence":0.8}`, 120)

	rec := h.request(http.MethodPost, "/api/v1/chat/message", `{"message":"send jane an email"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Contains(t, out["response"], "a subject")
	assert.Contains(t, out["response"], "the message body")
}

func TestChatMessageRequiresMessage(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodPost, "/api/v1/chat/message", `{"message":""}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatHistory(t *testing.T) {
	h := newTestHarness(t, `{"action":"read","parameters":{},"confidence":0.9}`, 120)

	rec := h.request(http.MethodPost, "/api/v1/chat/message", `{"message":"show my emails"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.request(http.MethodGet, "/api/v1/chat/history", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Len(t, out["conversations"], 1)
}

func TestGenerateReply(t *testing.T) {
	h := newTestHarness(t, "Thanks Jane, sounds good.", 120)

	rec := h.request(http.MethodPost, "/api/v1/chat/generate-reply", `{"email_id":"m1"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, "Thanks Jane, sounds good.", out["suggested_reply"])
	assert.Equal(t, "jane@example.com", out["to"])
	assert.Equal(t, "Re: Stub subject", out["subject"])
}

func TestGenerateReplyRequiresEmailID(t *testing.T) {
	h := newTestHarness(t, "", 120)

	rec := h.request(http.MethodPost, "/api/v1/chat/generate-reply", `{"email_id":""}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuggestions(t *testing.T) {
	h := newTestHarness(t, `["Reply to Jane","Archive old promotions"]`, 120)

	rec := h.request(http.MethodGet, "/api/v1/chat/suggestions", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeResponse(t, rec)
	assert.Equal(t, []any{"Reply to Jane", "Archive old promotions"}, out["suggestions"])
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: hello", replySubject("hello"))
	assert.Equal(t, "Re: hello", replySubject("Re: hello"))
	assert.Equal(t, "RE: hello", replySubject("RE: hello"))
}

package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendValidation(t *testing.T) {
	c := &Client{}
	ctx := context.Background()

	_, err := c.Send(ctx, "", "subject", "body", "", "")
	assert.ErrorContains(t, err, "recipient is required")

	_, err = c.Send(ctx, "to@example.com", "", "body", "", "")
	assert.ErrorContains(t, err, "subject is required")

	_, err = c.Send(ctx, "to@example.com", "subject", "", "", "")
	assert.ErrorContains(t, err, "body is required")
}

func TestGetValidation(t *testing.T) {
	c := &Client{}
	_, err := c.Get(context.Background(), "")
	assert.ErrorContains(t, err, "message ID is required")
}

func TestTrashValidation(t *testing.T) {
	c := &Client{}
	err := c.Trash(context.Background(), "")
	assert.ErrorContains(t, err, "message ID is required")
}

func TestBuildMIMEMessage(t *testing.T) {
	raw := buildMIMEMessage("to@example.com", "Re: hello", "reply body", "<orig@mail>", "<root@mail> <orig@mail>")

	assert.Contains(t, raw, "To: to@example.com\r\n")
	assert.Contains(t, raw, "Subject: Re: hello\r\n")
	assert.Contains(t, raw, "In-Reply-To: <orig@mail>\r\n")
	assert.Contains(t, raw, "References: <root@mail> <orig@mail>\r\n")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\nreply body"))
}

func TestBuildMIMEMessageOmitsThreadingHeaders(t *testing.T) {
	raw := buildMIMEMessage("to@example.com", "hello", "body", "", "")
	assert.NotContains(t, raw, "In-Reply-To")
	assert.NotContains(t, raw, "References")
}

// stubGmail serves the subset of the Gmail REST API the client touches.
func stubGmail(t *testing.T) *httptest.Server {
	t.Helper()

	body := base64.URLEncoding.EncodeToString([]byte("message body"))
	full := map[string]any{
		"id":       "m1",
		"threadId": "t1",
		"snippet":  "message...",
		"labelIds": []string{"INBOX", "UNREAD"},
		"payload": map[string]any{
			"mimeType": "text/plain",
			"headers": []map[string]string{
				{"name": "Subject", "value": "Stub subject"},
				{"name": "From", "value": "Jane Doe <jane@example.com>"},
				{"name": "To", "value": "me@example.com"},
				{"name": "Date", "value": "Thu, 01 Dec 2024 10:30:00 +0000"},
			},
			"body": map[string]any{"data": body},
		},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages") && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "m1", "threadId": "t1"}},
			})
		case strings.HasSuffix(r.URL.Path, "/messages/send"):
			json.NewEncoder(w).Encode(map[string]string{"id": "sent1", "threadId": "t1"})
		case strings.HasSuffix(r.URL.Path, "/trash"):
			json.NewEncoder(w).Encode(map[string]string{"id": "m1"})
		case strings.Contains(r.URL.Path, "/messages/"):
			json.NewEncoder(w).Encode(full)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestRecentAgainstStub(t *testing.T) {
	srv := stubGmail(t)
	defer srv.Close()

	factory := &Factory{Endpoint: srv.URL}
	client, err := factory.ClientFor(context.Background(), "access-token")
	require.NoError(t, err)

	emails, err := client.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, emails, 1)

	assert.Equal(t, "m1", emails[0].ID)
	assert.Equal(t, "Stub subject", emails[0].Subject)
	assert.Equal(t, "jane@example.com", emails[0].SenderEmail)
	assert.Equal(t, "message body", emails[0].Body)
	assert.True(t, emails[0].IsUnread())
}

func TestSendAgainstStub(t *testing.T) {
	srv := stubGmail(t)
	defer srv.Close()

	factory := &Factory{Endpoint: srv.URL}
	client, err := factory.ClientFor(context.Background(), "access-token")
	require.NoError(t, err)

	result, err := client.Send(context.Background(), "to@example.com", "hello", "body", "", "")
	require.NoError(t, err)

	assert.Equal(t, "sent1", result.ID)
	assert.Equal(t, "t1", result.ThreadID)
	assert.Equal(t, "sent", result.Status)
}

func TestTrashAgainstStub(t *testing.T) {
	srv := stubGmail(t)
	defer srv.Close()

	factory := &Factory{Endpoint: srv.URL}
	client, err := factory.ClientFor(context.Background(), "access-token")
	require.NoError(t, err)

	assert.NoError(t, client.Trash(context.Background(), "m1"))
}

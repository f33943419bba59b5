package gmail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	gmail "google.golang.org/api/gmail/v1"
)

func encodeBody(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestParseMessageHeaders(t *testing.T) {
	msg := &gmail.Message{
		Id:       "m1",
		ThreadId: "t1",
		Snippet:  "preview text",
		LabelIds: []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Project update"},
				{Name: "From", Value: `Jane Doe <jane@example.com>`},
				{Name: "To", Value: "me@example.com"},
				{Name: "Date", Value: "Thu, 01 Dec 2024 10:30:00 +0000"},
				{Name: "Message-ID", Value: "<abc@mail.example.com>"},
			},
			Body: &gmail.MessagePartBody{Data: encodeBody("Hello there")},
		},
	}

	email := parseMessage(msg)

	assert.Equal(t, "m1", email.ID)
	assert.Equal(t, "t1", email.ThreadID)
	assert.Equal(t, "Project update", email.Subject)
	assert.Equal(t, "Jane Doe", email.SenderName)
	assert.Equal(t, "jane@example.com", email.SenderEmail)
	assert.Equal(t, "<abc@mail.example.com>", email.MessageID)
	assert.Equal(t, "Hello there", email.Body)
	assert.True(t, email.IsUnread())
}

func TestParseMessageNoSubject(t *testing.T) {
	msg := &gmail.Message{
		Id: "m1",
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "someone@example.com"},
			},
		},
	}

	email := parseMessage(msg)
	assert.Equal(t, "(No Subject)", email.Subject)
	assert.False(t, email.IsUnread())
}

func TestParseMessageNilPayload(t *testing.T) {
	email := parseMessage(&gmail.Message{Id: "m1"})
	assert.Equal(t, "m1", email.ID)
	assert.Equal(t, "(No Subject)", email.Subject)
}

func TestHeaderValueCaseInsensitive(t *testing.T) {
	headers := []*gmail.MessagePartHeader{
		{Name: "message-id", Value: "<x@y>"},
	}
	assert.Equal(t, "<x@y>", headerValue(headers, "Message-ID"))
	assert.Equal(t, "", headerValue(headers, "Subject"))
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		name      string
		from      string
		wantName  string
		wantEmail string
	}{
		{
			name:      "name and address",
			from:      "Jane Doe <jane@example.com>",
			wantName:  "Jane Doe",
			wantEmail: "jane@example.com",
		},
		{
			name:      "quoted name",
			from:      `"Doe, Jane" <jane@example.com>`,
			wantName:  "Doe, Jane",
			wantEmail: "jane@example.com",
		},
		{
			name:      "bare address",
			from:      "jane@example.com",
			wantName:  "jane@example.com",
			wantEmail: "jane@example.com",
		},
		{
			name:      "angle brackets only",
			from:      "<jane@example.com>",
			wantName:  "jane@example.com",
			wantEmail: "jane@example.com",
		},
		{
			name:      "empty",
			from:      "",
			wantName:  "",
			wantEmail: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, email := splitAddress(tt.from)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantEmail, email)
		})
	}
}

func TestExtractBodyPrefersPlainText(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "text/html",
				Body:     &gmail.MessagePartBody{Data: encodeBody("<p>HTML version</p>")},
			},
			{
				MimeType: "text/plain",
				Body:     &gmail.MessagePartBody{Data: encodeBody("plain version")},
			},
		},
	}

	assert.Equal(t, "plain version", extractBody(payload))
}

func TestExtractBodyHTMLFallback(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "text/html",
				Body:     &gmail.MessagePartBody{Data: encodeBody("<p>Hello &amp; welcome</p><br>bye")},
			},
		},
	}

	body := extractBody(payload)
	assert.Contains(t, body, "Hello & welcome")
	assert.Contains(t, body, "bye")
	assert.NotContains(t, body, "<p>")
}

func TestExtractBodyNestedMultipart(t *testing.T) {
	payload := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{
						MimeType: "text/plain",
						Body:     &gmail.MessagePartBody{Data: encodeBody("nested body")},
					},
				},
			},
		},
	}

	assert.Equal(t, "nested body", extractBody(payload))
}

func TestDecodeBodyUnpadded(t *testing.T) {
	// Gmail omits base64 padding.
	raw := base64.RawURLEncoding.EncodeToString([]byte("unpadded content"))
	assert.Equal(t, "unpadded content", decodeBody(raw))
}

func TestDecodeBodyInvalid(t *testing.T) {
	assert.Equal(t, "", decodeBody("!!! not base64 !!!"))
}

package gmail

import (
	"encoding/base64"
	"html"
	"regexp"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

var htmlTagRe = regexp.MustCompile(`<[^<]+?>`)

// parseMessage normalizes a full-format Gmail API message into an Email.
func parseMessage(msg *gmail.Message) *Email {
	email := &Email{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
	}

	if msg.Payload == nil {
		email.Subject = "(No Subject)"
		return email
	}

	headers := msg.Payload.Headers
	email.Subject = headerValue(headers, "Subject")
	if email.Subject == "" {
		email.Subject = "(No Subject)"
	}
	email.From = headerValue(headers, "From")
	email.To = headerValue(headers, "To")
	email.Date = headerValue(headers, "Date")
	email.MessageID = headerValue(headers, "Message-ID")
	email.SenderName, email.SenderEmail = splitAddress(email.From)
	email.Body = extractBody(msg.Payload)

	return email
}

// headerValue returns the first header with the given name,
// case-insensitively.
func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// splitAddress parses a "Name <email@example.com>" From header into name
// and address. A bare address is returned as both.
func splitAddress(from string) (name, email string) {
	if from == "" {
		return "", ""
	}

	start := strings.Index(from, "<")
	end := strings.Index(from, ">")
	if start >= 0 && end > start {
		email = strings.TrimSpace(from[start+1 : end])
		name = strings.Trim(strings.TrimSpace(from[:start]), `"`)
		if name == "" {
			name = email
		}
		return name, email
	}
	return from, from
}

// extractBody walks the MIME payload and returns the message body as plain
// text. text/plain parts win over text/html; HTML is tag-stripped as a
// fallback. Nested multiparts are descended recursively.
func extractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}

	if payload.Body != nil && payload.Body.Data != "" {
		if decoded := decodeBody(payload.Body.Data); decoded != "" {
			if payload.MimeType == "text/html" {
				return stripHTML(decoded)
			}
			return decoded
		}
	}

	// Prefer a text/plain part at this level before descending.
	for _, part := range payload.Parts {
		if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			if decoded := decodeBody(part.Body.Data); decoded != "" {
				return decoded
			}
		}
	}

	for _, part := range payload.Parts {
		if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
			if decoded := decodeBody(part.Body.Data); decoded != "" {
				return stripHTML(decoded)
			}
		}
	}

	for _, part := range payload.Parts {
		if len(part.Parts) > 0 {
			if body := extractBody(part); body != "" {
				return body
			}
		}
	}

	return ""
}

// decodeBody decodes base64url message data, tolerating missing padding.
func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}

// stripHTML converts an HTML body to rough plain text: line breaks for
// block endings, tags removed, entities unescaped.
func stripHTML(s string) string {
	s = strings.ReplaceAll(s, "<br>", "\n")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = strings.ReplaceAll(s, "<br />", "\n")
	s = strings.ReplaceAll(s, "</p>", "\n")
	s = htmlTagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}

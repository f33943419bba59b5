package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Client wraps the Gmail Users service for a single authenticated user.
type Client struct {
	svc *gmail.UsersService
}

// ClientFactory builds Gmail clients from access tokens. Handlers depend
// on this interface so tests can substitute a fake.
type ClientFactory interface {
	ClientFor(ctx context.Context, accessToken string) (*Client, error)
}

// Factory is the production ClientFactory. Endpoint overrides the Gmail
// API base URL for tests; the zero value targets the real API.
type Factory struct {
	Endpoint string
}

// ClientFor creates a Gmail client authenticated with the given access
// token.
func (f *Factory) ClientFor(ctx context.Context, accessToken string) (*Client, error) {
	return NewClient(ctx, accessToken, f.Endpoint)
}

// NewClient creates a Gmail client from an upstream access token. The
// token is expected to be fresh; callers run it through the token
// refresher first.
func NewClient(ctx context.Context, accessToken, endpoint string) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Client{svc: svc.Users}, nil
}

// Recent fetches the most recent inbox messages, fully populated.
func (c *Client) Recent(ctx context.Context, maxResults int64) ([]*Email, error) {
	res, err := c.svc.Messages.List("me").
		LabelIds("INBOX").
		MaxResults(maxResults).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox messages: %w", err)
	}

	return c.populate(ctx, res.Messages)
}

// Search fetches messages matching a Gmail query (e.g. "from:x is:unread").
func (c *Client) Search(ctx context.Context, query string, maxResults int64) ([]*Email, error) {
	res, err := c.svc.Messages.List("me").
		Q(query).
		MaxResults(maxResults).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	return c.populate(ctx, res.Messages)
}

// populate fetches full payloads for the listed message stubs.
func (c *Client) populate(ctx context.Context, stubs []*gmail.Message) ([]*Email, error) {
	emails := make([]*Email, 0, len(stubs))
	for _, stub := range stubs {
		email, err := c.Get(ctx, stub.Id)
		if err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, nil
}

// Get retrieves a message by ID in full format and parses it.
func (c *Client) Get(ctx context.Context, id string) (*Email, error) {
	if id == "" {
		return nil, fmt.Errorf("message ID is required")
	}

	msg, err := c.svc.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	return parseMessage(msg), nil
}

// Send sends a plain-text message. inReplyTo and references are optional
// RFC 2822 threading headers for replies.
func (c *Client) Send(ctx context.Context, to, subject, body, inReplyTo, references string) (*SendResult, error) {
	if to == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if body == "" {
		return nil, fmt.Errorf("body is required")
	}

	raw := buildMIMEMessage(to, subject, body, inReplyTo, references)
	sent, err := c.svc.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return &SendResult{
		ID:       sent.Id,
		ThreadID: sent.ThreadId,
		Status:   "sent",
	}, nil
}

// Trash moves a message to the trash. Messages are never deleted
// permanently through this API.
func (c *Client) Trash(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("message ID is required")
	}

	if _, err := c.svc.Messages.Trash("me", id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to trash message %s: %w", id, err)
	}
	return nil
}

// buildMIMEMessage assembles an RFC 2822 plain-text message.
func buildMIMEMessage(to, subject, body, inReplyTo, references string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", inReplyTo)
	}
	if references != "" {
		fmt.Fprintf(&b, "References: %s\r\n", references)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

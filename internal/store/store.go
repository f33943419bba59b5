package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// User is the identity record for an authenticated Google account.
// It is keyed by the stable Google subject identifier and carries the
// upstream OAuth credentials needed for Gmail API calls on the user's
// behalf. A new login overwrites the previous tokens, so a user holds at
// most one live refresh token.
type User struct {
	// ID is the Google subject identifier ("sub" claim).
	ID      string `bson:"_id" json:"id"`
	Email   string `bson:"email" json:"email"`
	Name    string `bson:"name" json:"name"`
	Picture string `bson:"picture,omitempty" json:"picture,omitempty"`

	// Upstream OAuth credentials. Never serialized to JSON.
	AccessToken  string    `bson:"access_token" json:"-"`
	RefreshToken string    `bson:"refresh_token" json:"-"`
	TokenExpiry  time.Time `bson:"token_expiry" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Message is a single turn in an assistant conversation.
type Message struct {
	Role      string    `bson:"role" json:"role"` // "user" or "assistant"
	Content   string    `bson:"content" json:"content"`
	Action    string    `bson:"action,omitempty" json:"action,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Conversation is an append-only log of message turns for one user.
type Conversation struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Messages  []Message `bson:"messages" json:"messages"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// UserStore persists user identity records and their upstream tokens.
type UserStore interface {
	// UpsertUser creates the user if the ID is unseen, otherwise replaces
	// profile fields and tokens. CreatedAt is preserved on update.
	UpsertUser(ctx context.Context, user *User) error

	// GetUser returns the user by Google subject ID, or ErrNotFound.
	GetUser(ctx context.Context, id string) (*User, error)

	// UpdateTokens replaces the stored access token and expiry for the
	// user. Used by the token refresher; the refresh token is untouched.
	UpdateTokens(ctx context.Context, id, accessToken string, expiry time.Time) error
}

// ConversationStore persists assistant conversations.
type ConversationStore interface {
	// GetConversation returns the conversation by ID, scoped to the user,
	// or ErrNotFound.
	GetConversation(ctx context.Context, userID, id string) (*Conversation, error)

	// SaveConversation inserts or replaces the conversation.
	SaveConversation(ctx context.Context, conv *Conversation) error

	// ListConversations returns the user's conversations, most recently
	// updated first, up to limit.
	ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error)
}

// Store combines the persistence interfaces with lifecycle management.
type Store interface {
	UserStore
	ConversationStore

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close(ctx context.Context) error
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation. It mirrors the
// semantics of MongoStore and backs the test suites of packages that
// depend on storage.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // Google subject ID -> user
	conversations map[string]*Conversation // conversation ID -> conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
	}
}

// UpsertUser creates or replaces the user record.
func (s *MemoryStore) UpsertUser(_ context.Context, user *User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user with Google subject ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	user.UpdatedAt = now
	if existing, ok := s.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}

	clone := *user
	s.users[user.ID] = &clone
	return nil
}

// GetUser returns the user by Google subject ID.
func (s *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

// UpdateTokens replaces the stored access token and expiry.
func (s *MemoryStore) UpdateTokens(_ context.Context, id, accessToken string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.AccessToken = accessToken
	user.TokenExpiry = expiry
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// GetConversation returns the conversation by ID, scoped to the user.
func (s *MemoryStore) GetConversation(_ context.Context, userID, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, ErrNotFound
	}
	clone := *conv
	clone.Messages = append([]Message(nil), conv.Messages...)
	return &clone, nil
}

// SaveConversation inserts or replaces the conversation.
func (s *MemoryStore) SaveConversation(_ context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation with ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv.UpdatedAt = time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	clone := *conv
	clone.Messages = append([]Message(nil), conv.Messages...)
	s.conversations[conv.ID] = &clone
	return nil
}

// ListConversations returns the user's conversations, most recent first.
func (s *MemoryStore) ListConversations(_ context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []*Conversation
	for _, conv := range s.conversations {
		if conv.UserID != userID {
			continue
		}
		clone := *conv
		clone.Messages = append([]Message(nil), conv.Messages...)
		convs = append(convs, &clone)
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close(context.Context) error { return nil }

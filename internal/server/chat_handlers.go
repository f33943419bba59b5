package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mailwise/mailwise/internal/ai"
	"github.com/mailwise/mailwise/internal/auth"
	"github.com/mailwise/mailwise/internal/gmail"
	"github.com/mailwise/mailwise/internal/instrumentation"
	"github.com/mailwise/mailwise/internal/logging"
	"github.com/mailwise/mailwise/internal/store"
)

// chatDeleteLimit caps how many messages one assistant command may
// trash.
const chatDeleteLimit = 10

type chatMessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatMessageResponse struct {
	Response       string         `json:"response"`
	Action         string         `json:"action"`
	Data           map[string]any `json:"data,omitempty"`
	Confidence     float64        `json:"confidence"`
	ConversationID string         `json:"conversation_id"`
}

// handleChatMessage parses a natural-language message, executes the
// resolved action against Gmail, and persists the conversation turn.
//
// POST /api/v1/chat/message
func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	ctx := r.Context()
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing_credentials", "authentication required")
		return
	}

	conv := s.loadConversation(ctx, user.ID, req.ConversationID)

	start := time.Now()
	cmd, err := s.assistant.ParseCommand(ctx, req.Message)
	s.recordAssistant(r, instrumentation.AssistantParse, user, err, start)
	if err != nil {
		s.logger.Error("command parse failed", logging.Err(err))
		respondError(w, http.StatusBadGateway, "assistant_error", "failed to interpret message")
		return
	}

	response, data, execErr := s.executeCommand(w, r, user, cmd, req.Message, conv.Messages)
	if execErr != nil {
		// The handler already wrote an auth or upstream error.
		return
	}

	now := time.Now().UTC()
	conv.Messages = append(conv.Messages,
		store.Message{Role: "user", Content: req.Message, Timestamp: now},
		store.Message{Role: "assistant", Content: response, Action: cmd.Action, Timestamp: now},
	)
	conv.UpdatedAt = now

	if err := s.store.SaveConversation(ctx, conv); err != nil {
		// The action already ran; losing one history turn is not worth
		// failing the request over.
		s.logger.Error("conversation save failed", logging.Err(err), logging.UserHash(user.Email))
	}

	respondJSON(w, http.StatusOK, chatMessageResponse{
		Response:       response,
		Action:         cmd.Action,
		Data:           data,
		Confidence:     cmd.Confidence,
		ConversationID: conv.ID,
	})
}

// loadConversation returns the user's existing conversation or starts
// a fresh one. An unknown ID silently starts a new conversation.
func (s *Server) loadConversation(ctx context.Context, userID, id string) *store.Conversation {
	if id != "" {
		conv, err := s.store.GetConversation(ctx, userID, id)
		if err == nil {
			return conv
		}
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("conversation lookup failed", logging.Err(err))
		}
	}

	now := time.Now().UTC()
	return &store.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// executeCommand runs the parsed action. A non-nil error means the
// response has already been written (auth failure, upstream failure);
// otherwise the returned text and data describe the outcome.
func (s *Server) executeCommand(w http.ResponseWriter, r *http.Request, user *store.User, cmd *ai.Command, message string, history []store.Message) (string, map[string]any, error) {
	ctx := r.Context()

	switch cmd.Action {
	case ai.ActionRead:
		client, _, ok := s.gmailClientFor(w, r)
		if !ok {
			return "", nil, errResponseWritten
		}

		count := paramCount(cmd.Parameters["count"], defaultEmailCount, maxEmailCount)
		emails, err := client.Recent(ctx, count)
		if err != nil {
			respondUpstreamError(w, err)
			return "", nil, errResponseWritten
		}
		return fmt.Sprintf("Here are your %d most recent emails.", len(emails)),
			map[string]any{"emails": emails}, nil

	case ai.ActionSearch:
		query := cmd.Parameters["query"]
		if query == "" {
			return "What should I search for? Try something like \"find emails about invoices\".", nil, nil
		}

		client, _, ok := s.gmailClientFor(w, r)
		if !ok {
			return "", nil, errResponseWritten
		}

		emails, err := client.Search(ctx, query, defaultSearchMax)
		if err != nil {
			respondUpstreamError(w, err)
			return "", nil, errResponseWritten
		}
		return fmt.Sprintf("Found %d emails matching %q.", len(emails), query),
			map[string]any{"emails": emails}, nil

	case ai.ActionDelete:
		query := cmd.Parameters["query"]
		if query == "" {
			return "Which emails should I delete? Tell me a sender or a topic.", nil, nil
		}

		client, _, ok := s.gmailClientFor(w, r)
		if !ok {
			return "", nil, errResponseWritten
		}

		trashed, err := s.trashMatching(ctx, client, user, query)
		if err != nil {
			respondUpstreamError(w, err)
			return "", nil, errResponseWritten
		}
		if len(trashed) == 0 {
			return fmt.Sprintf("No emails matched %q, nothing was deleted.", query), nil, nil
		}
		return fmt.Sprintf("Moved %d emails to trash.", len(trashed)),
			map[string]any{"trashed_ids": trashed}, nil

	case ai.ActionSend:
		to, subject, body := cmd.Parameters["to"], cmd.Parameters["subject"], cmd.Parameters["body"]
		if missing := missingSendFields(to, subject, body); missing != "" {
			return "I need a bit more to send that email: " + missing + ".", nil, nil
		}

		client, _, ok := s.gmailClientFor(w, r)
		if !ok {
			return "", nil, errResponseWritten
		}

		action := instrumentation.NewUserAction("chat_send_email").
			WithUser(user.Email).
			WithService(instrumentation.ServiceGmail, instrumentation.OperationSend)

		result, err := client.Send(ctx, to, subject, body, "", "")
		if err != nil {
			s.audit.LogUserAction(action.CompleteWithError(err))
			respondUpstreamError(w, err)
			return "", nil, errResponseWritten
		}
		s.audit.LogUserAction(action.WithResource(result.ID).CompleteSuccess())

		return fmt.Sprintf("Email sent to %s.", to),
			map[string]any{"result": result}, nil

	case ai.ActionSummarize:
		client, _, ok := s.gmailClientFor(w, r)
		if !ok {
			return "", nil, errResponseWritten
		}

		emails, err := client.Recent(ctx, defaultSearchMax)
		if err != nil {
			respondUpstreamError(w, err)
			return "", nil, errResponseWritten
		}

		start := time.Now()
		digest, err := s.assistant.Digest(ctx, emails)
		s.recordAssistant(r, instrumentation.AssistantDigest, user, err, start)
		if err != nil {
			respondError(w, http.StatusBadGateway, "assistant_error", "failed to summarize inbox")
			return "", nil, errResponseWritten
		}
		return digest, map[string]any{"total": len(emails)}, nil

	default: // ai.ActionChat
		start := time.Now()
		reply, err := s.assistant.Chat(ctx, message, history)
		s.recordAssistant(r, instrumentation.AssistantChat, user, err, start)
		if err != nil {
			respondError(w, http.StatusBadGateway, "assistant_error", "failed to generate response")
			return "", nil, errResponseWritten
		}
		return reply, nil, nil
	}
}

// errResponseWritten signals that executeCommand already wrote the
// HTTP response.
var errResponseWritten = errors.New("response already written")

// trashMatching searches for messages and trashes up to
// chatDeleteLimit of them, recording each in the audit log.
func (s *Server) trashMatching(ctx context.Context, client *gmail.Client, user *store.User, query string) ([]string, error) {
	emails, err := client.Search(ctx, query, chatDeleteLimit)
	if err != nil {
		return nil, err
	}

	trashed := make([]string, 0, len(emails))
	for _, e := range emails {
		action := instrumentation.NewUserAction("chat_trash_email").
			WithUser(user.Email).
			WithService(instrumentation.ServiceGmail, instrumentation.OperationTrash).
			WithResource(e.ID)

		if err := client.Trash(ctx, e.ID); err != nil {
			s.audit.LogUserAction(action.CompleteWithError(err))
			return trashed, err
		}
		s.audit.LogUserAction(action.CompleteSuccess())
		trashed = append(trashed, e.ID)
	}
	return trashed, nil
}

func missingSendFields(to, subject, body string) string {
	var missing []string
	if to == "" {
		missing = append(missing, "a recipient")
	}
	if subject == "" {
		missing = append(missing, "a subject")
	}
	if body == "" {
		missing = append(missing, "the message body")
	}
	return strings.Join(missing, ", ")
}

// paramCount parses a numeric assistant parameter with bounds.
func paramCount(raw string, def, max int) int64 {
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

// handleChatHistory returns the user's recent conversations, newest
// first.
//
// GET /api/v1/chat/history
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing_credentials", "authentication required")
		return
	}

	conversations, err := s.store.ListConversations(ctx, user.ID, 20)
	if err != nil {
		s.logger.Error("conversation list failed", logging.Err(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

type generateReplyRequest struct {
	EmailID string `json:"email_id"`
}

// handleGenerateReply drafts a reply for a specific message. The user
// edits and sends it through /emails/send.
//
// POST /api/v1/chat/generate-reply
func (s *Server) handleGenerateReply(w http.ResponseWriter, r *http.Request) {
	var req generateReplyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	if req.EmailID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "email_id is required")
		return
	}

	client, user, ok := s.gmailClientFor(w, r)
	if !ok {
		return
	}

	email, err := client.Get(r.Context(), req.EmailID)
	if err != nil {
		respondUpstreamError(w, err)
		return
	}

	start := time.Now()
	reply, err := s.assistant.GenerateReply(r.Context(), email)
	s.recordAssistant(r, instrumentation.AssistantReply, user, err, start)
	if err != nil {
		s.logger.Error("reply generation failed", logging.Err(err))
		respondError(w, http.StatusBadGateway, "assistant_error", "failed to generate reply")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"suggested_reply": reply,
		"to":              email.SenderEmail,
		"subject":         replySubject(email.Subject),
	})
}

// replySubject prefixes "Re:" unless the subject already carries one.
func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// handleSuggestions proposes follow-up actions based on the inbox.
//
// GET /api/v1/chat/suggestions
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
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
	suggestions, err := s.assistant.Suggestions(r.Context(), emails)
	s.recordAssistant(r, instrumentation.AssistantSuggest, user, err, start)
	if err != nil {
		s.logger.Error("suggestions failed", logging.Err(err))
		respondError(w, http.StatusBadGateway, "assistant_error", "failed to generate suggestions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailwise/mailwise/internal/gmail"
	"github.com/mailwise/mailwise/internal/logging"
	"github.com/mailwise/mailwise/internal/store"
)

// Actions the assistant can resolve a message to. ActionChat is the
// fallback when the message is conversation rather than a command.
const (
	ActionRead      = "read"
	ActionSearch    = "search"
	ActionSend      = "send"
	ActionDelete    = "delete"
	ActionSummarize = "summarize"
	ActionChat      = "chat"
)

// Categories returned by Categorize, in display order.
var Categories = []string{"important", "social", "promotions", "updates", "spam"}

// Command is a parsed natural-language instruction.
type Command struct {
	Action     string            `json:"action"`
	Parameters map[string]string `json:"parameters"`
	Confidence float64           `json:"confidence"`
}

// Generator produces a text completion for a prompt. Implemented by
// GeminiGenerator; tests substitute a canned implementation.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Assistant wraps a Generator with the prompt and parsing logic for
// each assistant operation.
type Assistant struct {
	gen    Generator
	logger *slog.Logger
}

func NewAssistant(gen Generator, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		gen:    gen,
		logger: logger.With(logging.Component("assistant")),
	}
}

const parseCommandPrompt = `You are an email assistant command parser.
Classify the user's message into exactly one action and extract its
parameters. Respond with JSON only, no prose, in this shape:
{"action": "...", "parameters": {"...": "..."}, "confidence": 0.0}

Actions and their parameters:
- "read": show recent emails. Parameters: "count" (number as string, default "10").
- "search": find emails. Parameters: "query" (Gmail search query; use from:, subject: operators where the message implies them).
- "send": compose an email. Parameters: "to", "subject", "body" (any that can be extracted).
- "delete": remove emails. Parameters: "query" (search query identifying them).
- "summarize": summarize the inbox. No parameters.
- "chat": anything that is not an email command.

Confidence is between 0 and 1.

Examples:
"Show me my last 5 emails" -> {"action":"read","parameters":{"count":"5"},"confidence":0.95}
"Find emails about project deadline" -> {"action":"search","parameters":{"query":"project deadline"},"confidence":0.9}
"Delete emails from john@example.com" -> {"action":"delete","parameters":{"query":"from:john@example.com"},"confidence":0.9}

User message: %q`

// ParseCommand resolves a natural-language message into a Command.
// When the model output cannot be parsed or names an unknown action,
// the message is treated as plain conversation with zero confidence.
func (a *Assistant) ParseCommand(ctx context.Context, message string) (*Command, error) {
	out, err := a.gen.Generate(ctx, fmt.Sprintf(parseCommandPrompt, message))
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	cmd := parseCommandJSON(out)
	if cmd == nil {
		a.logger.DebugContext(ctx, "command parse fell back to chat",
			logging.Operation("parse_command"))
		cmd = &Command{Action: ActionChat, Parameters: map[string]string{}}
	}
	return cmd, nil
}

// parseCommandJSON extracts a Command from model output, tolerating
// markdown code fences. Returns nil when the output is unusable.
func parseCommandJSON(out string) *Command {
	var cmd Command
	if err := json.Unmarshal([]byte(stripCodeFence(out)), &cmd); err != nil {
		return nil
	}

	switch cmd.Action {
	case ActionRead, ActionSearch, ActionSend, ActionDelete, ActionSummarize, ActionChat:
	default:
		return nil
	}

	if cmd.Parameters == nil {
		cmd.Parameters = map[string]string{}
	}
	if cmd.Confidence < 0 {
		cmd.Confidence = 0
	}
	if cmd.Confidence > 1 {
		cmd.Confidence = 1
	}
	return &cmd
}

const generateReplyPrompt = `Write a reply to the following email. Match
its tone and formality, keep it concise, and do not invent facts the
original does not contain. Respond with the reply body only, no subject
line and no commentary.

From: %s
Subject: %s

%s`

// GenerateReply drafts a reply body for the given email.
func (a *Assistant) GenerateReply(ctx context.Context, email *gmail.Email) (string, error) {
	out, err := a.gen.Generate(ctx, fmt.Sprintf(generateReplyPrompt, email.From, email.Subject, email.Body))
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	return strings.TrimSpace(stripCodeFence(out)), nil
}

const categorizePrompt = `Categorize each email below into exactly one of:
important, social, promotions, updates, spam. Respond with JSON only,
mapping category names to arrays of email IDs, for example
{"important":["id1"],"social":[],"promotions":["id2"],"updates":[],"spam":[]}.

Emails:
%s`

// Categorize buckets the emails into the fixed category set. Every
// input email lands in exactly one bucket; anything the model misses
// or invents is placed under "updates".
func (a *Assistant) Categorize(ctx context.Context, emails []*gmail.Email) (map[string][]string, error) {
	result := make(map[string][]string, len(Categories))
	for _, c := range Categories {
		result[c] = []string{}
	}
	if len(emails) == 0 {
		return result, nil
	}

	out, err := a.gen.Generate(ctx, fmt.Sprintf(categorizePrompt, summarizeEmails(emails)))
	if err != nil {
		return nil, fmt.Errorf("failed to categorize emails: %w", err)
	}

	var raw map[string][]string
	if err := json.Unmarshal([]byte(stripCodeFence(out)), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse categorization output: %w", err)
	}

	known := make(map[string]bool, len(emails))
	for _, e := range emails {
		known[e.ID] = true
	}

	seen := make(map[string]bool, len(emails))
	for _, c := range Categories {
		for _, id := range raw[c] {
			if known[id] && !seen[id] {
				result[c] = append(result[c], id)
				seen[id] = true
			}
		}
	}
	for _, e := range emails {
		if !seen[e.ID] {
			result["updates"] = append(result["updates"], e.ID)
		}
	}
	return result, nil
}

const digestPrompt = `Write a short digest of the inbox below: the
themes, anything urgent or requiring action, and what can be ignored.
Plain text, a few sentences, no markdown.

Emails:
%s`

// Digest produces a prose summary of the given emails.
func (a *Assistant) Digest(ctx context.Context, emails []*gmail.Email) (string, error) {
	if len(emails) == 0 {
		return "Your inbox is empty.", nil
	}

	out, err := a.gen.Generate(ctx, fmt.Sprintf(digestPrompt, summarizeEmails(emails)))
	if err != nil {
		return "", fmt.Errorf("failed to generate digest: %w", err)
	}
	return strings.TrimSpace(stripCodeFence(out)), nil
}

const suggestionsPrompt = `Based on the inbox below, suggest up to three
short actions the user might want to take, such as replying to an
urgent message or clearing promotions. Respond with a JSON array of
strings only, for example ["Reply to ...", "Delete ..."].

Emails:
%s`

// Suggestions proposes follow-up actions based on the inbox contents.
func (a *Assistant) Suggestions(ctx context.Context, emails []*gmail.Email) ([]string, error) {
	if len(emails) == 0 {
		return []string{}, nil
	}

	out, err := a.gen.Generate(ctx, fmt.Sprintf(suggestionsPrompt, summarizeEmails(emails)))
	if err != nil {
		return nil, fmt.Errorf("failed to generate suggestions: %w", err)
	}

	var suggestions []string
	if err := json.Unmarshal([]byte(stripCodeFence(out)), &suggestions); err != nil {
		return nil, fmt.Errorf("failed to parse suggestions output: %w", err)
	}
	return suggestions, nil
}

const chatPrompt = `You are a helpful email assistant. Answer the user's
message conversationally and briefly. If they seem to want an email
action, tell them what to ask for (for example "show my recent emails"
or "search for ...").

%sUser: %s`

// Chat answers a conversational message, with recent history for
// context.
func (a *Assistant) Chat(ctx context.Context, message string, history []store.Message) (string, error) {
	var b strings.Builder
	// Only the tail of the conversation is carried; older turns add
	// tokens without adding context.
	const maxTurns = 10
	start := 0
	if len(history) > maxTurns {
		start = len(history) - maxTurns
	}
	for _, m := range history[start:] {
		role := "User"
		if m.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}

	out, err := a.gen.Generate(ctx, fmt.Sprintf(chatPrompt, b.String(), message))
	if err != nil {
		return "", fmt.Errorf("failed to generate chat response: %w", err)
	}
	return strings.TrimSpace(stripCodeFence(out)), nil
}

// summarizeEmails renders one line per email for inclusion in prompts.
// Bodies are omitted; sender, subject and snippet are enough signal.
func summarizeEmails(emails []*gmail.Email) string {
	var b strings.Builder
	for _, e := range emails {
		fmt.Fprintf(&b, "- id=%s from=%s subject=%q snippet=%q\n", e.ID, e.From, e.Subject, e.Snippet)
	}
	return b.String()
}

// stripCodeFence removes a surrounding markdown code fence, which
// models emit even when asked for raw JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

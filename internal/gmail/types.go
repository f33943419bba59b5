package gmail

// Email is a Gmail message normalized for the API surface: headers
// extracted, body decoded from the MIME payload.
type Email struct {
	ID          string   `json:"id"`
	ThreadID    string   `json:"thread_id,omitempty"`
	MessageID   string   `json:"message_id,omitempty"` // RFC 2822 Message-ID header
	Subject     string   `json:"subject"`
	From        string   `json:"from"`
	SenderName  string   `json:"sender_name,omitempty"`
	SenderEmail string   `json:"sender_email,omitempty"`
	To          string   `json:"to,omitempty"`
	Date        string   `json:"date,omitempty"`
	Snippet     string   `json:"snippet,omitempty"`
	Body        string   `json:"body,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// IsUnread reports whether the message carries the UNREAD label.
func (e *Email) IsUnread() bool {
	for _, label := range e.Labels {
		if label == "UNREAD" {
			return true
		}
	}
	return false
}

// SendResult describes a successfully sent message.
type SendResult struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
	Status   string `json:"status"`
}

// Package chat runs guarded, retrieval-backed support conversations and
// persists them per user.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MaxQuestionLen is the longest question accepted from a user, in characters.
const MaxQuestionLen = 2000

// maxTitleLen caps the session title derived from the first question.
const maxTitleLen = 100

// DefaultChannel is assumed when a chat request names no channel.
const DefaultChannel = "web"

// Confidence values attached to assistant replies. Replies grounded in a
// retrieved article carry ConfidenceGrounded; canned replies carry
// ConfidenceNone.
const (
	ConfidenceGrounded = 0.85
	ConfidenceNone     = 0.0
)

// Session is one conversation thread owned by a user.
type Session struct {
	ID               uuid.UUID  `json:"id"`
	UserID           string     `json:"user_id"`
	Title            string     `json:"title"`
	Channel          string     `json:"channel"`
	Escalated        bool       `json:"escalated"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Citation points an assistant reply at the help-centre article it came from.
type Citation struct {
	ArticleID uuid.UUID `json:"article_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Excerpt   string    `json:"excerpt"`
	Score     float64   `json:"score"`
}

// Message is one entry in a session transcript. PolicyName is set on
// assistant messages that replaced a guardrail-blocked answer.
type Message struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  uuid.UUID  `json:"session_id"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Citations  []Citation `json:"citations,omitempty"`
	PolicyName string     `json:"policy_name,omitempty"`
	Confidence float64    `json:"confidence"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Reply is the assistant's answer for one turn. MessageID identifies the
// stored assistant message; it is nil when the turn stored nothing (already
// escalated sessions).
type Reply struct {
	SessionID          uuid.UUID  `json:"session_id"`
	MessageID          *uuid.UUID `json:"message_id,omitempty"`
	Message            string     `json:"message"`
	Citations          []Citation `json:"citations,omitempty"`
	Confidence         float64    `json:"confidence"`
	RequiresEscalation bool       `json:"requires_escalation"`
	EscalationReason   string     `json:"escalation_reason,omitempty"`
	PolicyName         string     `json:"policy_name,omitempty"`
}

// Turn bundles the two messages of one exchange so the store can commit them
// atomically, optionally escalating the session in the same transaction.
type Turn struct {
	SessionID        uuid.UUID
	UserMessage      Message
	AssistantMessage Message
	Escalate         bool
	EscalationReason string
}

// sessionTitle derives a session title from the first question, truncated to
// maxTitleLen characters.
func sessionTitle(question string) string {
	runes := []rune(question)
	if len(runes) <= maxTitleLen {
		return question
	}
	return string(runes[:maxTitleLen])
}

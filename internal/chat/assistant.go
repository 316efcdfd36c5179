package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mirrortrade/assistant/internal/guardrail"
	"github.com/mirrortrade/assistant/internal/log"
	"github.com/mirrortrade/assistant/internal/rag"
)

// Canned replies used when the assistant cannot answer from the knowledge
// base.
const (
	escalatedNotice = "This conversation is with our support team now. An agent will reply here shortly."
	disabledNotice  = "The assistant is currently unavailable. I've passed this conversation to our support team."
	noAnswerNotice  = "I couldn't find an answer to that in our help centre, so I've passed this conversation to our support team."
	unsafeNotice    = "I wasn't able to give a safe answer to that, so I've passed this conversation to our support team."
)

// noAnswerReason is the escalation reason recorded when retrieval comes back
// empty.
const noAnswerReason = "No relevant KB articles found"

// Retrieval shape of one turn: up to retrieveTopK candidates come back from
// the index, and the best maxCitations of them feed the answer and its
// citations.
const (
	retrieveTopK = 5
	maxCitations = 3
)

// Paging bounds applied to history and session listings.
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// SessionStore is the persistence surface the assistant needs.
type SessionStore interface {
	CreateSession(ctx context.Context, userID, title, channel string) (*Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	RecordTurn(ctx context.Context, turn Turn) error
	MarkEscalated(ctx context.Context, id uuid.UUID, reason string) error
	Sessions(ctx context.Context, userID string, limit, offset int) ([]Session, int, error)
	Messages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]Message, error)
	AssistantEnabled(ctx context.Context) (bool, error)
}

// Retriever searches the article index.
type Retriever interface {
	SearchSimilar(ctx context.Context, query string, opts ...rag.SearchOption) ([]rag.Match, error)
}

// Guard runs the policy checks around a turn.
type Guard interface {
	CheckInput(text string) guardrail.Result
	SanitizeResponse(text string) guardrail.Result
}

// Assistant orchestrates one support conversation turn: input guardrails,
// session resolution, retrieval, answer generation, output guardrails, and
// atomic persistence of the exchange.
type Assistant struct {
	store      SessionStore
	retriever  Retriever
	guard      Guard
	generator  ResponseGenerator
	logger     log.Logger
	searchOpts []rag.SearchOption
}

// Option adjusts an Assistant at construction time.
type Option func(*Assistant)

// WithSearchOptions replaces the retrieval options applied to every turn.
func WithSearchOptions(opts ...rag.SearchOption) Option {
	return func(a *Assistant) { a.searchOpts = opts }
}

// NewAssistant wires an Assistant from its dependencies. A nil generator
// falls back to the template generator.
func NewAssistant(store SessionStore, retriever Retriever, guard Guard, generator ResponseGenerator, logger log.Logger, opts ...Option) *Assistant {
	if generator == nil {
		generator = NewTemplateGenerator()
	}
	a := &Assistant{
		store:      store,
		retriever:  retriever,
		guard:      guard,
		generator:  generator,
		logger:     logger.With("component", "chat.assistant"),
		searchOpts: []rag.SearchOption{rag.WithTopK(retrieveTopK)},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Chat handles one turn for the user. A nil sessionID opens a new session;
// otherwise the session must exist and belong to the user.
//
// Questions that trip an input guardrail fail with InvalidInputError before
// any session is touched. Output guardrail blocks are not errors: the turn
// is recorded with a fixed notice and the session escalates. A session
// already escalated answers with a fixed notice and persists nothing.
func (a *Assistant) Chat(ctx context.Context, userID string, sessionID *uuid.UUID, question, channel string) (*Reply, error) {
	if strings.TrimSpace(question) == "" {
		return nil, &InvalidInputError{Reason: "question is empty"}
	}
	if len([]rune(question)) > MaxQuestionLen {
		return nil, &InvalidInputError{Reason: fmt.Sprintf("question exceeds %d characters", MaxQuestionLen)}
	}
	if res := a.guard.CheckInput(question); res.Blocked {
		a.logger.Warn("input blocked",
			"user_id", userID, "policy", res.Policy, "reason", res.Reason)
		return nil, &InvalidInputError{Policy: res.Policy, Reason: res.Reason}
	}

	session, err := a.resolveSession(ctx, userID, sessionID, question, channel)
	if err != nil {
		return nil, err
	}

	// A session already with a human stays there. Nothing is stored and no
	// new escalation is signalled; the agent already has the thread.
	if session.Escalated {
		return &Reply{
			SessionID:  session.ID,
			Message:    escalatedNotice,
			Confidence: ConfidenceNone,
		}, nil
	}

	enabled, err := a.store.AssistantEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return a.commitTurn(ctx, session, question,
			Turn{Escalate: true, EscalationReason: "assistant disabled"},
			Message{Role: RoleAssistant, Content: disabledNotice, Confidence: ConfidenceNone})
	}

	matches, err := a.retriever.SearchSimilar(ctx, question, a.searchOpts...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(matches) == 0 {
		return a.commitTurn(ctx, session, question,
			Turn{Escalate: true, EscalationReason: noAnswerReason},
			Message{Role: RoleAssistant, Content: noAnswerNotice, Confidence: ConfidenceNone})
	}

	cited := matches
	if len(cited) > maxCitations {
		cited = cited[:maxCitations]
	}

	answer, err := a.generator.Generate(ctx, question, cited)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	res := a.guard.SanitizeResponse(answer)
	if res.Blocked {
		a.logger.Warn("output blocked",
			"session_id", session.ID, "policy", res.Policy, "reason", res.Reason)
		return a.commitTurn(ctx, session, question,
			Turn{Escalate: true, EscalationReason: res.Policy},
			Message{Role: RoleAssistant, Content: unsafeNotice, PolicyName: res.Policy, Confidence: ConfidenceGrounded})
	}

	citations := make([]Citation, 0, len(cited))
	for _, m := range cited {
		citations = append(citations, Citation{
			ArticleID: m.ArticleID,
			Title:     m.Title,
			URL:       m.URL,
			Excerpt:   m.Excerpt,
			Score:     m.Score,
		})
	}

	return a.commitTurn(ctx, session, question, Turn{}, Message{
		Role:       RoleAssistant,
		Content:    res.Redacted,
		Citations:  citations,
		Confidence: ConfidenceGrounded,
	})
}

// EscalateToHuman flags the session for a human agent. Escalating twice is
// fine; the latest reason and timestamp win.
func (a *Assistant) EscalateToHuman(ctx context.Context, userID string, sessionID uuid.UUID, reason string) (*Session, error) {
	if _, err := a.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "user requested a human agent"
	}
	if err := a.store.MarkEscalated(ctx, sessionID, reason); err != nil {
		return nil, err
	}
	return a.ownedSession(ctx, userID, sessionID)
}

// SessionHistory returns one of the user's sessions with a page of its
// transcript.
func (a *Assistant) SessionHistory(ctx context.Context, userID string, sessionID uuid.UUID, limit, offset int) (*Session, []Message, error) {
	session, err := a.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	limit, offset = clampPage(limit, offset)
	messages, err := a.store.Messages(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	return session, messages, nil
}

// ListSessions returns a page of the user's sessions plus the total count.
func (a *Assistant) ListSessions(ctx context.Context, userID string, limit, offset int) ([]Session, int, error) {
	limit, offset = clampPage(limit, offset)
	return a.store.Sessions(ctx, userID, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// resolveSession opens a new session or loads and ownership-checks an
// existing one.
func (a *Assistant) resolveSession(ctx context.Context, userID string, sessionID *uuid.UUID, question, channel string) (*Session, error) {
	if sessionID == nil {
		if channel == "" {
			channel = DefaultChannel
		}
		return a.store.CreateSession(ctx, userID, sessionTitle(question), channel)
	}
	return a.ownedSession(ctx, userID, *sessionID)
}

// ownedSession loads a session and hides it behind ErrNotFound when it
// belongs to someone else.
func (a *Assistant) ownedSession(ctx context.Context, userID string, sessionID uuid.UUID) (*Session, error) {
	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrNotFound
	}
	return session, nil
}

// commitTurn assigns message IDs, records the exchange atomically, and
// builds the reply from the assistant half.
func (a *Assistant) commitTurn(ctx context.Context, session *Session, question string, turn Turn, assistant Message) (*Reply, error) {
	turn.SessionID = session.ID
	turn.UserMessage = Message{ID: uuid.New(), Role: RoleUser, Content: question}
	assistant.ID = uuid.New()
	turn.AssistantMessage = assistant
	if err := a.store.RecordTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("record turn: %w", err)
	}

	return &Reply{
		SessionID:          session.ID,
		MessageID:          &assistant.ID,
		Message:            assistant.Content,
		Citations:          assistant.Citations,
		Confidence:         assistant.Confidence,
		RequiresEscalation: turn.Escalate,
		EscalationReason:   turn.EscalationReason,
		PolicyName:         assistant.PolicyName,
	}, nil
}

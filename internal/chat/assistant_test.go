package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mirrortrade/assistant/internal/guardrail"
	"github.com/mirrortrade/assistant/internal/log"
	"github.com/mirrortrade/assistant/internal/rag"
)

// ============================================================
// Mocks
// ============================================================

type escalation struct {
	id     uuid.UUID
	reason string
}

type mockSessionStore struct {
	sessions map[uuid.UUID]*Session
	messages map[uuid.UUID][]Message
	enabled  bool

	turns       []Turn
	escalations []escalation
	recordErr   error

	lastLimit  int
	lastOffset int
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{
		sessions: make(map[uuid.UUID]*Session),
		messages: make(map[uuid.UUID][]Message),
		enabled:  true,
	}
}

func (m *mockSessionStore) CreateSession(_ context.Context, userID, title, channel string) (*Session, error) {
	s := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Channel:   channel,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *mockSessionStore) GetSession(_ context.Context, id uuid.UUID) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *mockSessionStore) RecordTurn(_ context.Context, turn Turn) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.turns = append(m.turns, turn)
	m.messages[turn.SessionID] = append(m.messages[turn.SessionID],
		turn.UserMessage, turn.AssistantMessage)
	if turn.Escalate {
		if s, ok := m.sessions[turn.SessionID]; ok {
			s.Escalated = true
			s.EscalationReason = turn.EscalationReason
		}
	}
	return nil
}

func (m *mockSessionStore) MarkEscalated(_ context.Context, id uuid.UUID, reason string) error {
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	m.escalations = append(m.escalations, escalation{id: id, reason: reason})
	s.Escalated = true
	s.EscalationReason = reason
	now := time.Now()
	s.EscalatedAt = &now
	return nil
}

func (m *mockSessionStore) Sessions(_ context.Context, userID string, limit, offset int) ([]Session, int, error) {
	m.lastLimit, m.lastOffset = limit, offset
	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, len(out), nil
}

func (m *mockSessionStore) Messages(_ context.Context, sessionID uuid.UUID, limit, offset int) ([]Message, error) {
	m.lastLimit, m.lastOffset = limit, offset
	return m.messages[sessionID], nil
}

func (m *mockSessionStore) AssistantEnabled(context.Context) (bool, error) {
	return m.enabled, nil
}

type mockRetriever struct {
	matches []rag.Match
	err     error
	calls   int
}

func (m *mockRetriever) SearchSimilar(_ context.Context, _ string, _ ...rag.SearchOption) ([]rag.Match, error) {
	m.calls++
	return m.matches, m.err
}

type fixedGenerator struct {
	text    string
	err     error
	matches []rag.Match
}

func (g *fixedGenerator) Generate(_ context.Context, _ string, matches []rag.Match) (string, error) {
	g.matches = matches
	return g.text, g.err
}

func helpMatches() []rag.Match {
	return []rag.Match{
		{
			ArticleID: uuid.New(),
			Title:     "Reset your password",
			URL:       "/help/articles/reset-password",
			Excerpt:   "Open Settings, choose Security, then press Reset password.",
			Score:     0.82,
			Locale:    "en-GB",
		},
		{
			ArticleID: uuid.New(),
			Title:     "Account security",
			URL:       "/help/articles/account-security",
			Excerpt:   "Keep your account safe.",
			Score:     0.41,
			Locale:    "en-GB",
		},
	}
}

func manyMatches(n int) []rag.Match {
	out := make([]rag.Match, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, rag.Match{
			ArticleID: uuid.New(),
			Title:     "Article " + string(rune('A'+i)),
			URL:       "/help/articles/a",
			Excerpt:   "Excerpt.",
			Score:     0.9 - float64(i)*0.1,
			Locale:    "en-GB",
		})
	}
	return out
}

func newTestAssistant(store *mockSessionStore, retriever *mockRetriever, gen ResponseGenerator) *Assistant {
	return NewAssistant(store, retriever, guardrail.NewEngine(), gen, log.NewNop())
}

// ============================================================
// Chat
// ============================================================

func TestAssistant_Chat_GroundedAnswer(t *testing.T) {
	store := newMockSessionStore()
	retriever := &mockRetriever{matches: helpMatches()}
	a := newTestAssistant(store, retriever, nil)

	reply, err := a.Chat(context.Background(), "user-1", nil, "How do I reset my password?", "")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if reply.RequiresEscalation {
		t.Error("grounded answer should not require escalation")
	}
	if reply.Confidence != ConfidenceGrounded {
		t.Errorf("confidence = %v, want %v", reply.Confidence, ConfidenceGrounded)
	}
	if reply.MessageID == nil {
		t.Fatal("reply should carry the stored message id")
	}
	if len(reply.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(reply.Citations))
	}
	if reply.Citations[0].Title != "Reset your password" {
		t.Errorf("top citation = %q", reply.Citations[0].Title)
	}
	if !strings.Contains(reply.Message, "Reset your password") {
		t.Errorf("answer %q should cite the top article", reply.Message)
	}

	session, ok := store.sessions[reply.SessionID]
	if !ok {
		t.Fatal("session was not created")
	}
	if session.Title != "How do I reset my password?" {
		t.Errorf("session title = %q", session.Title)
	}
	if session.Channel != DefaultChannel {
		t.Errorf("channel = %q, want %q", session.Channel, DefaultChannel)
	}
	if len(store.turns) != 1 {
		t.Fatalf("turns recorded = %d, want 1", len(store.turns))
	}
	turn := store.turns[0]
	if turn.UserMessage.Role != RoleUser || turn.AssistantMessage.Role != RoleAssistant {
		t.Error("turn roles are wrong")
	}
	if turn.AssistantMessage.ID != *reply.MessageID {
		t.Error("reply message id does not match the stored assistant message")
	}
	if turn.Escalate {
		t.Error("grounded turn should not escalate")
	}
	if turn.AssistantMessage.Confidence != ConfidenceGrounded {
		t.Errorf("stored confidence = %v", turn.AssistantMessage.Confidence)
	}
}

func TestAssistant_Chat_CitesTopThree(t *testing.T) {
	store := newMockSessionStore()
	gen := &fixedGenerator{text: "Here is what I found."}
	a := newTestAssistant(store, &mockRetriever{matches: manyMatches(5)}, gen)

	reply, err := a.Chat(context.Background(), "user-1", nil, "How do I reset my password?", "web")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(reply.Citations) != 3 {
		t.Fatalf("citations = %d, want 3", len(reply.Citations))
	}
	if len(gen.matches) != 3 {
		t.Errorf("generator saw %d matches, want the top 3", len(gen.matches))
	}
	if reply.Citations[0].Title != "Article A" || reply.Citations[2].Title != "Article C" {
		t.Errorf("citations out of order: %+v", reply.Citations)
	}
}

func TestAssistant_Chat_ExistingSession(t *testing.T) {
	store := newMockSessionStore()
	retriever := &mockRetriever{matches: helpMatches()}
	a := newTestAssistant(store, retriever, nil)

	first, err := a.Chat(context.Background(), "user-1", nil, "How do I reset my password?", "web")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	second, err := a.Chat(context.Background(), "user-1", &first.SessionID, "And how do I change my email?", "web")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if second.SessionID != first.SessionID {
		t.Error("second turn opened a new session")
	}
	if len(store.sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(store.sessions))
	}
}

func TestAssistant_Chat_SessionChannel(t *testing.T) {
	store := newMockSessionStore()
	a := newTestAssistant(store, &mockRetriever{matches: helpMatches()}, nil)

	reply, err := a.Chat(context.Background(), "user-1", nil, "How do I reset my password?", "mobile")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := store.sessions[reply.SessionID].Channel; got != "mobile" {
		t.Errorf("channel = %q, want %q", got, "mobile")
	}
}

func TestAssistant_Chat_InvalidInput(t *testing.T) {
	store := newMockSessionStore()
	a := newTestAssistant(store, &mockRetriever{}, nil)

	for name, question := range map[string]string{
		"empty":      "",
		"whitespace": "   \n ",
		"too long":   strings.Repeat("a", MaxQuestionLen+1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Chat(context.Background(), "user-1", nil, question, "web")
			if !IsInvalidInput(err) {
				t.Fatalf("err = %v, want InvalidInputError", err)
			}
		})
	}
	if len(store.sessions) != 0 {
		t.Error("invalid input must not create sessions")
	}
}

func TestAssistant_Chat_InputBlocked(t *testing.T) {
	store := newMockSessionStore()
	retriever := &mockRetriever{matches: helpMatches()}
	a := newTestAssistant(store, retriever, nil)

	_, err := a.Chat(context.Background(), "user-1", nil, "'; DROP TABLE users; --", "web")

	var ie *InvalidInputError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want InvalidInputError", err)
	}
	if ie.Policy != guardrail.PolicyPromptInjection {
		t.Errorf("policy = %q, want %q", ie.Policy, guardrail.PolicyPromptInjection)
	}
	if retriever.calls != 0 {
		t.Error("blocked input must not hit the index")
	}
	if len(store.sessions) != 0 || len(store.turns) != 0 {
		t.Error("blocked input must not create sessions or store messages")
	}
}

func TestAssistant_Chat_UnknownSession(t *testing.T) {
	a := newTestAssistant(newMockSessionStore(), &mockRetriever{}, nil)

	id := uuid.New()
	_, err := a.Chat(context.Background(), "user-1", &id, "Where is my money?", "web")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAssistant_Chat_ForeignSession(t *testing.T) {
	store := newMockSessionStore()
	a := newTestAssistant(store, &mockRetriever{matches: helpMatches()}, nil)

	reply, err := a.Chat(context.Background(), "user-1", nil, "How do I reset my password?", "web")
	if err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	_, err = a.Chat(context.Background(), "user-2", &reply.SessionID, "Show me that thread", "web")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for another user's session", err)
	}
}

func TestAssistant_Chat_EscalatedSession(t *testing.T) {
	store := newMockSessionStore()
	session, _ := store.CreateSession(context.Background(), "user-1", "old thread", "web")
	store.sessions[session.ID].Escalated = true

	retriever := &mockRetriever{matches: helpMatches()}
	a := newTestAssistant(store, retriever, nil)

	reply, err := a.Chat(context.Background(), "user-1", &session.ID, "Any update on my case?", "web")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if reply.Message != escalatedNotice {
		t.Errorf("message = %q, want the escalated notice", reply.Message)
	}
	// The session is already with an agent; the reply does not signal a new
	// escalation and nothing is persisted.
	if reply.RequiresEscalation {
		t.Error("already escalated session should not re-signal escalation")
	}
	if reply.Confidence != ConfidenceNone {
		t.Errorf("confidence = %v", reply.Confidence)
	}
	if reply.MessageID != nil {
		t.Error("no message was stored, so the reply must not name one")
	}
	if retriever.calls != 0 {
		t.Error("escalated session must not hit the index")
	}
	if len(store.turns) != 0 || len(store.messages[session.ID]) != 0 {
		t.Error("escalated short-circuit must not store messages")
	}
}

func TestAssistant_Chat_NoMatches(t *testing.T) {
	store := newMockSessionStore()
	a := newTestAssistant(store, &mockRetriever{}, nil)

	reply, err := a.Chat(context.Background(), "user-1", nil, "Do you sell concert tickets?", "web")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if reply.Message != noAnswerNotice || !reply.RequiresEscalation {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Confidence != ConfidenceNone {
		t.Errorf("confidence = %v", reply.Confidence)
	}
	if reply.EscalationReason != noAnswerReason {
		t.Errorf("reason = %q, want %q", reply.EscalationReason, noAnswerReason)
	}
	if turn := store.turns[0]; turn.EscalationReason != noAnswerReason {
		t.Errorf("stored reason = %q", turn.EscalationReason)
	}
}

func TestAssistant_Chat_OutputBlocked(t *testing.T) {
	store := newMockSessionStore()
	gen := &fixedGenerator{text: "Write to admin@mirrortrade.internal for a manual reset."}
	a := newTestAssistant(store, &mockRetriever{matches: helpMatches()}, gen)

	reply, err := a.Chat(context.Background(), "user-1", nil, "How do I reset my password?", "web")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if reply.Message != unsafeNotice {
		t.Errorf("message = %q, want the unsafe notice", reply.Message)
	}
	if reply.PolicyName != guardrail.PolicyPIIEmail {
		t.Errorf("policy = %q, want %q", reply.PolicyName, guardrail.PolicyPIIEmail)
	}
	if len(reply.Citations) != 0 {
		t.Error("blocked output must not carry citations")
	}
	// Articles were retrieved, so the confidence of the turn stands even
	// though the draft was replaced.
	if reply.Confidence != ConfidenceGrounded {
		t.Errorf("confidence = %v, want %v", reply.Confidence, ConfidenceGrounded)
	}
	if reply.EscalationReason != guardrail.PolicyPIIEmail {
		t.Errorf("reason = %q, want the bare policy name", reply.EscalationReason)
	}
	// The unsafe draft must never be persisted.
	if strings.Contains(store.turns[0].AssistantMessage.Content, "admin@") {
		t.Error("unsafe draft leaked into the transcript")
	}
}

func TestAssistant_Chat_Disabled(t *testing.T) {
	store := newMockSessionStore()
	store.enabled = false
	retriever := &mockRetriever{matches: helpMatches()}
	a := newTestAssistant(store, retriever, nil)

	reply, err := a.Chat(context.Background(), "user-1", nil, "How do I reset my password?", "web")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if reply.Message != disabledNotice || !reply.RequiresEscalation {
		t.Errorf("reply = %+v", reply)
	}
	if retriever.calls != 0 {
		t.Error("disabled assistant must not hit the index")
	}
}

func TestAssistant_Chat_SearchError(t *testing.T) {
	a := newTestAssistant(newMockSessionStore(), &mockRetriever{err: errors.New("index down")}, nil)

	_, err := a.Chat(context.Background(), "user-1", nil, "How do I reset my password?", "web")
	if err == nil {
		t.Fatal("expected error when the index is unavailable")
	}
}

// ============================================================
// EscalateToHuman
// ============================================================

func TestAssistant_EscalateToHuman(t *testing.T) {
	store := newMockSessionStore()
	session, _ := store.CreateSession(context.Background(), "user-1", "thread", "web")
	a := newTestAssistant(store, &mockRetriever{}, nil)

	got, err := a.EscalateToHuman(context.Background(), "user-1", session.ID, "")
	if err != nil {
		t.Fatalf("EscalateToHuman: %v", err)
	}

	if !got.Escalated {
		t.Error("session should be escalated")
	}
	if got.EscalationReason != "user requested a human agent" {
		t.Errorf("reason = %q", got.EscalationReason)
	}
	if len(store.escalations) != 1 {
		t.Errorf("escalation calls = %d", len(store.escalations))
	}
}

func TestAssistant_EscalateToHuman_OverwritesReason(t *testing.T) {
	store := newMockSessionStore()
	session, _ := store.CreateSession(context.Background(), "user-1", "thread", "web")
	a := newTestAssistant(store, &mockRetriever{}, nil)

	if _, err := a.EscalateToHuman(context.Background(), "user-1", session.ID, "first"); err != nil {
		t.Fatalf("first escalation: %v", err)
	}
	got, err := a.EscalateToHuman(context.Background(), "user-1", session.ID, "second")
	if err != nil {
		t.Fatalf("second escalation: %v", err)
	}
	if got.EscalationReason != "second" {
		t.Errorf("reason = %q, want the latest", got.EscalationReason)
	}
}

func TestAssistant_EscalateToHuman_Foreign(t *testing.T) {
	store := newMockSessionStore()
	session, _ := store.CreateSession(context.Background(), "user-1", "thread", "web")
	a := newTestAssistant(store, &mockRetriever{}, nil)

	_, err := a.EscalateToHuman(context.Background(), "user-2", session.ID, "please")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(store.escalations) != 0 {
		t.Error("foreign session must not be escalated")
	}
}

// ============================================================
// History and listing
// ============================================================

func TestAssistant_SessionHistory(t *testing.T) {
	store := newMockSessionStore()
	retriever := &mockRetriever{matches: helpMatches()}
	a := newTestAssistant(store, retriever, nil)

	reply, err := a.Chat(context.Background(), "user-1", nil, "How do I reset my password?", "web")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	session, messages, err := a.SessionHistory(context.Background(), "user-1", reply.SessionID, 0, -5)
	if err != nil {
		t.Fatalf("SessionHistory: %v", err)
	}
	if session.ID != reply.SessionID {
		t.Errorf("session = %v, want %v", session.ID, reply.SessionID)
	}
	if len(messages) != 2 {
		t.Errorf("messages = %d, want 2", len(messages))
	}
	if store.lastLimit != defaultPageSize || store.lastOffset != 0 {
		t.Errorf("paging = (%d, %d), want clamped defaults", store.lastLimit, store.lastOffset)
	}

	if _, _, err := a.SessionHistory(context.Background(), "user-2", reply.SessionID, 10, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign history err = %v, want ErrNotFound", err)
	}
}

func TestAssistant_ListSessions_ClampsLimit(t *testing.T) {
	store := newMockSessionStore()
	a := newTestAssistant(store, &mockRetriever{}, nil)

	if _, _, err := a.ListSessions(context.Background(), "user-1", 10_000, 0); err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if store.lastLimit != maxPageSize {
		t.Errorf("limit = %d, want %d", store.lastLimit, maxPageSize)
	}
}

// ============================================================
// Title derivation
// ============================================================

func TestSessionTitle(t *testing.T) {
	if got := sessionTitle("short question"); got != "short question" {
		t.Errorf("title = %q", got)
	}

	long := strings.Repeat("q", 120)
	if got := sessionTitle(long); got != strings.Repeat("q", maxTitleLen) {
		t.Errorf("title = %q, want the first %d characters", got, maxTitleLen)
	}
}

package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirrortrade/assistant/internal/log"
)

const sessionColumns = `id, user_id, title, channel, escalated, escalation_reason, escalated_at, created_at, updated_at`

const messageColumns = `id, session_id, role, content, citations, policy_name, confidence, created_at`

// Store persists sessions and messages in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a chat store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With("component", "chat.store"),
	}
}

// CreateSession opens a new session for the user on the given channel.
func (s *Store) CreateSession(ctx context.Context, userID, title, channel string) (*Session, error) {
	const query = `
		INSERT INTO chat_sessions (id, user_id, title, channel)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + sessionColumns

	session, err := scanSession(s.pool.QueryRow(ctx, query, uuid.New(), userID, title, channel))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Debug("session created", "session_id", session.ID, "user_id", userID)
	return session, nil
}

// GetSession fetches one session. Returns ErrNotFound when no row matches.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = $1`

	session, err := scanSession(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return session, nil
}

// RecordTurn commits one exchange atomically: the user message, the
// assistant message, the session's updated_at bump, and the escalation flag
// when the turn requests one. Either everything lands or nothing does.
func (s *Store) RecordTurn(ctx context.Context, turn Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin turn: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, msg := range []Message{turn.UserMessage, turn.AssistantMessage} {
		if err := insertMessage(ctx, tx, turn.SessionID, msg); err != nil {
			return err
		}
	}

	if turn.Escalate {
		if err := markEscalated(ctx, tx, turn.SessionID, turn.EscalationReason); err != nil {
			return err
		}
	} else {
		const touch = `UPDATE chat_sessions SET updated_at = now() WHERE id = $1`
		if _, err := tx.Exec(ctx, touch, turn.SessionID); err != nil {
			return fmt.Errorf("touch session %s: %w", turn.SessionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

// MarkEscalated hands the session to a human. Escalating an already
// escalated session overwrites the reason and timestamp.
func (s *Store) MarkEscalated(ctx context.Context, id uuid.UUID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin escalation: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := markEscalated(ctx, tx, id, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Sessions lists the user's sessions, most recently active first, along with
// the total count for paging.
func (s *Store) Sessions(ctx context.Context, userID string, limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chat_sessions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	const query = `SELECT ` + sessionColumns + `
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Channel, &sess.Escalated,
			&sess.EscalationReason, &sess.EscalatedAt, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

// Messages returns a session's transcript in chronological order.
func (s *Store) Messages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]Message, error) {
	const query = `SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content,
			&m.Citations, &m.PolicyName, &m.Confidence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// AssistantEnabled reads the assistant_enabled feature flag. A missing row
// means enabled.
func (s *Store) AssistantEnabled(ctx context.Context) (bool, error) {
	const query = `SELECT value FROM app_settings WHERE key = 'assistant_enabled'`

	var value string
	err := s.pool.QueryRow(ctx, query).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read assistant_enabled: %w", err)
	}
	return value != "false" && value != "0" && value != "off", nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, msg Message) error {
	const query = `
		INSERT INTO chat_messages (id, session_id, role, content, citations, policy_name, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	id := msg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	citations := msg.Citations
	if citations == nil {
		citations = []Citation{}
	}

	_, err := tx.Exec(ctx, query, id, sessionID, msg.Role, msg.Content,
		citations, msg.PolicyName, msg.Confidence)
	if err != nil {
		return fmt.Errorf("insert %s message: %w", msg.Role, err)
	}
	return nil
}

func markEscalated(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error {
	const query = `
		UPDATE chat_sessions
		SET escalated = true,
			escalation_reason = $2,
			escalated_at = now(),
			updated_at = now()
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("escalate session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.Channel, &s.Escalated,
		&s.EscalationReason, &s.EscalatedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

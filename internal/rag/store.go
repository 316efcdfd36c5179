package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mirrortrade/assistant/internal/kb"
	"github.com/mirrortrade/assistant/internal/log"
)

// Store keeps article vectors in the kb_embeddings table.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates an embedding store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With("component", "rag.store"),
	}
}

// Upsert writes the vector for an article, replacing any previous one.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO kb_embeddings (article_id, embedding, model_name, indexed_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (article_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model_name = EXCLUDED.model_name,
			indexed_at = now(),
			updated_at = now()`

	_, err := s.pool.Exec(ctx, query,
		rec.ArticleID, pgvector.NewVector(rec.Vector), rec.ModelName)
	if err != nil {
		return fmt.Errorf("upsert embedding %s: %w", rec.ArticleID, err)
	}
	return nil
}

// Delete removes an article's vector. Deleting a missing vector is not an
// error.
func (s *Store) Delete(ctx context.Context, articleID uuid.UUID) error {
	const query = `DELETE FROM kb_embeddings WHERE article_id = $1`

	if _, err := s.pool.Exec(ctx, query, articleID); err != nil {
		return fmt.Errorf("delete embedding %s: %w", articleID, err)
	}
	return nil
}

// Candidates returns every stored vector joined with its published article.
// Vectors whose article has been unpublished since indexing are excluded.
func (s *Store) Candidates(ctx context.Context) ([]Candidate, error) {
	const query = `
		SELECT e.article_id, a.slug, a.title, a.content, a.locale, e.embedding
		FROM kb_embeddings e
		JOIN kb_articles a ON a.id = e.article_id
		WHERE a.status = $1
		ORDER BY e.indexed_at DESC`

	rows, err := s.pool.Query(ctx, query, kb.StatusPublished)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var (
			c   Candidate
			vec pgvector.Vector
		)
		if err := rows.Scan(&c.ArticleID, &c.Slug, &c.Title, &c.Content, &c.Locale, &vec); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Vector = vec.Slice()
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	return candidates, nil
}

// IndexedIDs returns the ids of every article with a stored vector.
func (s *Store) IndexedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT article_id FROM kb_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("query indexed ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan indexed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query indexed ids: %w", err)
	}
	return ids, nil
}

// Count returns the number of stored vectors.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM kb_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// LastIndexedAt returns the most recent indexing time, or nil when the index
// is empty.
func (s *Store) LastIndexedAt(ctx context.Context) (*time.Time, error) {
	var last *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT max(indexed_at) FROM kb_embeddings`).Scan(&last); err != nil {
		return nil, fmt.Errorf("last indexed at: %w", err)
	}
	return last, nil
}

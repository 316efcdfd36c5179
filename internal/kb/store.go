package kb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirrortrade/assistant/internal/log"
)

const articleColumns = `id, slug, title, content, category, tags, status, locale, created_at, updated_at`

// Store persists articles in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates an article store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With("component", "kb.store"),
	}
}

// Create inserts the article, filling in ID, Locale and timestamps.
// A conflicting slug updates the existing row in place.
func (s *Store) Create(ctx context.Context, article *Article) error {
	if article.ID == uuid.Nil {
		article.ID = uuid.New()
	}
	if article.Locale == "" {
		article.Locale = DefaultLocale
	}
	if article.Status == "" {
		article.Status = StatusDraft
	}
	if article.Tags == nil {
		article.Tags = []string{}
	}

	const query = `
		INSERT INTO kb_articles (id, slug, title, content, category, tags, status, locale)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			status = EXCLUDED.status,
			locale = EXCLUDED.locale,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		article.ID, article.Slug, article.Title, article.Content,
		article.Category, article.Tags, article.Status, article.Locale,
	).Scan(&article.ID, &article.CreatedAt, &article.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create article %q: %w", article.Slug, err)
	}

	s.logger.Debug("article saved", "article_id", article.ID, "slug", article.Slug)
	return nil
}

// GetByID fetches one article. Returns ErrNotFound when no row matches.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Article, error) {
	const query = `SELECT ` + articleColumns + ` FROM kb_articles WHERE id = $1`

	article, err := s.scanOne(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get article %s: %w", id, err)
	}
	return article, nil
}

// GetBySlug fetches one article by its slug. Returns ErrNotFound when no row
// matches.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Article, error) {
	const query = `SELECT ` + articleColumns + ` FROM kb_articles WHERE slug = $1`

	article, err := s.scanOne(s.pool.QueryRow(ctx, query, slug))
	if err != nil {
		return nil, fmt.Errorf("get article %q: %w", slug, err)
	}
	return article, nil
}

// ListPublished returns all published articles ordered by last update,
// newest first.
func (s *Store) ListPublished(ctx context.Context) ([]Article, error) {
	const query = `SELECT ` + articleColumns + `
		FROM kb_articles
		WHERE status = $1
		ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, StatusPublished)
	if err != nil {
		return nil, fmt.Errorf("list published articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var a Article
		if err := scanArticle(rows, &a); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list published articles: %w", err)
	}
	return articles, nil
}

// CountByStatus returns the number of articles in the given state.
func (s *Store) CountByStatus(ctx context.Context, status string) (int, error) {
	const query = `SELECT count(*) FROM kb_articles WHERE status = $1`

	var n int
	if err := s.pool.QueryRow(ctx, query, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

func (s *Store) scanOne(row pgx.Row) (*Article, error) {
	var a Article
	if err := scanArticle(row, &a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanArticle(row pgx.Row, a *Article) error {
	return row.Scan(
		&a.ID, &a.Slug, &a.Title, &a.Content, &a.Category, &a.Tags,
		&a.Status, &a.Locale, &a.CreatedAt, &a.UpdatedAt,
	)
}

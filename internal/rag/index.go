// Package rag maintains the retrieval index over published help-centre
// articles and answers similarity queries against it.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mirrortrade/assistant/internal/embedding"
	"github.com/mirrortrade/assistant/internal/kb"
	"github.com/mirrortrade/assistant/internal/log"
)

// Retrieval defaults applied when a search option is not given.
const (
	DefaultTopK     = 3
	DefaultMinScore = 0.3

	// ExcerptLength caps the snippet carried in a match.
	ExcerptLength = 200
)

// ErrNotPublished is returned when indexing is requested for an article that
// is not in the published state.
var ErrNotPublished = errors.New("rag: article not published")

// ArticleSource provides the articles eligible for indexing.
type ArticleSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*kb.Article, error)
	ListPublished(ctx context.Context) ([]kb.Article, error)
	CountByStatus(ctx context.Context, status string) (int, error)
}

// EmbeddingStore persists article vectors and serves search candidates.
type EmbeddingStore interface {
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, articleID uuid.UUID) error
	Candidates(ctx context.Context) ([]Candidate, error)
	IndexedIDs(ctx context.Context) ([]uuid.UUID, error)
	Count(ctx context.Context) (int, error)
	LastIndexedAt(ctx context.Context) (*time.Time, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Generate(text string) []float32
	ModelName() string
}

// Record is one stored article vector.
type Record struct {
	ArticleID uuid.UUID
	Vector    []float32
	ModelName string
}

// Candidate is a stored vector joined with the article fields needed to
// build a match.
type Candidate struct {
	ArticleID uuid.UUID
	Slug      string
	Title     string
	Content   string
	Locale    string
	Vector    []float32
}

// Match is one search hit, ready to cite in an assistant reply.
type Match struct {
	ArticleID uuid.UUID `json:"article_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Excerpt   string    `json:"excerpt"`
	Score     float64   `json:"score"`
	Locale    string    `json:"locale"`
}

// Report summarizes a bulk indexing run. Indexed counts only articles
// covered by this run; articles that already had a vector are skipped.
type Report struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Status describes the health of the index.
type Status struct {
	TotalPublished int        `json:"total_published"`
	Indexed        int        `json:"indexed"`
	Pending        int        `json:"pending"`
	LastIndexedAt  *time.Time `json:"last_indexed_at,omitempty"`
	ModelName      string     `json:"model_name"`
}

// Index embeds published articles and searches over their vectors.
type Index struct {
	articles   ArticleSource
	embeddings EmbeddingStore
	embedder   Embedder
	logger     log.Logger
}

// NewIndex wires an Index from its dependencies.
func NewIndex(articles ArticleSource, embeddings EmbeddingStore, embedder Embedder, logger log.Logger) *Index {
	return &Index{
		articles:   articles,
		embeddings: embeddings,
		embedder:   embedder,
		logger:     logger.With("component", "rag.index"),
	}
}

// IndexArticle embeds one article and upserts its vector. Re-indexing an
// already indexed article replaces the stored vector.
//
// Returns kb.ErrNotFound when the article does not exist and ErrNotPublished
// when it exists but is not published.
func (ix *Index) IndexArticle(ctx context.Context, id uuid.UUID) error {
	article, err := ix.articles.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !article.Published() {
		return fmt.Errorf("index article %s: %w", id, ErrNotPublished)
	}

	vec := ix.embedder.Generate(article.Title + "\n\n" + article.Content)
	rec := Record{
		ArticleID: article.ID,
		Vector:    vec,
		ModelName: ix.embedder.ModelName(),
	}
	if err := ix.embeddings.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("store embedding for %s: %w", id, err)
	}

	ix.logger.Info("article indexed", "article_id", id, "slug", article.Slug)
	return nil
}

// IndexAllPublished embeds every published article not yet covered by the
// index. A failure on one article is logged and counted; the run continues
// with the rest.
func (ix *Index) IndexAllPublished(ctx context.Context) (Report, error) {
	articles, err := ix.articles.ListPublished(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list published: %w", err)
	}

	ids, err := ix.embeddings.IndexedIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list indexed: %w", err)
	}
	covered := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		covered[id] = struct{}{}
	}

	report := Report{Total: len(articles)}
	for i := range articles {
		article := &articles[i]
		if _, ok := covered[article.ID]; ok {
			report.Skipped++
			continue
		}
		rec := Record{
			ArticleID: article.ID,
			Vector:    ix.embedder.Generate(article.Title + "\n\n" + article.Content),
			ModelName: ix.embedder.ModelName(),
		}
		if err := ix.embeddings.Upsert(ctx, rec); err != nil {
			report.Failed++
			ix.logger.Error("indexing failed", "article_id", article.ID, "error", err)
			continue
		}
		report.Indexed++
	}

	ix.logger.Info("bulk indexing finished",
		"total", report.Total, "indexed", report.Indexed,
		"skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// RemoveArticle drops an article's vector from the index.
func (ix *Index) RemoveArticle(ctx context.Context, id uuid.UUID) error {
	if err := ix.embeddings.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove embedding for %s: %w", id, err)
	}
	return nil
}

// SearchOption adjusts a similarity search.
type SearchOption func(*searchParams)

type searchParams struct {
	topK     int
	minScore float64
}

// WithTopK caps the number of matches returned.
func WithTopK(k int) SearchOption {
	return func(p *searchParams) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithMinScore drops matches scoring below the threshold.
func WithMinScore(s float64) SearchOption {
	return func(p *searchParams) { p.minScore = s }
}

// SearchSimilar embeds the query and ranks stored article vectors by cosine
// similarity. Matches below the score threshold are dropped; ties keep the
// candidate order returned by the store.
func (ix *Index) SearchSimilar(ctx context.Context, query string, opts ...SearchOption) ([]Match, error) {
	params := searchParams{topK: DefaultTopK, minScore: DefaultMinScore}
	for _, opt := range opts {
		opt(&params)
	}

	queryVec := ix.embedder.Generate(query)

	candidates, err := ix.embeddings.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		score := embedding.Cosine(queryVec, c.Vector)
		if score < params.minScore {
			continue
		}
		article := kb.Article{Slug: c.Slug, Content: c.Content}
		matches = append(matches, Match{
			ArticleID: c.ArticleID,
			Title:     c.Title,
			URL:       article.URL(),
			Excerpt:   article.Excerpt(ExcerptLength),
			Score:     score,
			Locale:    c.Locale,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > params.topK {
		matches = matches[:params.topK]
	}
	return matches, nil
}

// IndexStatus reports index coverage of the published article set.
func (ix *Index) IndexStatus(ctx context.Context) (Status, error) {
	published, err := ix.articles.CountByStatus(ctx, kb.StatusPublished)
	if err != nil {
		return Status{}, fmt.Errorf("count published: %w", err)
	}
	indexed, err := ix.embeddings.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count embeddings: %w", err)
	}
	last, err := ix.embeddings.LastIndexedAt(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("last indexed at: %w", err)
	}

	pending := published - indexed
	if pending < 0 {
		pending = 0
	}
	return Status{
		TotalPublished: published,
		Indexed:        indexed,
		Pending:        pending,
		LastIndexedAt:  last,
		ModelName:      ix.embedder.ModelName(),
	}, nil
}

// Package kb stores the help-centre articles the assistant answers from.
package kb

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Article lifecycle states. Only published articles are eligible for
// indexing and retrieval.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// DefaultLocale is assumed when an article carries no locale.
const DefaultLocale = "en-GB"

// ErrNotFound is returned when no article matches the given identifier.
var ErrNotFound = errors.New("kb: article not found")

// Article is a single help-centre document.
type Article struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	Status    string    `json:"status"`
	Locale    string    `json:"locale"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Published reports whether the article may be surfaced to users.
func (a *Article) Published() bool {
	return a.Status == StatusPublished
}

// URL returns the public help-centre path for the article.
func (a *Article) URL() string {
	return "/help/articles/" + a.Slug
}

// Excerpt returns the leading maxLen characters of the article body,
// appending an ellipsis when the body was truncated.
func (a *Article) Excerpt(maxLen int) string {
	if maxLen <= 0 {
		return a.Content
	}
	runes := []rune(a.Content)
	if len(runes) <= maxLen {
		return a.Content
	}
	return string(runes[:maxLen]) + "..."
}

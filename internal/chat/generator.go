package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirrortrade/assistant/internal/rag"
)

// ResponseGenerator produces the assistant's answer text from the retrieved
// matches. Implementations must not persist anything; output still passes
// through the output guardrails.
type ResponseGenerator interface {
	Generate(ctx context.Context, question string, matches []rag.Match) (string, error)
}

// TemplateGenerator renders answers from the retrieved articles directly,
// without calling a language model. It is the default generator.
type TemplateGenerator struct{}

// NewTemplateGenerator returns the template-based generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate builds an answer around the best match and lists the others as
// further reading.
func (g *TemplateGenerator) Generate(_ context.Context, _ string, matches []rag.Match) (string, error) {
	if len(matches) == 0 {
		return "", fmt.Errorf("generate: no matches to answer from")
	}

	top := matches[0]

	var b strings.Builder
	fmt.Fprintf(&b, "Based on our help centre article \"%s\":\n\n%s\n\nFull article: %s", top.Title, top.Excerpt, top.URL)

	if len(matches) > 1 {
		b.WriteString("\n\nThis might also help:\n")
		for _, m := range matches[1:] {
			fmt.Fprintf(&b, "- %s (%s)\n", m.Title, m.URL)
		}
	}

	return b.String(), nil
}

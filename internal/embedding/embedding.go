// Package embedding produces deterministic dense vectors for text without
// calling an external model.
//
// Each token is hashed to seed a PRNG that emits a fixed pseudo-random vector,
// and the document vector is the L2-normalized sum of its token vectors. The
// same text therefore always embeds to the same vector, and texts sharing
// vocabulary land measurably close in cosine space. It is a stand-in with the
// same shape and API as a real embedding model, not a semantic one.
package embedding

import (
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"unicode"
)

// DefaultDimensions matches the width used by common hosted embedding models
// so the storage schema stays compatible if one is swapped in.
const DefaultDimensions = 1536

// DefaultModelName identifies the deterministic embedder in stored metadata.
const DefaultModelName = "hash-v1"

// Generator turns text into fixed-width vectors. The zero value is not
// usable; construct with New.
type Generator struct {
	dim   int
	model string
}

// New returns a Generator emitting vectors of the given width.
// Non-positive dim falls back to DefaultDimensions.
func New(dim int) *Generator {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Generator{dim: dim, model: DefaultModelName}
}

// Dimensions reports the width of generated vectors.
func (g *Generator) Dimensions() int { return g.dim }

// ModelName reports the identifier recorded alongside stored vectors.
func (g *Generator) ModelName() string { return g.model }

// Generate embeds text. The result is deterministic for a given text and
// dimension, every component lies in [-1, 1], and non-empty text yields a
// unit-length vector. Text with no tokens embeds to the zero vector.
func (g *Generator) Generate(text string) []float32 {
	vec := make([]float64, g.dim)

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return toFloat32(vec)
	}

	for _, tok := range tokens {
		rng := rand.New(rand.NewSource(tokenSeed(tok)))
		for i := range vec {
			vec[i] += rng.Float64()*2 - 1
		}
	}

	normalize(vec)
	return toFloat32(vec)
}

// Cosine returns the cosine similarity of two vectors, or 0 when either has
// zero magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// tokenize lowercases and splits on any non-alphanumeric rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// tokenSeed hashes a token into a stable PRNG seed.
func tokenSeed(tok string) int64 {
	h := fnv.New64a()
	h.Write([]byte(tok))
	return int64(h.Sum64())
}

// normalize scales vec to unit length in place. A zero vector is left as is.
func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

package cluster

import (
	"context"
	"strings"

	"github.com/tabrecall/tabrecall/internal/embedding"
)

// Similarity scores how close two sets of tab titles are, in [0,1].
// The exact function is a pluggable strategy; TokenOverlap is the default.
type Similarity func(prev, next []string) float64

// TokenOverlap computes Jaccard similarity over the lowercased word tokens
// of the two title sets. Cheap, deterministic, and has no external
// dependencies.
func TokenOverlap(prev, next []string) float64 {
	a := tokenSet(prev)
	b := tokenSet(next)
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(titles []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, title := range titles {
		for _, tok := range strings.Fields(strings.ToLower(title)) {
			tok = strings.Trim(tok, ".,;:!?()[]{}\"'")
			if len(tok) < 2 {
				continue
			}
			set[tok] = struct{}{}
		}
	}
	return set
}

// EmbeddingSimilarity builds a Similarity strategy on top of an embedding
// provider: each title set is embedded as one joined document and compared
// by cosine similarity. Unlike TokenOverlap this performs network I/O; any
// provider failure falls back to TokenOverlap so scoring never blocks on a
// remote outage.
func EmbeddingSimilarity(provider embedding.Provider) Similarity {
	return func(prev, next []string) float64 {
		docs := []string{strings.Join(prev, "\n"), strings.Join(next, "\n")}
		vectors, err := provider.Embed(context.Background(), docs)
		if err != nil || len(vectors) != 2 {
			return TokenOverlap(prev, next)
		}
		return embedding.Cosine(vectors[0], vectors[1])
	}
}

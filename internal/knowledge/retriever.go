package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/nugget/noah-ai-agent/internal/embeddings"
)

// LibraryRetriever ranks stored chunks against a query. With an Embedder
// it scores by cosine similarity; without one, or when the query cannot
// be embedded, it ranks by keyword overlap.
type LibraryRetriever struct {
	store    *Store
	embedder Embedder
	logger   *slog.Logger
}

// NewLibraryRetriever creates a retriever over store. embedder may be nil.
func NewLibraryRetriever(store *Store, embedder Embedder, logger *slog.Logger) *LibraryRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &LibraryRetriever{
		store:    store,
		embedder: embedder,
		logger:   logger.With("component", "knowledge"),
	}
}

// Retrieve returns up to topK passages, best first.
func (r *LibraryRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Passage{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	chunks, err := r.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return []Passage{}, nil
	}

	var passages []Passage
	semantic := r.embedder != nil
	if semantic {
		passages, err = r.rankByEmbedding(ctx, query, chunks, topK)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			r.logger.Warn("query embedding failed, ranking by keywords", "error", err)
			semantic = false
		}
	}
	if !semantic {
		passages = rankByKeywords(query, chunks, topK)
	}

	r.logger.Debug("knowledge retrieved",
		"query_len", len(query),
		"candidates", len(chunks),
		"returned", len(passages),
		"semantic", semantic,
	)
	return passages, nil
}

func (r *LibraryRetriever) rankByEmbedding(ctx context.Context, query string, chunks []Chunk, topK int) ([]Passage, error) {
	qv, err := r.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates := make([]Chunk, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, c)
		vectors = append(vectors, c.Embedding)
	}

	ranked := embeddings.TopK(qv, vectors, topK)
	passages := make([]Passage, 0, len(ranked))
	for _, s := range ranked {
		if s.Score <= 0 {
			continue
		}
		c := candidates[s.Index]
		passages = append(passages, Passage{Text: c.Text, Source: c.Source, Score: float64(s.Score)})
	}
	return passages, nil
}

// rankByKeywords scores each chunk by the fraction of distinct query
// terms it contains.
func rankByKeywords(query string, chunks []Chunk, topK int) []Passage {
	terms := tokenize(query)
	if len(terms) == 0 {
		return []Passage{}
	}

	var passages []Passage
	for _, c := range chunks {
		words := make(map[string]bool)
		for _, w := range tokenize(c.Heading + " " + c.Text) {
			words[w] = true
		}
		hits := 0
		for _, t := range terms {
			if words[t] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		passages = append(passages, Passage{
			Text:   c.Text,
			Source: c.Source,
			Score:  float64(hits) / float64(len(terms)),
		})
	}

	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })
	if len(passages) > topK {
		passages = passages[:topK]
	}
	if passages == nil {
		passages = []Passage{}
	}
	return passages
}

// stopwords are dropped from keyword queries.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "what": true,
	"with": true, "how": true, "does": true, "this": true, "that": true,
	"from": true, "when": true, "which": true, "about": true, "into": true,
}

// tokenize lowercases text and returns distinct words of three or more
// letters or digits, minus stopwords.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

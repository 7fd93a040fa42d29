// Package knowledge is the clinical reference library the agent retrieves
// from: ingested documents split into overlapping chunks, embedded, and
// ranked against a query.
package knowledge

import (
	"context"
)

// DefaultTopK is the number of passages returned when callers do not ask
// for a specific count.
const DefaultTopK = 3

// Passage is one retrieved chunk of reference text.
type Passage struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Retriever finds the passages most relevant to a query. Results are
// ordered by Score, highest first. No match is an empty slice, not an
// error.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Chunk is a stored slice of a source document.
type Chunk struct {
	ID        string
	Source    string
	Index     int
	Heading   string
	Text      string
	Embedding []float32
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/noah-ai-agent/internal/knowledge"
)

// KnowledgeBaseToolName is the registered name of the retrieval tool.
const KnowledgeBaseToolName = "retrieve_kb"

// ErrEmptyQuery is returned by the retrieval tool for blank queries.
var ErrEmptyQuery = errors.New("query cannot be empty")

// NewKnowledgeBaseTool builds the retrieval tool over r. Each call
// returns up to topK passages, best first; a query with no matches
// returns an empty list.
func NewKnowledgeBaseTool(r knowledge.Retriever, topK int) *Tool {
	if topK <= 0 {
		topK = knowledge.DefaultTopK
	}
	return &Tool{
		Name: KnowledgeBaseToolName,
		Description: "Search the curated clinical knowledge base for critical care information, " +
			"medical protocols, medication safety and patient care guidelines. Use this when the " +
			"question needs factual reference material rather than general knowledge, for example " +
			"'What are the current sepsis bundle guidelines?' or 'How is ARDS managed?'. " +
			"Returns passages with their source document and a relevance score.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The specific question, topic, or keywords to search for in the clinical knowledge base.",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			query = strings.TrimSpace(query)
			if query == "" {
				return nil, ErrEmptyQuery
			}

			passages, err := r.Retrieve(ctx, query, topK)
			if err != nil {
				return nil, fmt.Errorf("knowledge base retrieval failed: %w", err)
			}
			if passages == nil {
				passages = []knowledge.Passage{}
			}
			return passages, nil
		},
	}
}

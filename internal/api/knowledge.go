package api

import (
	"net/http"
	"strings"

	"github.com/nugget/noah-ai-agent/internal/knowledge"
)

const maxSearchTopK = 20

// SearchRequest is the body of POST /v1/knowledge/search.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// SearchResponse lists passages best first.
type SearchResponse struct {
	Query    string              `json:"query"`
	Passages []knowledge.Passage `json:"passages"`
}

func (s *Server) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	if s.retriever == nil {
		s.errorResponse(w, http.StatusNotImplemented, "knowledge base is not configured")
		return
	}

	var req SearchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		s.errorResponse(w, http.StatusBadRequest, "query is required")
		return
	}

	topK := req.TopK
	switch {
	case topK <= 0:
		topK = s.topK
	case topK > maxSearchTopK:
		topK = maxSearchTopK
	}

	passages, err := s.retriever.Retrieve(r.Context(), req.Query, topK)
	if err != nil {
		s.logger.Error("knowledge search failed", "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "knowledge base retrieval failed")
		return
	}
	if passages == nil {
		passages = []knowledge.Passage{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, SearchResponse{Query: req.Query, Passages: passages}, s.logger)
}

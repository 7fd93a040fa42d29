package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nugget/noah-ai-agent/internal/agent"
	"github.com/nugget/noah-ai-agent/internal/history"
)

// Limits for the session history endpoint.
const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ChatRequest is the body of POST /v1/chat and of each WebSocket frame.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	PatientID string `json:"patient_id,omitempty"`
}

// ChatResponse is returned for each completed turn.
type ChatResponse struct {
	AgentResponseText string `json:"agent_response_text"`
	SessionID         string `json:"session_id"`
	InteractionID     string `json:"interaction_id,omitempty"`
	Status            string `json:"status,omitempty"`
}

// HistoryResponse is returned by GET /v1/sessions/{id}/history.
type HistoryResponse struct {
	SessionID    string            `json:"session_id"`
	Interactions []history.Message `json:"interactions"`
}

// errTurnUnavailable marks turn failures that are the service's fault.
var errTurnUnavailable = errors.New("the assistant is temporarily unavailable")

// runChat validates req, runs a turn and shapes the response. The
// returned status code is meaningful only when err is non-nil.
func (s *Server) runChat(ctx context.Context, req ChatRequest) (*ChatResponse, int, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, http.StatusBadRequest, errors.New("user_id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, http.StatusBadRequest, errors.New("message is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	res, err := s.turns.RunTurn(ctx, agent.TurnRequest{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Input:     req.Message,
		PatientID: req.PatientID,
	})
	if err != nil {
		if errors.Is(err, agent.ErrInvalidRequest) {
			return nil, http.StatusBadRequest, err
		}
		s.logger.Error("turn failed", "session_id", req.SessionID, "error", err)
		return nil, http.StatusServiceUnavailable, errTurnUnavailable
	}

	return &ChatResponse{
		AgentResponseText: res.FinalText,
		SessionID:         res.SessionID,
		InteractionID:     res.AgentRecordID,
		Status:            string(res.Status),
	}, http.StatusOK, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, code, err := s.runChat(r.Context(), req)
	if err != nil {
		s.errorResponse(w, code, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit := parseIntParam(r, "limit", defaultHistoryLimit)
	if limit < 1 || limit > maxHistoryLimit {
		s.errorResponse(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}

	msgs, err := s.history.Load(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error("history load failed", "session_id", sessionID, "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation history is unavailable")
		return
	}
	for _, m := range msgs {
		if m.UserID != userID {
			s.errorResponse(w, http.StatusForbidden, "session belongs to another user")
			return
		}
	}
	if msgs == nil {
		msgs = []history.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, HistoryResponse{SessionID: sessionID, Interactions: msgs}, s.logger)
}

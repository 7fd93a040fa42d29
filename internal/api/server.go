// Package api implements the HTTP and WebSocket surface of the service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/noah-ai-agent/internal/agent"
	"github.com/nugget/noah-ai-agent/internal/buildinfo"
	"github.com/nugget/noah-ai-agent/internal/health"
	"github.com/nugget/noah-ai-agent/internal/history"
	"github.com/nugget/noah-ai-agent/internal/knowledge"
	"github.com/nugget/noah-ai-agent/internal/patient"
	"github.com/nugget/noah-ai-agent/internal/profile"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// TurnRunner runs one conversational turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResult, error)
}

// Server is the HTTP API server.
type Server struct {
	address   string
	port      int
	turns     TurnRunner
	history   history.Store
	patients  patient.Store
	profiles  profile.Store
	retriever knowledge.Retriever
	topK      int
	usage     UsageSource
	health    HealthSource
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, turns TurnRunner, store history.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		turns:   turns,
		history: store,
		topK:    knowledge.DefaultTopK,
		logger:  logger.With("component", "api"),
	}
}

// SetPatientStore enables the patient data log endpoints.
func (s *Server) SetPatientStore(ps patient.Store) {
	s.patients = ps
}

// SetProfileStore enables the user profile endpoints.
func (s *Server) SetProfileStore(ps profile.Store) {
	s.profiles = ps
}

// SetRetriever enables the knowledge search endpoint.
func (s *Server) SetRetriever(r knowledge.Retriever, topK int) {
	s.retriever = r
	if topK > 0 {
		s.topK = topK
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Conversation
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.handleSessionHistory)

	// Knowledge base
	mux.HandleFunc("POST /v1/knowledge/search", s.handleKnowledgeSearch)

	// Patient data logs
	mux.HandleFunc("POST /v1/patients/{id}/logs", s.handlePatientLogCreate)
	mux.HandleFunc("GET /v1/patients/{id}/logs", s.handlePatientLogList)

	// User profiles
	mux.HandleFunc("GET /v1/users/{id}/profile", s.handleProfileGet)
	mux.HandleFunc("PUT /v1/users/{id}/profile", s.handleProfilePut)

	// Token usage
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // a turn may run several model calls
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Noah",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

// HealthSource reports dependency reachability.
type HealthSource interface {
	Ready() bool
	Status() []health.Status
}

// SetHealth adds dependency status to the health endpoint.
func (s *Server) SetHealth(h HealthSource) {
	s.health = h
}

// handleHealth always answers 200 while the process serves requests; an
// unreachable dependency degrades turns rather than stopping them.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy"}
	if s.health != nil {
		if !s.health.Ready() {
			resp["status"] = "degraded"
		}
		resp["dependencies"] = s.health.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType(code),
			"code":    code,
		},
	}, s.logger)
}

func errorType(code int) string {
	switch {
	case code == http.StatusForbidden:
		return "permission_error"
	case code == http.StatusNotImplemented:
		return "not_configured"
	case code >= 500:
		return "service_error"
	default:
		return "invalid_request_error"
	}
}

// decodeBody decodes a bounded JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return errors.New("invalid request body")
	}
	return nil
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients are served from a separate origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsError is the frame sent when a turn cannot be answered.
type wsError struct {
	Error     string `json:"error"`
	SessionID string `json:"session_id,omitempty"`
}

// handleWebSocket runs one turn per inbound JSON frame. A connection
// keeps a single session; the first frame may name it, otherwise one
// is created.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	sessionID := r.URL.Query().Get("session_id")
	log := s.logger.With("remote", r.RemoteAddr)
	log.Info("websocket connected")

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("websocket closed", "session_id", sessionID)
			} else if _, ok := err.(*websocket.CloseError); !ok && ctx.Err() == nil {
				log.Debug("websocket read failed", "error", err)
			}
			return
		}

		if sessionID == "" {
			sessionID = req.SessionID
		}
		if sessionID == "" {
			sessionID = uuid.New().String()
		}
		req.SessionID = sessionID

		resp, _, err := s.runChat(ctx, req)
		var out any = resp
		if err != nil {
			out = wsError{Error: err.Error(), SessionID: sessionID}
		}
		if err := conn.WriteJSON(out); err != nil {
			log.Debug("websocket write failed", "error", err)
			return
		}
	}
}

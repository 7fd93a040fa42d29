package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nugget/noah-ai-agent/internal/profile"
)

// profileCaller checks that the user_id query parameter names the owner
// of the profile in the path. It writes the error response and returns
// false when the request must stop.
func (s *Server) profileCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.profiles == nil {
		s.errorResponse(w, http.StatusNotImplemented, "user profiles are not configured")
		return "", false
	}
	caller := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if caller == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id is required")
		return "", false
	}
	userID := r.PathValue("id")
	if caller != userID {
		s.errorResponse(w, http.StatusForbidden, "profiles are only visible to their owner")
		return "", false
	}
	return userID, true
}

func (s *Server) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.profileCaller(w, r)
	if !ok {
		return
	}

	p, err := s.profiles.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "profile not found")
			return
		}
		s.logger.Error("profile get failed", "user_id", userID, "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "profile store is unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, p, s.logger)
}

func (s *Server) handleProfilePut(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.profileCaller(w, r)
	if !ok {
		return
	}

	var u profile.Update
	if err := decodeBody(w, r, &u); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	p, created, err := s.profiles.Apply(r.Context(), userID, u)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrNotFound):
			s.errorResponse(w, http.StatusNotFound, "profile not found")
		case errors.Is(err, profile.ErrInvalidProfile):
			s.errorResponse(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("profile update failed", "user_id", userID, "error", err)
			s.errorResponse(w, http.StatusServiceUnavailable, "profile store is unavailable")
		}
		return
	}
	if created {
		s.logger.Info("profile created", "user_id", userID, "role", p.Role)
	}

	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	writeJSON(w, p, s.logger)
}

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nugget/noah-ai-agent/internal/patient"
)

// PatientLogsResponse is returned by GET /v1/patients/{id}/logs.
type PatientLogsResponse struct {
	PatientID string        `json:"patient_id"`
	Logs      []patient.Log `json:"logs"`
}

func (s *Server) handlePatientLogCreate(w http.ResponseWriter, r *http.Request) {
	if s.patients == nil {
		s.errorResponse(w, http.StatusNotImplemented, "patient data logs are not configured")
		return
	}

	var entry patient.Log
	if err := decodeBody(w, r, &entry); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	entry.PatientID = r.PathValue("id")
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	saved, err := s.patients.Append(r.Context(), entry)
	if err != nil {
		if errors.Is(err, patient.ErrInvalidLog) {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("patient log append failed", "patient_id", entry.PatientID, "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "patient data store is unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, saved, s.logger)
}

func (s *Server) handlePatientLogList(w http.ResponseWriter, r *http.Request) {
	if s.patients == nil {
		s.errorResponse(w, http.StatusNotImplemented, "patient data logs are not configured")
		return
	}

	patientID := r.PathValue("id")
	limit := parseIntParam(r, "limit", patient.DefaultListLimit)

	logs, err := s.patients.List(r.Context(), patientID, limit)
	if err != nil {
		s.logger.Error("patient log list failed", "patient_id", patientID, "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "patient data store is unavailable")
		return
	}
	if logs == nil {
		logs = []patient.Log{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, PatientLogsResponse{PatientID: patientID, Logs: logs}, s.logger)
}

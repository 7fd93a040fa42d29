package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nugget/noah-ai-agent/internal/usage"
)

const (
	defaultUsageHours = 24
	maxUsageHours     = 24 * 90
)

// UsageSource aggregates recorded model token usage.
type UsageSource interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByPurpose(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// UsageResponse is returned by GET /v1/usage.
type UsageResponse struct {
	Since     time.Time                 `json:"since"`
	Until     time.Time                 `json:"until"`
	Total     *usage.Summary            `json:"total"`
	ByModel   map[string]*usage.Summary `json:"by_model"`
	ByPurpose map[string]*usage.Summary `json:"by_purpose"`
}

// SetUsageSource enables the usage endpoint.
func (s *Server) SetUsageSource(u UsageSource) {
	s.usage = u
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusNotImplemented, "usage tracking is not configured")
		return
	}

	hours := parseIntParam(r, "hours", defaultUsageHours)
	if hours < 1 || hours > maxUsageHours {
		s.errorResponse(w, http.StatusBadRequest, "hours must be between 1 and 2160")
		return
	}

	ctx := r.Context()
	// Records carry second precision; include the current second.
	until := time.Now().UTC().Truncate(time.Second).Add(time.Second)
	since := until.Add(-time.Duration(hours) * time.Hour)

	total, err := s.usage.Summary(ctx, since, until)
	if err != nil {
		s.usageFailed(w, err)
		return
	}
	byModel, err := s.usage.SummaryByModel(ctx, since, until)
	if err != nil {
		s.usageFailed(w, err)
		return
	}
	byPurpose, err := s.usage.SummaryByPurpose(ctx, since, until)
	if err != nil {
		s.usageFailed(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, UsageResponse{
		Since:     since,
		Until:     until,
		Total:     total,
		ByModel:   byModel,
		ByPurpose: byPurpose,
	}, s.logger)
}

func (s *Server) usageFailed(w http.ResponseWriter, err error) {
	s.logger.Error("usage query failed", "error", err)
	s.errorResponse(w, http.StatusServiceUnavailable, "usage store is unavailable")
}

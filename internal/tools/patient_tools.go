package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/noah-ai-agent/internal/patient"
)

// PatientLogsToolName is the registered name of the patient log tool.
const PatientLogsToolName = "fetch_patient_data_logs"

// Limits applied to the patient log tool.
const (
	defaultPatientLogLimit = 5
	maxPatientLogLimit     = 50
)

// NewPatientLogsTool builds a tool that reads recent patient data log
// entries. When the model omits patient_user_id, the patient attached to
// the turn is used.
func NewPatientLogsTool(store patient.Store) *Tool {
	return &Tool{
		Name: PatientLogsToolName,
		Description: "Fetch the most recent data log entries (observations, symptom reports, " +
			"prior drafts) recorded for a patient. Use this when the nurse asks about a " +
			"patient's recent status or logged data.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"patient_user_id": map[string]any{
					"type":        "string",
					"description": "ID of the patient whose logs to fetch. Defaults to the patient in focus.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     maxPatientLogLimit,
					"description": fmt.Sprintf("Maximum entries to return (default %d).", defaultPatientLogLimit),
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			patientID, _ := args["patient_user_id"].(string)
			patientID = strings.TrimSpace(patientID)
			if patientID == "" {
				patientID = PatientIDFromContext(ctx)
			}
			if patientID == "" {
				return nil, errors.New("patient_user_id is required")
			}

			limit := defaultPatientLogLimit
			switch v := args["limit"].(type) {
			case float64:
				if v >= 1 {
					limit = int(v)
				}
			case int:
				if v >= 1 {
					limit = v
				}
			}

			logs, err := store.List(ctx, patientID, limit)
			if err != nil {
				return nil, fmt.Errorf("patient data retrieval failed: %w", err)
			}
			return logs, nil
		},
	}
}

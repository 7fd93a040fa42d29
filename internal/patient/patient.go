// Package patient stores the data log entries recorded against a patient
// (observations, symptom reports, drafted notes) and summarizes them for
// drafting.
package patient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DataType classifies a log entry.
type DataType string

const (
	DataObservation       DataType = "observation"
	DataSymptomReport     DataType = "symptom_report"
	DataLLMSummary        DataType = "llm_summary"
	DataNursingNoteDraft  DataType = "nursing_note_draft"
	DataShiftHandoffDraft DataType = "shift_handoff_draft"
	DataUserDocument      DataType = "user_document"
)

// DataTypes lists every valid DataType.
var DataTypes = []DataType{
	DataObservation,
	DataSymptomReport,
	DataLLMSummary,
	DataNursingNoteDraft,
	DataShiftHandoffDraft,
	DataUserDocument,
}

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	for _, t := range DataTypes {
		if d == t {
			return true
		}
	}
	return false
}

// DefaultSource labels entries that arrive without a source.
const DefaultSource = "noah"

// Limits for List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ErrInvalidLog is returned for entries that fail validation.
var ErrInvalidLog = errors.New("invalid patient data log")

// Log is one entry in a patient's data log.
type Log struct {
	ID        string         `json:"log_id"`
	PatientID string         `json:"patient_id"`
	CreatedBy string         `json:"created_by_user_id"`
	Timestamp time.Time      `json:"timestamp"`
	DataType  DataType       `json:"data_type"`
	Content   map[string]any `json:"content"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store persists patient data logs.
type Store interface {
	// Append stores entry and returns it with ID and CreatedAt set.
	Append(ctx context.Context, entry Log) (Log, error)

	// List returns up to limit entries for a patient, most recent
	// Timestamp first.
	List(ctx context.Context, patientID string, limit int) ([]Log, error)
}

func validate(entry Log) error {
	if entry.PatientID == "" {
		return fmt.Errorf("%w: patient id is required", ErrInvalidLog)
	}
	if !entry.DataType.Valid() {
		return fmt.Errorf("%w: unknown data type %q", ErrInvalidLog, entry.DataType)
	}
	if entry.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidLog)
	}
	return nil
}

// prepare fills defaults on a validated entry.
func prepare(entry Log, id string, now time.Time) Log {
	entry.ID = id
	entry.CreatedAt = now.UTC()
	entry.Timestamp = entry.Timestamp.UTC()
	if entry.Source == "" {
		entry.Source = DefaultSource
	}
	if entry.Content == nil {
		entry.Content = map[string]any{}
	}
	return entry
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

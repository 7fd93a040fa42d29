package tools

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	userIDKey    contextKey = "user_id"
	patientIDKey contextKey = "patient_id"
)

// WithTurn attaches the identifiers of the turn a tool call belongs to.
// Empty values are not stored.
func WithTurn(ctx context.Context, sessionID, userID, patientID string) context.Context {
	if sessionID != "" {
		ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	}
	if userID != "" {
		ctx = context.WithValue(ctx, userIDKey, userID)
	}
	if patientID != "" {
		ctx = context.WithValue(ctx, patientIDKey, patientID)
	}
	return ctx
}

// SessionIDFromContext returns the session of the current turn, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// UserIDFromContext returns the nurse driving the current turn, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// PatientIDFromContext returns the patient in focus for the current turn,
// or "".
func PatientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(patientIDKey).(string)
	return id
}

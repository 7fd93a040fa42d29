package tools

import (
	"context"
	"testing"
)

func TestWithTurn(t *testing.T) {
	tests := []struct {
		name                     string
		ctx                      context.Context
		session, user, patientID string
	}{
		{"empty when unset", context.Background(), "", "", ""},
		{"round trip", WithTurn(context.Background(), "sess-1", "nurse-1", "pt-9"), "sess-1", "nurse-1", "pt-9"},
		{"no patient", WithTurn(context.Background(), "sess-2", "nurse-2", ""), "sess-2", "nurse-2", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SessionIDFromContext(tt.ctx); got != tt.session {
				t.Errorf("SessionIDFromContext() = %q, want %q", got, tt.session)
			}
			if got := UserIDFromContext(tt.ctx); got != tt.user {
				t.Errorf("UserIDFromContext() = %q, want %q", got, tt.user)
			}
			if got := PatientIDFromContext(tt.ctx); got != tt.patientID {
				t.Errorf("PatientIDFromContext() = %q, want %q", got, tt.patientID)
			}
		})
	}
}

// Package profile stores per-user settings: the user's role, a display
// name and free-form preferences.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the kind of user a profile belongs to.
type Role string

const (
	RoleNurse   Role = "nurse"
	RolePatient Role = "patient"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleNurse || r == RolePatient
}

var (
	// ErrNotFound is returned when no profile exists for a user.
	ErrNotFound = errors.New("profile not found")

	// ErrInvalidProfile is returned for updates that fail validation.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Profile is one user's stored settings.
type Profile struct {
	UserID      string         `json:"user_id"`
	Role        Role           `json:"role"`
	DisplayName string         `json:"display_name,omitempty"`
	Preferences map[string]any `json:"preferences"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Update is a partial change to a profile. Nil fields are left alone;
// a non-nil Preferences replaces the stored map.
type Update struct {
	Role        *Role          `json:"role,omitempty"`
	DisplayName *string        `json:"display_name,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.Role == nil && u.DisplayName == nil && u.Preferences == nil
}

// Store persists user profiles.
type Store interface {
	// Get returns the profile for userID, or ErrNotFound.
	Get(ctx context.Context, userID string) (Profile, error)

	// Apply merges u into the profile for userID and reports whether
	// the profile was created. A new profile needs a role. An empty
	// update writes nothing and returns the current profile, or
	// ErrNotFound when there is none.
	Apply(ctx context.Context, userID string, u Update) (p Profile, created bool, err error)
}

// merge applies u on top of current (nil for a new profile).
func merge(current *Profile, userID string, u Update, now time.Time) (Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrInvalidProfile)
	}
	if u.Role != nil && !u.Role.Valid() {
		return Profile{}, fmt.Errorf("%w: role must be %q or %q", ErrInvalidProfile, RoleNurse, RolePatient)
	}

	var p Profile
	if current != nil {
		p = *current
	} else {
		if u.Role == nil {
			return Profile{}, fmt.Errorf("%w: role is required for a new profile", ErrInvalidProfile)
		}
		p = Profile{UserID: userID, CreatedAt: now, Preferences: map[string]any{}}
	}

	if u.Role != nil {
		p.Role = *u.Role
	}
	if u.DisplayName != nil {
		p.DisplayName = strings.TrimSpace(*u.DisplayName)
	}
	if u.Preferences != nil {
		p.Preferences = u.Preferences
	}
	p.UpdatedAt = now
	return p, nil
}

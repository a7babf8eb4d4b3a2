// Package session owns the session lifecycle: creation with credential
// injection, ownership checks, persistence, and teardown.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"gamgui/internal/backend"
)

// Status is the session lifecycle state.
type Status string

const (
	// StatusCreating: reserved in the store, sandbox not yet provisioned.
	StatusCreating Status = "Creating"
	// StatusActive: sandbox is up and exec-able.
	StatusActive Status = "Active"
	// StatusTerminating: teardown in progress.
	StatusTerminating Status = "Terminating"
	// StatusTerminated: torn down; the row is gone shortly after.
	StatusTerminated Status = "Terminated"
	// StatusError: provisioning failed irrecoverably.
	StatusError Status = "Error"
)

// Live reports whether the session still holds or may hold substrate
// resources.
func (s Status) Live() bool {
	switch s {
	case StatusCreating, StatusActive, StatusTerminating:
		return true
	}
	return false
}

// Session is one operator's sandboxed GAM environment.
//
// Handle is non-zero exactly while the status is Active or Terminating;
// transitions keep the two in step.
type Session struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name"`

	Status Status         `json:"status"`
	Handle backend.Handle `json:"handle,omitzero"`

	// CredentialRef names the substrate-native secret materialized for this
	// session, so teardown can remove it.
	CredentialRef string `json:"-"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// NewID mints a session id. Short enough to type, random enough to never
// collide in practice.
func NewID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "sess_" + raw[:8]
}

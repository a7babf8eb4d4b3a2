// Package backend abstracts the sandbox substrate. One adapter per
// substrate (Kubernetes pods, the local Docker engine, or a simulated
// in-memory engine) implements the same capability interface; everything
// above it is substrate-agnostic.
package backend

import (
	"context"
	"io"

	"gamgui/internal/secrets"
)

// HandleKind tags which substrate a sandbox lives on.
type HandleKind string

const (
	KindPod            HandleKind = "pod"
	KindLocalContainer HandleKind = "local"
	KindSimulated      HandleKind = "simulated"
)

// Handle is a weak reference to a sandbox. The substrate resource is the
// source of truth for liveness; a Handle may outlive its sandbox.
type Handle struct {
	Kind HandleKind `json:"kind"`
	ID   string     `json:"id"`
}

// IsZero reports whether the handle references nothing.
func (h Handle) IsZero() bool { return h.ID == "" }

// SandboxSpec describes the environment to provision for one session.
type SandboxSpec struct {
	OwnerID string
	// CredentialRef names the materialized secret produced by
	// MaterializeCredentials. The adapter mounts it read-only.
	CredentialRef string
	Env           map[string]string
}

// ExecResult is the outcome of a run-to-completion exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// SandboxStatus mirrors the substrate's view of the sandbox.
type SandboxStatus string

const (
	StatusPending  SandboxStatus = "Pending"
	StatusRunning  SandboxStatus = "Running"
	StatusStopped  SandboxStatus = "Stopped"
	StatusFailed   SandboxStatus = "Failed"
	StatusNotFound SandboxStatus = "NotFound"
)

// Backend is the capability interface over a sandbox substrate.
//
// Construction is two-phase: New* builds the value, Open establishes the
// control-plane connection. Every other method fails with
// AdapterNotInitialized until Open has succeeded.
type Backend interface {
	// Kind reports which substrate this adapter drives.
	Kind() HandleKind

	Open(ctx context.Context) error
	Ready() bool

	// MaterializeCredentials converts a credential bundle into a
	// substrate-native secret and returns its reference. The raw bytes are
	// not retained past this call.
	MaterializeCredentials(ctx context.Context, sessionID string, bundle *secrets.Bundle) (string, error)
	RemoveCredentials(ctx context.Context, ref string) error

	// CreateSandbox provisions an isolated environment holding the GAM
	// binary and the materialized credential, and blocks until it is
	// exec-able or the configured create timeout passes.
	CreateSandbox(ctx context.Context, sessionID string, spec SandboxSpec) (Handle, error)

	// Exec runs argv to completion inside the sandbox.
	Exec(ctx context.Context, h Handle, argv []string) (ExecResult, error)

	// ExecInteractiveShell opens the long-lived duplex stream used by the
	// terminal gateway.
	ExecInteractiveShell(ctx context.Context, h Handle) (*Stream, error)

	// PutFile streams r into path inside the sandbox, creating parent
	// directories. GetFile streams path's content into w. Both ride the
	// exec transport since not every substrate has a native file API.
	PutFile(ctx context.Context, h Handle, path string, r io.Reader) error
	GetFile(ctx context.Context, h Handle, path string, w io.Writer) error

	// Delete tears the sandbox down. Deleting an absent sandbox is a
	// no-op, not an error.
	Delete(ctx context.Context, h Handle) error

	Status(ctx context.Context, h Handle) (SandboxStatus, error)
}

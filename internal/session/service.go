package session

import (
	"context"
	"log/slog"
	"time"

	"gamgui/internal/backend"
	"gamgui/internal/gamerr"
	"gamgui/internal/secrets"
	"gamgui/internal/telemetry"
)

// Notifier receives lifecycle events. Implementations must never block the
// lifecycle; failures are theirs to swallow.
type Notifier interface {
	SessionCreated(ctx context.Context, s *Session)
	SessionDeleted(ctx context.Context, s *Session, initiator string)
}

// Service drives the session lifecycle against one backend adapter.
type Service struct {
	repo    Repository
	backend backend.Backend
	secrets secrets.Store
	log     *slog.Logger
	metrics *telemetry.Metrics
	notify  Notifier

	createTimeout time.Duration
}

// ServiceOptions wires the service's collaborators. Metrics and Notify are
// optional.
type ServiceOptions struct {
	Repo          Repository
	Backend       backend.Backend
	Secrets       secrets.Store
	Logger        *slog.Logger
	Metrics       *telemetry.Metrics
	Notify        Notifier
	CreateTimeout time.Duration
}

func NewService(opts ServiceOptions) *Service {
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = 60 * time.Second
	}
	return &Service{
		repo:          opts.Repo,
		backend:       opts.Backend,
		secrets:       opts.Secrets,
		log:           opts.Logger.With("component", "session"),
		metrics:       opts.Metrics,
		notify:        opts.Notify,
		createTimeout: opts.CreateTimeout,
	}
}

// Backend exposes the adapter for collaborators that exec against sandboxes.
func (svc *Service) Backend() backend.Backend { return svc.backend }

// Create provisions a session for the owner: reserve the id, fetch the
// credential bundle, materialize it, bring up the sandbox, then go Active.
// Any failure rolls back everything already provisioned; no partial session
// survives in the store.
func (svc *Service) Create(ctx context.Context, ownerID, name string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:           NewID(),
		OwnerID:      ownerID,
		Name:         name,
		Status:       StatusCreating,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := svc.repo.Create(ctx, s); err != nil {
		return nil, err
	}

	created, err := svc.provision(ctx, s)
	if err != nil {
		svc.countCreate("error")
		return nil, err
	}
	svc.countCreate("ok")
	if svc.metrics != nil {
		svc.metrics.SessionsActive.Inc()
	}
	if svc.notify != nil {
		svc.notify.SessionCreated(ctx, created)
	}
	svc.log.Info("Session created", "session", created.ID, "owner", ownerID,
		"backend", created.Handle.Kind, "handle", created.Handle.ID)
	return created, nil
}

func (svc *Service) provision(ctx context.Context, s *Session) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, svc.createTimeout)
	defer cancel()

	fail := func(err error) (*Session, error) {
		// Roll back with a fresh context so cancellation cannot strand
		// half-provisioned resources.
		cleanup := context.WithoutCancel(ctx)
		if !s.Handle.IsZero() {
			_ = svc.backend.Delete(cleanup, s.Handle)
		}
		if s.CredentialRef != "" {
			_ = svc.backend.RemoveCredentials(cleanup, s.CredentialRef)
		}
		_ = svc.repo.Delete(cleanup, s.ID)
		svc.log.Error("Session creation failed", "session", s.ID, "error", err)
		return nil, err
	}

	bundle, err := secrets.FetchBundle(ctx, svc.secrets, s.OwnerID)
	if err != nil {
		return fail(err)
	}

	ref, err := svc.backend.MaterializeCredentials(ctx, s.ID, bundle)
	if err != nil {
		return fail(err)
	}
	s.CredentialRef = ref

	handle, err := svc.backend.CreateSandbox(ctx, s.ID, backend.SandboxSpec{
		OwnerID:       s.OwnerID,
		CredentialRef: ref,
	})
	if err != nil {
		return fail(err)
	}
	s.Handle = handle
	s.Status = StatusActive
	s.LastActiveAt = time.Now().UTC()

	if err := svc.repo.Update(ctx, s); err != nil {
		return fail(err)
	}
	return s, nil
}

// Get returns the session when it exists and belongs to the owner. An
// ownership mismatch reports AccessDenied with no hint the id exists.
func (svc *Service) Get(ctx context.Context, ownerID, id string) (*Session, error) {
	s, err := svc.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.OwnerID != ownerID {
		return nil, gamerr.New(gamerr.KindAccessDenied, "session not accessible")
	}
	return s, nil
}

// List returns the owner's sessions, oldest first. Live sessions are
// checked against the backend so a sandbox that vanished underneath us
// surfaces as Error instead of a stale Active.
func (svc *Service) List(ctx context.Context, ownerID string) ([]*Session, error) {
	list, err := svc.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, s := range list {
		if !s.Status.Live() || s.Handle.IsZero() {
			continue
		}
		st, err := svc.backend.Status(ctx, s.Handle)
		if err != nil || st != backend.StatusNotFound {
			continue
		}
		wasActive := s.Status == StatusActive
		s.Status = StatusError
		s.Handle = backend.Handle{}
		if err := svc.repo.Update(ctx, s); err != nil {
			svc.log.Warn("Failed to record lost sandbox", "session", s.ID, "error", err)
			continue
		}
		if wasActive && svc.metrics != nil {
			svc.metrics.SessionsActive.Dec()
		}
		svc.log.Warn("Sandbox vanished; session marked errored", "session", s.ID)
	}
	return list, nil
}

// Touch records activity on the session for idle accounting.
func (svc *Service) Touch(ctx context.Context, id string) {
	if err := svc.repo.Touch(ctx, id, time.Now().UTC()); err != nil {
		svc.log.Warn("Failed to record session activity", "session", id, "error", err)
	}
}

// Delete tears the session down: sandbox, credentials, then the row.
// Deleting an absent session, or one another caller is already tearing
// down, succeeds without doing anything. A session the owner cannot see
// behaves exactly like an absent one.
func (svc *Service) Delete(ctx context.Context, ownerID, id, initiator string) error {
	s, err := svc.repo.Get(ctx, id)
	if gamerr.Is(err, gamerr.KindSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ownerID != "" && s.OwnerID != ownerID {
		return nil
	}

	moved, err := svc.repo.UpdateStatusIf(ctx, id,
		[]Status{StatusCreating, StatusActive, StatusError}, StatusTerminating)
	if err != nil {
		return err
	}
	if !moved {
		// Lost the race; the winner finishes the teardown.
		return nil
	}
	wasActive := s.Status == StatusActive

	if !s.Handle.IsZero() {
		if err := svc.backend.Delete(ctx, s.Handle); err != nil {
			svc.log.Warn("Sandbox teardown failed", "session", id, "error", err)
		}
	}
	if s.CredentialRef != "" {
		if err := svc.backend.RemoveCredentials(ctx, s.CredentialRef); err != nil {
			svc.log.Warn("Credential teardown failed", "session", id, "error", err)
		}
	}

	if _, err := svc.repo.UpdateStatusIf(ctx, id, []Status{StatusTerminating}, StatusTerminated); err != nil {
		return err
	}
	if err := svc.repo.Delete(ctx, id); err != nil {
		return err
	}

	if svc.metrics != nil {
		svc.metrics.SessionsDeleted.WithLabelValues(initiator).Inc()
		if wasActive {
			svc.metrics.SessionsActive.Dec()
		}
	}
	if svc.notify != nil {
		svc.notify.SessionDeleted(ctx, s, initiator)
	}
	svc.log.Info("Session deleted", "session", id, "initiator", initiator)
	return nil
}

func (svc *Service) countCreate(outcome string) {
	if svc.metrics != nil {
		svc.metrics.SessionsCreated.WithLabelValues(string(svc.backend.Kind()), outcome).Inc()
	}
}

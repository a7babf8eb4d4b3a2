package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"gamgui/internal/gamerr"
)

// MemRepo is an in-memory Repository used in test mode and unit tests.
type MemRepo struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemRepo() *MemRepo {
	return &MemRepo{sessions: make(map[string]*Session)}
}

func (r *MemRepo) Close() error { return nil }

func (r *MemRepo) Create(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return gamerr.Newf(gamerr.KindSessionConflict, "session %s already exists", s.ID)
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemRepo) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, gamerr.Newf(gamerr.KindSessionNotFound, "session %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (r *MemRepo) List(ctx context.Context) ([]*Session, error) {
	return r.list(func(*Session) bool { return true })
}

func (r *MemRepo) ListByOwner(ctx context.Context, ownerID string) ([]*Session, error) {
	return r.list(func(s *Session) bool { return s.OwnerID == ownerID })
}

func (r *MemRepo) list(keep func(*Session) bool) ([]*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemRepo) Update(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return gamerr.Newf(gamerr.KindSessionNotFound, "session %s not found", s.ID)
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemRepo) UpdateStatusIf(ctx context.Context, id string, from []Status, to Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if s.Status == f {
			s.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *MemRepo) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastActiveAt = at
	}
	return nil
}

func (r *MemRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gamgui/internal/backend"
	"gamgui/internal/gamerr"
)

// repoSuite runs the Repository contract against an implementation.
func repoSuite(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	mk := func(id, owner string, status Status) *Session {
		now := time.Now().UTC().Truncate(time.Second)
		return &Session{
			ID: id, OwnerID: owner, Name: "work", Status: status,
			CreatedAt: now, LastActiveAt: now,
		}
	}

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		s := mk("sess_a", "alice", StatusCreating)
		if err := repo.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
		got, err := repo.Get(ctx, "sess_a")
		if err != nil {
			t.Fatal(err)
		}
		if got.OwnerID != "alice" || got.Status != StatusCreating {
			t.Errorf("round trip mismatch: %+v", got)
		}
	})

	t.Run("create conflict", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		if err := repo.Create(ctx, mk("sess_a", "alice", StatusCreating)); err != nil {
			t.Fatal(err)
		}
		err := repo.Create(ctx, mk("sess_a", "bob", StatusCreating))
		if !gamerr.Is(err, gamerr.KindSessionConflict) {
			t.Errorf("expected SessionConflict, got %v", err)
		}
	})

	t.Run("concurrent create same id", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = repo.Create(ctx, mk("sess_race", "alice", StatusCreating))
			}(i)
		}
		wg.Wait()

		winners := 0
		for i, err := range errs {
			switch {
			case err == nil:
				winners++
			case !gamerr.Is(err, gamerr.KindSessionConflict):
				t.Errorf("creator %d: expected SessionConflict, got %v", i, err)
			}
		}
		if winners != 1 {
			t.Errorf("expected exactly one winner, got %d", winners)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		_, err := repo.Get(ctx, "sess_nope")
		if !gamerr.Is(err, gamerr.KindSessionNotFound) {
			t.Errorf("expected SessionNotFound, got %v", err)
		}
	})

	t.Run("update persists handle", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		s := mk("sess_a", "alice", StatusCreating)
		if err := repo.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
		s.Status = StatusActive
		s.Handle = backend.Handle{Kind: backend.KindPod, ID: "gam-session-sess-a"}
		s.CredentialRef = "gam-credentials-sess-a"
		if err := repo.Update(ctx, s); err != nil {
			t.Fatal(err)
		}

		got, err := repo.Get(ctx, "sess_a")
		if err != nil {
			t.Fatal(err)
		}
		if got.Handle != s.Handle || got.CredentialRef != s.CredentialRef || got.Status != StatusActive {
			t.Errorf("update lost fields: %+v", got)
		}
	})

	t.Run("list by owner ordered", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		a := mk("sess_a", "alice", StatusActive)
		b := mk("sess_b", "alice", StatusActive)
		b.CreatedAt = a.CreatedAt.Add(time.Second)
		c := mk("sess_c", "bob", StatusActive)
		for _, s := range []*Session{b, a, c} {
			if err := repo.Create(ctx, s); err != nil {
				t.Fatal(err)
			}
		}

		got, err := repo.ListByOwner(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].ID != "sess_a" || got[1].ID != "sess_b" {
			t.Errorf("wrong owner listing: %+v", got)
		}

		all, err := repo.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 sessions, got %d", len(all))
		}
	})

	t.Run("test-and-set status", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		if err := repo.Create(ctx, mk("sess_a", "alice", StatusActive)); err != nil {
			t.Fatal(err)
		}

		moved, err := repo.UpdateStatusIf(ctx, "sess_a", []Status{StatusCreating, StatusActive}, StatusTerminating)
		if err != nil {
			t.Fatal(err)
		}
		if !moved {
			t.Fatal("transition from Active should have happened")
		}

		// the same transition again loses: it is no longer in a from-state
		moved, err = repo.UpdateStatusIf(ctx, "sess_a", []Status{StatusCreating, StatusActive}, StatusTerminating)
		if err != nil {
			t.Fatal(err)
		}
		if moved {
			t.Error("second transition should lose the race")
		}

		// absent rows do not transition
		moved, err = repo.UpdateStatusIf(ctx, "sess_nope", []Status{StatusActive}, StatusTerminating)
		if err != nil {
			t.Fatal(err)
		}
		if moved {
			t.Error("absent row reported a transition")
		}
	})

	t.Run("touch and delete", func(t *testing.T) {
		repo := newRepo(t)
		defer repo.Close()

		s := mk("sess_a", "alice", StatusActive)
		if err := repo.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
		later := s.LastActiveAt.Add(time.Minute)
		if err := repo.Touch(ctx, "sess_a", later); err != nil {
			t.Fatal(err)
		}
		got, _ := repo.Get(ctx, "sess_a")
		if !got.LastActiveAt.Equal(later) {
			t.Errorf("touch not persisted: %v", got.LastActiveAt)
		}

		if err := repo.Delete(ctx, "sess_a"); err != nil {
			t.Fatal(err)
		}
		if err := repo.Delete(ctx, "sess_a"); err != nil {
			t.Errorf("double delete should be a no-op, got %v", err)
		}
		if _, err := repo.Get(ctx, "sess_a"); !gamerr.Is(err, gamerr.KindSessionNotFound) {
			t.Error("row should be gone")
		}
	})
}

func TestMemRepo(t *testing.T) {
	repoSuite(t, func(t *testing.T) Repository { return NewMemRepo() })
}

func TestSQLiteRepo(t *testing.T) {
	repoSuite(t, func(t *testing.T) Repository {
		repo, err := NewSQLiteRepo(filepath.Join(t.TempDir(), "sessions.db"))
		if err != nil {
			t.Fatal(err)
		}
		return repo
	})
}

func TestNewIDShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != 13 || id[:5] != "sess_" {
			t.Fatalf("unexpected id %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

package session

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamgui/internal/backend"
	"gamgui/internal/gamerr"
	"gamgui/internal/secrets"
)

func serviceForTest(t *testing.T) (*Service, *backend.SimBackend, *secrets.MemStore) {
	t.Helper()
	be := backend.NewSimBackend()
	require.NoError(t, be.Open(context.Background()))

	store := secrets.NewMemStore()
	require.NoError(t, store.Put(context.Background(), "alice", secrets.NameOAuthToken, []byte("token")))

	svc := NewService(ServiceOptions{
		Repo:    NewMemRepo(),
		Backend: be,
		Secrets: store,
		Logger:  slog.Default(),
	})
	return svc, be, store
}

func TestCreateActivatesSession(t *testing.T) {
	svc, _, _ := serviceForTest(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "admin-work")
	require.NoError(t, err)

	assert.Equal(t, StatusActive, s.Status)
	assert.False(t, s.Handle.IsZero(), "Active session must hold a handle")
	assert.NotEmpty(t, s.CredentialRef)

	got, err := svc.Get(ctx, "alice", s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Handle, got.Handle)
}

func TestCreateWithoutCredentials(t *testing.T) {
	svc, _, _ := serviceForTest(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "bob", "no-creds")
	assert.True(t, gamerr.Is(err, gamerr.KindCredentialsMissing), "got %v", err)

	// no partial session may survive the failure
	list, err := svc.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateRollsBackOnSandboxFailure(t *testing.T) {
	svc, be, _ := serviceForTest(t)
	ctx := context.Background()

	be.FailCreate = gamerr.New(gamerr.KindQuotaExceeded, "pod quota reached")
	_, err := svc.Create(ctx, "alice", "doomed")
	assert.True(t, gamerr.Is(err, gamerr.KindQuotaExceeded), "got %v", err)

	list, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list, "failed create must leave no row behind")
}

func TestCreateSecretStoreOutage(t *testing.T) {
	svc, _, store := serviceForTest(t)
	store.Unavailable = true

	_, err := svc.Create(context.Background(), "alice", "x")
	assert.True(t, gamerr.Is(err, gamerr.KindSecretStoreUnavailable), "got %v", err)
	assert.True(t, gamerr.Retryable(err))
}

func TestGetEnforcesOwnership(t *testing.T) {
	svc, _, _ := serviceForTest(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "private")
	require.NoError(t, err)

	_, err = svc.Get(ctx, "mallory", s.ID)
	assert.True(t, gamerr.Is(err, gamerr.KindAccessDenied), "got %v", err)
	// the message must not confirm the session exists
	assert.NotContains(t, err.Error(), s.ID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc, be, _ := serviceForTest(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "work")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "alice", s.ID, "api"))
	require.NoError(t, svc.Delete(ctx, "alice", s.ID, "api"), "double delete must succeed")
	require.NoError(t, svc.Delete(ctx, "alice", "sess_missing", "api"), "deleting the absent must succeed")

	status, err := be.Status(ctx, s.Handle)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusNotFound, status, "sandbox must be gone")
}

func TestDeleteCrossOwnerIsSilentNoop(t *testing.T) {
	svc, _, _ := serviceForTest(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "work")
	require.NoError(t, err)

	// behaves exactly like deleting a nonexistent session
	require.NoError(t, svc.Delete(ctx, "mallory", s.ID, "api"))

	got, err := svc.Get(ctx, "alice", s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status, "foreign delete must not touch the session")
}

func TestConcurrentDeletes(t *testing.T) {
	svc, _, _ := serviceForTest(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "contended")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Delete(ctx, "alice", s.ID, "api")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "deleter %d", i)
	}
	list, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHandleStatusInvariant(t *testing.T) {
	svc, _, _ := serviceForTest(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "inv")
	require.NoError(t, err)

	for _, sess := range mustList(t, svc, "alice") {
		switch sess.Status {
		case StatusActive, StatusTerminating:
			assert.False(t, sess.Handle.IsZero(), "live status without handle")
		default:
			assert.True(t, sess.Handle.IsZero(), "handle on non-live status %s", sess.Status)
		}
	}
	require.NoError(t, svc.Delete(ctx, "alice", s.ID, "api"))
}

func TestListSurfacesVanishedSandbox(t *testing.T) {
	svc, be, _ := serviceForTest(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "alice", "doomed")
	require.NoError(t, err)

	// the sandbox disappears behind the service's back
	require.NoError(t, be.Delete(ctx, s.Handle))

	list, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusError, list[0].Status)
	assert.True(t, list[0].Handle.IsZero(), "errored session must drop its handle")

	// the refresh is persisted, not just reported
	got, err := svc.Get(ctx, "alice", s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)

	// and the errored session can still be deleted
	require.NoError(t, svc.Delete(ctx, "alice", s.ID, "api"))
}

func mustList(t *testing.T, svc *Service, owner string) []*Session {
	t.Helper()
	list, err := svc.List(context.Background(), owner)
	require.NoError(t, err)
	return list
}

func TestReaperDeletesIdleSessions(t *testing.T) {
	svc, _, _ := serviceForTest(t)
	ctx := context.Background()

	old, err := svc.Create(ctx, "alice", "stale")
	require.NoError(t, err)
	fresh, err := svc.Create(ctx, "alice", "busy")
	require.NoError(t, err)

	// age the first session past the TTL
	require.NoError(t, svc.repo.Touch(ctx, old.ID, time.Now().Add(-2*time.Hour)))

	reaper := NewReaper(svc, time.Hour, time.Minute, slog.Default(), nil)
	deleted := reaper.Sweep(ctx)
	assert.Equal(t, 1, deleted)

	_, err = svc.Get(ctx, "alice", old.ID)
	assert.True(t, gamerr.Is(err, gamerr.KindSessionNotFound), "stale session should be reaped, got %v", err)
	_, err = svc.Get(ctx, "alice", fresh.ID)
	assert.NoError(t, err, "fresh session must survive")
}

func TestReaperZeroTTLReapsEverything(t *testing.T) {
	svc, _, _ := serviceForTest(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", "one")
	require.NoError(t, err)

	reaper := NewReaper(svc, 0, time.Minute, slog.Default(), nil)
	// zero TTL means any Active session is already past its cutoff
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, reaper.Sweep(ctx))
}

func TestReaperNegativeTTLDisabled(t *testing.T) {
	svc, _, _ := serviceForTest(t)
	reaper := NewReaper(svc, -1, time.Millisecond, slog.Default(), nil)

	done := make(chan struct{})
	go func() {
		reaper.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("negative TTL should disable the reaper immediately")
	}
}

package secrets

import (
	"context"
	"testing"

	"gamgui/internal/gamerr"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Put(ctx, "alice", NameOAuthToken, []byte("token-bytes")); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "alice", NameOAuthToken)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "token-bytes" {
		t.Errorf("Get = %q", got)
	}

	names, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != NameOAuthToken {
		t.Errorf("List = %v", names)
	}

	if err := store.Delete(ctx, "alice", NameOAuthToken); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "alice", NameOAuthToken); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
	if _, err := store.Get(ctx, "alice", NameOAuthToken); !gamerr.Is(err, gamerr.KindSecretNotFound) {
		t.Errorf("Get after delete = %v, want SecretNotFound", err)
	}
}

func TestFileStoreIsolatesOwners(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Put(ctx, "alice", NameOAuthToken, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "bob", NameOAuthToken); !gamerr.Is(err, gamerr.KindSecretNotFound) {
		t.Errorf("bob must not see alice's secret, got %v", err)
	}
	names, err := store.List(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("List for unknown owner = %v, want empty", names)
	}
}

func TestFileStoreSanitizesOwnerPaths(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFileStore(root)
	if err != nil {
		t.Fatal(err)
	}

	// a hostile owner id must not escape the store root
	if err := store.Put(ctx, "../../etc", "passwd", []byte("x")); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "../../etc", "passwd")
	if err != nil || string(got) != "x" {
		t.Fatalf("sanitized owner round trip failed: %v %q", err, got)
	}
}

func TestFetchBundle(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	if err := store.Put(ctx, "alice", NameOAuthToken, []byte("t")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "alice", NameServiceKey, []byte("{}")); err != nil {
		t.Fatal(err)
	}

	b, err := FetchBundle(ctx, store, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if b.OwnerID != "alice" || len(b.Files) != 2 {
		t.Errorf("bundle = %+v", b)
	}
	if string(b.Files[NameOAuthToken]) != "t" {
		t.Errorf("bundle missing %s", NameOAuthToken)
	}
}

func TestFetchBundleEmptyOwner(t *testing.T) {
	_, err := FetchBundle(context.Background(), NewMemStore(), "bob")
	if !gamerr.Is(err, gamerr.KindCredentialsMissing) {
		t.Errorf("empty owner = %v, want CredentialsMissing", err)
	}
}

func TestFetchBundleOutage(t *testing.T) {
	store := NewMemStore()
	store.Unavailable = true
	_, err := FetchBundle(context.Background(), store, "alice")
	if !gamerr.Is(err, gamerr.KindSecretStoreUnavailable) {
		t.Errorf("outage = %v, want SecretStoreUnavailable", err)
	}
	if !gamerr.Retryable(err) {
		t.Error("store outage must be retryable")
	}
}

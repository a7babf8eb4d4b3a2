// Package secrets is the adapter over the external credential store. Only
// the get/put/delete/list contract is consumed here; the store's own
// persistence format belongs to the collaborator that owns it.
package secrets

import (
	"context"

	"gamgui/internal/gamerr"
)

// Well-known logical names inside a GAM credential bundle.
const (
	NameOAuthToken    = "oauth2.txt"
	NameServiceKey    = "oauth2service.json"
	NameClientSecrets = "client_secrets.json"
)

// Bundle is an owner's credential set: logical name to raw bytes. The
// orchestrator only holds a Bundle long enough to materialize it into a
// substrate-native secret.
type Bundle struct {
	OwnerID string
	Files   map[string][]byte
}

// Store is the credential store contract.
type Store interface {
	// Get returns the bytes stored under name for the owner.
	// Returns a SecretNotFound error when absent.
	Get(ctx context.Context, ownerID, name string) ([]byte, error)
	Put(ctx context.Context, ownerID, name string, data []byte) error
	Delete(ctx context.Context, ownerID, name string) error
	List(ctx context.Context, ownerID string) ([]string, error)
}

// FetchBundle collects every stored file for an owner into a Bundle.
// Returns CredentialsMissing when the owner has nothing uploaded, so the
// session service can tell the user to remediate rather than retry.
func FetchBundle(ctx context.Context, s Store, ownerID string) (*Bundle, error) {
	names, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, gamerr.Newf(gamerr.KindCredentialsMissing, "owner %s has no credentials uploaded", ownerID)
	}

	b := &Bundle{OwnerID: ownerID, Files: make(map[string][]byte, len(names))}
	for _, name := range names {
		data, err := s.Get(ctx, ownerID, name)
		if err != nil {
			return nil, err
		}
		b.Files[name] = data
	}
	return b, nil
}

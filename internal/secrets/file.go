package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gamgui/internal/gamerr"
)

// FileStore keeps credential bundles as files under root/<owner>/<name>.
// It is the store used with the local docker backend, where the same
// directory doubles as the read-only bind mount for sandboxes.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// OwnerDir returns the directory holding one owner's files, creating it if
// needed. The docker backend mounts this read-only into sandboxes.
func (s *FileStore) OwnerDir(ownerID string) (string, error) {
	dir := filepath.Join(s.root, sanitizeOwner(ownerID))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create owner dir: %w", err)
	}
	return dir, nil
}

func (s *FileStore) path(ownerID, name string) string {
	return filepath.Join(s.root, sanitizeOwner(ownerID), filepath.Base(name))
}

func (s *FileStore) Get(ctx context.Context, ownerID, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(ownerID, name))
	if os.IsNotExist(err) {
		return nil, gamerr.Newf(gamerr.KindSecretNotFound, "secret %s not found for owner %s", name, ownerID)
	}
	if err != nil {
		return nil, gamerr.Wrap(gamerr.KindSecretStoreUnavailable, err, "failed to read secret")
	}
	return data, nil
}

func (s *FileStore) Put(ctx context.Context, ownerID, name string, data []byte) error {
	if _, err := s.OwnerDir(ownerID); err != nil {
		return gamerr.Wrap(gamerr.KindSecretStoreUnavailable, err, "failed to prepare owner dir")
	}
	if err := os.WriteFile(s.path(ownerID, name), data, 0600); err != nil {
		return gamerr.Wrap(gamerr.KindSecretStoreUnavailable, err, "failed to write secret")
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, ownerID, name string) error {
	err := os.Remove(s.path(ownerID, name))
	if err != nil && !os.IsNotExist(err) {
		return gamerr.Wrap(gamerr.KindSecretStoreUnavailable, err, "failed to delete secret")
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, ownerID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, sanitizeOwner(ownerID)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, gamerr.Wrap(gamerr.KindSecretStoreUnavailable, err, "failed to list secrets")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// sanitizeOwner keeps owner ids path-safe.
func sanitizeOwner(ownerID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(ownerID)
}

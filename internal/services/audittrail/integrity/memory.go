package integrity

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// MemorySecretStore keeps secret versions in process memory. It is the
// SecretStore for embedding the chain and verifier without a secrets
// database; registries built over the same value share rotations the way
// processes sharing a secrets file do. Nothing survives a restart.
type MemorySecretStore struct {
	mu       sync.Mutex
	versions []SecretVersion
}

// ListSecretVersions returns copies of the stored versions in insertion order.
func (s *MemorySecretStore) ListSecretVersions(ctx context.Context) ([]SecretVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SecretVersion, len(s.versions))
	for i, v := range s.versions {
		v.Material = bytes.Clone(v.Material)
		out[i] = v
	}
	return out, nil
}

// InsertSecretVersion appends a version. Re-inserting an id fails.
func (s *MemorySecretStore) InsertSecretVersion(ctx context.Context, version SecretVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.Version == version.Version {
			return fmt.Errorf("secret version %q already stored", version.Version)
		}
	}
	version.Material = bytes.Clone(version.Material)
	s.versions = append(s.versions, version)
	return nil
}

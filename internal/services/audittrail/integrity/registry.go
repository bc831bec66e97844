package integrity

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
)

// MinMaterialBytes is the shortest key material the registry accepts.
const MinMaterialBytes = 16

// reloadTimeout bounds the store read behind a lookup miss.
const reloadTimeout = 5 * time.Second

// SecretVersion is one generation of keying material.
type SecretVersion struct {
	Version   string
	Material  []byte
	CreatedAt time.Time
	CreatedBy string
}

// VersionInfo describes a secret version without its material.
type VersionInfo struct {
	Version   string
	CreatedAt time.Time
	CreatedBy string
	Current   bool
}

// SecretStore persists secret versions. Implementations must never update or
// delete a stored version and must return versions in insertion order.
type SecretStore interface {
	ListSecretVersions(ctx context.Context) ([]SecretVersion, error)
	InsertSecretVersion(ctx context.Context, version SecretVersion) error
}

// Registry holds versioned key material for the keyed hash.
//
// Lookups read an immutable snapshot; Rotate publishes a new snapshot that
// contains every previous version plus the new current one.
type Registry struct {
	store SecretStore
	now   func() time.Time

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	versions map[string]SecretVersion
	order    []string
}

func (s *snapshot) current() string {
	if s == nil || len(s.order) == 0 {
		return ""
	}
	return s.order[len(s.order)-1]
}

func (s *snapshot) with(version SecretVersion) *snapshot {
	next := &snapshot{
		versions: make(map[string]SecretVersion, len(s.versions)+1),
		order:    make([]string, 0, len(s.order)+1),
	}
	for k, v := range s.versions {
		next.versions[k] = v
	}
	next.order = append(next.order, s.order...)
	next.versions[version.Version] = version
	next.order = append(next.order, version.Version)
	return next
}

// NewRegistry loads every stored version. The most recently stored version
// is current.
func NewRegistry(ctx context.Context, store SecretStore) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("secret store is required")
	}
	r := &Registry{store: store, now: time.Now}
	if err := r.reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh reloads the store so versions rotated by another process sharing
// it become visible, including a new current version.
func (r *Registry) Refresh(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("secret registry is not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reload(ctx)
}

// reload replaces the snapshot with the stored versions. Callers other than
// NewRegistry hold mu.
func (r *Registry) reload(ctx context.Context) error {
	stored, err := r.store.ListSecretVersions(ctx)
	if err != nil {
		return fmt.Errorf("load secret versions: %w", err)
	}
	snap := &snapshot{versions: map[string]SecretVersion{}}
	for _, v := range stored {
		if _, dup := snap.versions[v.Version]; dup {
			return fmt.Errorf("secret version %q is stored twice", v.Version)
		}
		snap = snap.with(v)
	}
	if prev := r.snap.Load(); prev != nil {
		for _, id := range prev.order {
			if _, ok := snap.versions[id]; !ok {
				return fmt.Errorf("secret version %q disappeared from the store", id)
			}
		}
	}
	r.snap.Store(snap)
	return nil
}

// Secret returns the material recorded for version. A version unknown to the
// snapshot triggers one reload before it is reported missing.
func (r *Registry) Secret(version string) ([]byte, error) {
	if r == nil {
		return nil, apperrors.New(apperrors.CodeMissingSecretVersion, "secret registry is not configured")
	}
	v, ok := r.snap.Load().versions[version]
	if !ok {
		v, ok = r.reloadFor(version)
	}
	if !ok {
		return nil, apperrors.WithMetadata(
			apperrors.CodeMissingSecretVersion,
			fmt.Sprintf("secret version %q is unknown", version),
			map[string]string{"SecretVersion": version},
		)
	}
	return bytes.Clone(v.Material), nil
}

func (r *Registry) reloadFor(version string) (SecretVersion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.snap.Load().versions[version]; ok {
		return v, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	if err := r.reload(ctx); err != nil {
		log.Printf("reload secret versions for %q: %v", version, err)
		return SecretVersion{}, false
	}
	v, ok := r.snap.Load().versions[version]
	return v, ok
}

// CurrentVersion returns the version used for new writes.
func (r *Registry) CurrentVersion() (string, error) {
	if r == nil {
		return "", apperrors.New(apperrors.CodeNoActiveSecret, "secret registry is not configured")
	}
	current := r.snap.Load().current()
	if current == "" {
		return "", apperrors.New(apperrors.CodeNoActiveSecret, "no active secret version")
	}
	return current, nil
}

// Versions lists every known version, oldest first, without material.
func (r *Registry) Versions() []VersionInfo {
	if r == nil {
		return nil
	}
	snap := r.snap.Load()
	current := snap.current()
	out := make([]VersionInfo, 0, len(snap.order))
	for _, id := range snap.order {
		v := snap.versions[id]
		out = append(out, VersionInfo{
			Version:   v.Version,
			CreatedAt: v.CreatedAt,
			CreatedBy: v.CreatedBy,
			Current:   id == current,
		})
	}
	return out
}

// Rotate appends a new version and makes it current. Existing versions are
// never replaced.
func (r *Registry) Rotate(ctx context.Context, version string, material []byte, createdBy string) (VersionInfo, error) {
	if r == nil {
		return VersionInfo{}, fmt.Errorf("secret registry is not configured")
	}
	sv, err := r.validate(version, material, createdBy)
	if err != nil {
		return VersionInfo{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.reload(ctx); err != nil {
		return VersionInfo{}, err
	}
	snap := r.snap.Load()
	if _, exists := snap.versions[sv.Version]; exists {
		return VersionInfo{}, apperrors.WithMetadata(
			apperrors.CodeSecretVersionExists,
			fmt.Sprintf("secret version %q already exists", sv.Version),
			map[string]string{"SecretVersion": sv.Version},
		)
	}
	if err := r.store.InsertSecretVersion(ctx, sv); err != nil {
		return VersionInfo{}, fmt.Errorf("persist secret version: %w", err)
	}
	r.snap.Store(snap.with(sv))
	return VersionInfo{Version: sv.Version, CreatedAt: sv.CreatedAt, CreatedBy: sv.CreatedBy, Current: true}, nil
}

// Bootstrap imports configured versions that are not stored yet, in order.
// A configured version already stored with different material is an error:
// replacing it would invalidate every entry signed with it.
func (r *Registry) Bootstrap(ctx context.Context, configured []SecretVersion) error {
	for _, cv := range configured {
		snap := r.snap.Load()
		if existing, ok := snap.versions[strings.TrimSpace(cv.Version)]; ok {
			if !bytes.Equal(existing.Material, cv.Material) {
				return apperrors.WithMetadata(
					apperrors.CodeSecretVersionExists,
					fmt.Sprintf("secret version %q is already stored with different material", existing.Version),
					map[string]string{"SecretVersion": existing.Version},
				)
			}
			continue
		}
		if _, err := r.Rotate(ctx, cv.Version, cv.Material, cv.CreatedBy); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) validate(version string, material []byte, createdBy string) (SecretVersion, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return SecretVersion{}, apperrors.New(apperrors.CodeSecretInvalid, "secret version id is required")
	}
	if len(material) < MinMaterialBytes {
		return SecretVersion{}, apperrors.New(apperrors.CodeSecretInvalid,
			fmt.Sprintf("secret material must be at least %d bytes", MinMaterialBytes))
	}
	createdBy = strings.TrimSpace(createdBy)
	if createdBy == "" {
		createdBy = "system"
	}
	return SecretVersion{
		Version:   version,
		Material:  bytes.Clone(material),
		CreatedAt: r.now().UTC(),
		CreatedBy: createdBy,
	}, nil
}

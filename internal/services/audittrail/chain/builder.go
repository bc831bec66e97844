// Package chain is the write path of the audit trail: it links each new
// entry to its actor's previous hash and persists it.
package chain

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/entry"
)

// DefaultMaxAttempts bounds retries after a head conflict.
const DefaultMaxAttempts = 5

// Secrets resolves key material for signing. Refresh picks up versions
// rotated by other processes sharing the secret store.
type Secrets interface {
	Refresh(ctx context.Context) error
	CurrentVersion() (string, error)
	Secret(version string) ([]byte, error)
}

// Store is the part of the log store the builder writes through.
type Store interface {
	ChainHead(ctx context.Context, actorID string) (string, error)
	AppendEntry(ctx context.Context, e entry.LogEntry) (entry.LogEntry, error)
}

// Builder appends entries to per-actor hash chains.
//
// Appends for one actor are serialized in process by a per-actor mutex; the
// store's compare-and-set on the chain head covers writers in other
// processes.
type Builder struct {
	store       Store
	secrets     Secrets
	now         func() time.Time
	maxAttempts int
	locks       *lockArena
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the clock used for entries submitted without createdAt.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithMaxAttempts overrides the head conflict retry bound.
func WithMaxAttempts(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// NewBuilder creates a chain builder.
func NewBuilder(store Store, secrets Secrets, opts ...Option) (*Builder, error) {
	if store == nil {
		return nil, fmt.Errorf("entry store is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("secret registry is required")
	}
	b := &Builder{
		store:       store,
		secrets:     secrets,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		locks:       newLockArena(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Append validates in, links it to the actor's current head, signs it with
// the secret version current in the store and persists it. Nothing is written when no
// secret version is active.
func (b *Builder) Append(ctx context.Context, in entry.Input) (entry.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return entry.LogEntry{}, err
	}
	e, err := entry.NormalizeInput(in, b.now)
	if err != nil {
		return entry.LogEntry{}, err
	}

	release := b.locks.lock(e.ActorID)
	defer release()

	if err := b.secrets.Refresh(ctx); err != nil {
		return entry.LogEntry{}, fmt.Errorf("refresh secret versions: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		stored, err := b.appendOnce(ctx, e)
		if err == nil {
			return stored, nil
		}
		if !apperrors.HasCode(err, apperrors.CodeChainHeadConflict) {
			return entry.LogEntry{}, err
		}
		lastErr = err
	}
	return entry.LogEntry{}, fmt.Errorf("append entry for actor %s after %d attempts: %w", e.ActorID, b.maxAttempts, lastErr)
}

func (b *Builder) appendOnce(ctx context.Context, e entry.LogEntry) (entry.LogEntry, error) {
	version, err := b.secrets.CurrentVersion()
	if err != nil {
		return entry.LogEntry{}, err
	}
	material, err := b.secrets.Secret(version)
	if err != nil {
		return entry.LogEntry{}, apperrors.Wrap(apperrors.CodeNoActiveSecret, "current secret version is unresolvable", err)
	}

	prevHash, err := b.store.ChainHead(ctx, e.ActorID)
	if err != nil {
		return entry.LogEntry{}, fmt.Errorf("load chain head: %w", err)
	}

	hash, err := Hash(material, prevHash, e)
	if err != nil {
		return entry.LogEntry{}, err
	}
	e.PrevHash = prevHash
	e.Hash = hash
	e.SecretVersion = version

	stored, err := b.store.AppendEntry(ctx, e)
	if err != nil {
		return entry.LogEntry{}, err
	}
	return stored, nil
}

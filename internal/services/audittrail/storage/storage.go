// Package storage defines persistence contracts for the audit trail.
//
// It covers the append-only log of hash-linked entries, the verification run
// ledger, per-actor verification cursors and alert acknowledgements.
// Implementations (e.g., SQLite) live in subpackages.
//
// Common error codes:
//   - NOT_FOUND: requested record is missing
//   - IMMUTABILITY_VIOLATION: a persisted entry was asked to change
//   - CHAIN_HEAD_CONFLICT: an append raced another writer for the same actor
package storage

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/entry"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrImmutable is returned for any attempt to change a persisted entry.
var ErrImmutable = apperrors.New(apperrors.CodeImmutabilityViolation, "audit entry is immutable")

// ErrHeadConflict reports that an actor's chain head moved before the append
// could link to it.
var ErrHeadConflict = apperrors.New(apperrors.CodeChainHeadConflict, "actor chain head changed")

// EntryQuery selects log entries in (actor_id, id) order.
type EntryQuery struct {
	// ActorID restricts the query to one actor chain when set.
	ActorID string
	// AfterActorID and AfterID form the keyset position to resume after.
	// With ActorID set only AfterID is used.
	AfterActorID string
	AfterID      int64
	// UpToID bounds the query to entries with id <= UpToID when positive.
	UpToID int64
	Limit  int
}

// EntryReader is the read side of the log store used by verification.
type EntryReader interface {
	GetEntry(ctx context.Context, id int64) (entry.LogEntry, error)
	ListEntries(ctx context.Context, query EntryQuery) ([]entry.LogEntry, error)
	CountEntries(ctx context.Context, query EntryQuery) (int64, error)
	ListActors(ctx context.Context) ([]string, error)
	MaxEntryID(ctx context.Context) (int64, error)
}

// EntryStore persists log entries. Entries are append-only: UpdateEntry and
// DeleteEntry exist so every mutation attempt fails with
// IMMUTABILITY_VIOLATION instead of being silently ignored.
type EntryStore interface {
	EntryReader
	// ChainHead returns the hash of the actor's newest entry or "".
	ChainHead(ctx context.Context, actorID string) (string, error)
	// AppendEntry inserts e if the actor's head still equals e.PrevHash and
	// returns the entry with its assigned id.
	AppendEntry(ctx context.Context, e entry.LogEntry) (entry.LogEntry, error)
	UpdateEntry(ctx context.Context, e entry.LogEntry) error
	DeleteEntry(ctx context.Context, id int64) error
}

// Scope is the breadth of a verification run.
type Scope string

const (
	ScopeFull        Scope = "full"
	ScopeIncremental Scope = "incremental"
	ScopeActor       Scope = "actor"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeFull, ScopeIncremental, ScopeActor:
		return true
	default:
		return false
	}
}

// RunStatus is the terminal state of a verification run.
type RunStatus string

const (
	RunIntact RunStatus = "intact"
	RunBroken RunStatus = "broken"
	RunError  RunStatus = "error"
)

// VerificationRun is one recorded verification attempt. Runs are written
// once and never changed.
type VerificationRun struct {
	// Seq is assigned by the ledger and orders runs by recording time.
	Seq             int64
	ID              string
	RunAt           time.Time
	FinishedAt      time.Time
	Scope           Scope
	ActorID         string
	Status          RunStatus
	Intact          bool
	TotalEntries    int64
	VerifiedEntries int64
	BrokenAtEntryID *int64
	// BreakReason is the error code of the first divergence.
	BreakReason   string
	Expected      string
	Actual        string
	Error         string
	SourceTrigger string
	// LastEntryID and LastHash identify the last confirmed entry.
	LastEntryID int64
	LastHash    string
}

// RunFilter narrows FailedRuns.
type RunFilter struct {
	Since time.Time
	Until time.Time
	Limit int
}

// Health summarizes the most recent runs.
type Health struct {
	Runs        int
	Intact      int
	SuccessRate float64
}

// RunLedger is the append-only record of verification attempts. It never
// exposes log entry content.
type RunLedger interface {
	RecordRun(ctx context.Context, run VerificationRun) (VerificationRun, error)
	GetRun(ctx context.Context, id string) (VerificationRun, error)
	// LatestRun returns the newest run for a scope and actor ("" for full).
	LatestRun(ctx context.Context, scope Scope, actorID string) (VerificationRun, error)
	// LatestRuns returns the newest run for every scope and actor pair.
	LatestRuns(ctx context.Context) ([]VerificationRun, error)
	// FailedRuns returns runs that are not intact, newest first.
	FailedRuns(ctx context.Context, filter RunFilter) ([]VerificationRun, error)
	RollingHealth(ctx context.Context, lastN int) (Health, error)
	ListRuns(ctx context.Context, limit int) ([]VerificationRun, error)
}

// Cursor marks the last entry confirmed for an actor.
type Cursor struct {
	ActorID       string
	EntryID       int64
	Hash          string
	VerifiedCount int64
	RunID         string
	UpdatedAt     time.Time
}

// CursorStore persists incremental verification positions.
type CursorStore interface {
	GetCursor(ctx context.Context, actorID string) (Cursor, error)
	PutCursor(ctx context.Context, cursor Cursor) error
}

// AlertAction is an operator action on a surfaced chain break.
type AlertAction string

const (
	AlertAcknowledged AlertAction = "acknowledged"
	AlertCleared      AlertAction = "cleared"
)

// AlertEvent records an operator action. The newest event per run wins.
type AlertEvent struct {
	ID        int64
	RunID     string
	Action    AlertAction
	Actor     string
	Note      string
	CreatedAt time.Time
}

// AlertStore persists alert acknowledgements without touching runs.
type AlertStore interface {
	AppendAlertEvent(ctx context.Context, evt AlertEvent) (AlertEvent, error)
	// LatestAlertEvents returns the newest event for each of the run ids.
	LatestAlertEvents(ctx context.Context, runIDs []string) (map[string]AlertEvent, error)
}

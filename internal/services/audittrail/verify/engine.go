// Package verify recomputes audit chains and records the outcome of every
// verification attempt in the run ledger.
//
// A run moves from start to scanning and ends intact, broken or error. The
// scan is read-only: it takes no locks, bounds itself to the highest entry
// id seen at start, and checks each row independently, so appends made
// during the scan are left for the next run.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

const (
	// DefaultPageSize is the number of rows read per query.
	DefaultPageSize = 500
	// DefaultConcurrency bounds parallel actor runs in a batch.
	DefaultConcurrency = 4
	// TriggerOnDemand marks runs requested without a named trigger.
	TriggerOnDemand = "on-demand"
)

// Secrets resolves key material by version.
type Secrets interface {
	Secret(version string) ([]byte, error)
}

// Request describes one verification invocation.
type Request struct {
	Scope storage.Scope
	// ActorID selects one chain. Incremental requests without an actor
	// verify every actor as a batch.
	ActorID string
	Trigger string
}

// Engine runs verification scans.
type Engine struct {
	entries     storage.EntryReader
	ledger      storage.RunLedger
	cursors     storage.CursorStore
	secrets     Secrets
	pageSize    int
	concurrency int
	now         func() time.Time
	newID       func() string
	tel         *telemetry
}

// Option configures an Engine.
type Option func(*Engine)

// WithPageSize overrides the rows read per query.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithConcurrency overrides the batch fan-out limit.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithClock overrides the run timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// New creates a verification engine.
func New(entries storage.EntryReader, ledger storage.RunLedger, cursors storage.CursorStore, secrets Secrets, opts ...Option) (*Engine, error) {
	if entries == nil {
		return nil, fmt.Errorf("entry reader is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("run ledger is required")
	}
	if cursors == nil {
		return nil, fmt.Errorf("cursor store is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("secret registry is required")
	}
	e := &Engine{
		entries:     entries,
		ledger:      ledger,
		cursors:     cursors,
		secrets:     secrets,
		pageSize:    DefaultPageSize,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		newID:       uuid.NewString,
		tel:         newTelemetry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes req and returns the recorded runs. Chain breaks are reported
// in the runs, not as errors; the error covers invalid requests and runs
// that could not be recorded.
func (e *Engine) Run(ctx context.Context, req Request) ([]storage.VerificationRun, error) {
	actorID := strings.TrimSpace(req.ActorID)
	switch req.Scope {
	case storage.ScopeFull:
		if actorID != "" {
			return nil, apperrors.New(apperrors.CodeVerifyScopeInvalid, "full verification does not take an actor")
		}
		run, err := e.VerifyFull(ctx, req.Trigger)
		return []storage.VerificationRun{run}, err
	case storage.ScopeActor:
		run, err := e.VerifyActor(ctx, actorID, req.Trigger)
		if err != nil && apperrors.HasCode(err, apperrors.CodeVerifyScopeInvalid) {
			return nil, err
		}
		return []storage.VerificationRun{run}, err
	case storage.ScopeIncremental:
		if actorID == "" {
			return e.VerifyIncrementalBatch(ctx, nil, req.Trigger)
		}
		run, err := e.VerifyIncremental(ctx, actorID, req.Trigger)
		if err != nil && apperrors.HasCode(err, apperrors.CodeVerifyScopeInvalid) {
			return nil, err
		}
		return []storage.VerificationRun{run}, err
	default:
		return nil, apperrors.WithMetadata(
			apperrors.CodeVerifyScopeInvalid,
			fmt.Sprintf("verification scope %q is unknown", req.Scope),
			map[string]string{"Scope": string(req.Scope)},
		)
	}
}

// VerifyFull scans every actor chain in (actor_id, id) order.
func (e *Engine) VerifyFull(ctx context.Context, trigger string) (storage.VerificationRun, error) {
	s := e.newScan(storage.ScopeFull, "", trigger)
	ctx, span := e.tel.start(ctx, s.run)
	scanErr := func() error {
		upTo, err := e.entries.MaxEntryID(ctx)
		if err != nil {
			return fmt.Errorf("snapshot bound: %w", err)
		}
		if upTo == 0 {
			return nil
		}
		total, err := e.entries.CountEntries(ctx, storage.EntryQuery{UpToID: upTo})
		if err != nil {
			return fmt.Errorf("count entries: %w", err)
		}
		s.run.TotalEntries = total
		return e.scan(ctx, s, storage.EntryQuery{UpToID: upTo, Limit: e.pageSize})
	}()
	return e.finish(ctx, span, s, scanErr)
}

// VerifyActor scans one actor chain from genesis.
func (e *Engine) VerifyActor(ctx context.Context, actorID, trigger string) (storage.VerificationRun, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return storage.VerificationRun{}, apperrors.New(apperrors.CodeVerifyScopeInvalid, "actor verification requires an actor id")
	}
	s := e.newScan(storage.ScopeActor, actorID, trigger)
	ctx, span := e.tel.start(ctx, s.run)
	return e.finish(ctx, span, s, e.scanActor(ctx, s, actorID, 0))
}

// scanActor counts and scans actorID's entries after afterID, bounded by the
// current highest entry id.
func (e *Engine) scanActor(ctx context.Context, s *scanState, actorID string, afterID int64) error {
	upTo, err := e.entries.MaxEntryID(ctx)
	if err != nil {
		return fmt.Errorf("snapshot bound: %w", err)
	}
	if upTo == 0 {
		return nil
	}
	total, err := e.entries.CountEntries(ctx, storage.EntryQuery{ActorID: actorID, UpToID: upTo})
	if err != nil {
		return fmt.Errorf("count entries: %w", err)
	}
	s.run.TotalEntries = total
	return e.scan(ctx, s, storage.EntryQuery{ActorID: actorID, AfterID: afterID, UpToID: upTo, Limit: e.pageSize})
}

func (e *Engine) newScan(scope storage.Scope, actorID, trigger string) *scanState {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		trigger = TriggerOnDemand
	}
	return &scanState{
		run: storage.VerificationRun{
			ID:            e.newID(),
			RunAt:         e.now().UTC(),
			Scope:         scope,
			ActorID:       actorID,
			SourceTrigger: trigger,
		},
		secrets:   e.secrets,
		material:  make(map[string][]byte),
		positions: make(map[string]position),
	}
}

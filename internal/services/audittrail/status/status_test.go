package status

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/authz"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage/sqlite"
)

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type denyAuthorizer struct {
	calls int
}

func (d *denyAuthorizer) Authorize(context.Context, string, authz.Permission) (authz.Principal, error) {
	d.calls++
	return authz.Principal{}, authz.Unauthorized("credential rejected")
}

type downLedger struct{}

var errLedgerDown = errors.New("ledger down")

func (downLedger) GetRun(context.Context, string) (storage.VerificationRun, error) {
	return storage.VerificationRun{}, errLedgerDown
}

func (downLedger) LatestRuns(context.Context) ([]storage.VerificationRun, error) {
	return nil, errLedgerDown
}

func (downLedger) FailedRuns(context.Context, storage.RunFilter) ([]storage.VerificationRun, error) {
	return nil, errLedgerDown
}

func (downLedger) RollingHealth(context.Context, int) (storage.Health, error) {
	return storage.Health{}, errLedgerDown
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.OpenEvents(context.Background(), filepath.Join(t.TempDir(), "events.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSurface(t *testing.T, store *sqlite.Store) *Surface {
	t.Helper()
	surface, err := New(store, store, authz.NewTrusted("ops", authz.PermStatus, authz.PermAlerts),
		WithClock(func() time.Time { return baseTime.Add(time.Hour) }))
	if err != nil {
		t.Fatalf("new surface: %v", err)
	}
	return surface
}

func record(t *testing.T, store *sqlite.Store, run storage.VerificationRun) storage.VerificationRun {
	t.Helper()
	if run.RunAt.IsZero() {
		run.RunAt = baseTime
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.RunAt.Add(time.Second)
	}
	run.Intact = run.Status == storage.RunIntact
	got, err := store.RecordRun(context.Background(), run)
	if err != nil {
		t.Fatalf("record run %s: %v", run.ID, err)
	}
	return got
}

func intactFull(id string, total int64) storage.VerificationRun {
	return storage.VerificationRun{ID: id, Scope: storage.ScopeFull, Status: storage.RunIntact, TotalEntries: total, VerifiedEntries: total}
}

func brokenRun(id string, scope storage.Scope, actor string, entryID int64) storage.VerificationRun {
	return storage.VerificationRun{
		ID:              id,
		Scope:           scope,
		ActorID:         actor,
		Status:          storage.RunBroken,
		TotalEntries:    10,
		VerifiedEntries: 2,
		BrokenAtEntryID: &entryID,
		BreakReason:     string(apperrors.CodeHashMismatch),
		Expected:        "aaaa",
		Actual:          "bbbb",
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	store := openStore(t)
	trusted := authz.NewTrusted("ops")
	if _, err := New(nil, store, trusted); err == nil {
		t.Fatal("expected error for missing ledger")
	}
	if _, err := New(store, nil, trusted); err == nil {
		t.Fatal("expected error for missing alert store")
	}
	if _, err := New(store, store, nil); err == nil {
		t.Fatal("expected error for missing authorizer")
	}
}

func TestStatusWithoutRunsIsUnavailable(t *testing.T) {
	surface := newSurface(t, openStore(t))
	report, err := surface.Status(context.Background(), "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.State != StateUnavailable || report.Intact {
		t.Fatalf("expected unavailable report, got %+v", report)
	}
	if report.Detail == "" {
		t.Fatal("expected detail for unavailable report")
	}
}

func TestStatusHealthy(t *testing.T) {
	store := openStore(t)
	record(t, store, intactFull("run-1", 12))
	surface := newSurface(t, store)

	report, err := surface.Status(context.Background(), "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.State != StateHealthy || !report.Intact {
		t.Fatalf("expected healthy report, got %+v", report)
	}
	if report.TotalEntries != 12 || report.VerifiedEntries != 12 {
		t.Fatalf("totals = %d/%d, want 12/12", report.VerifiedEntries, report.TotalEntries)
	}
	if len(report.BrokenLinks) != 0 {
		t.Fatalf("expected no broken links, got %+v", report.BrokenLinks)
	}
	if !report.CheckedAt.Equal(baseTime.Add(time.Second)) {
		t.Fatalf("checked at = %v, want %v", report.CheckedAt, baseTime.Add(time.Second))
	}
	if report.Health.Runs != 1 || report.Health.Intact != 1 || report.Health.SuccessRate != 1 {
		t.Fatalf("unexpected health %+v", report.Health)
	}
}

func TestStatusCompromisedByNewerActorRun(t *testing.T) {
	store := openStore(t)
	record(t, store, intactFull("run-1", 12))
	record(t, store, brokenRun("run-2", storage.ScopeIncremental, "alice", 7))
	surface := newSurface(t, store)

	report, err := surface.Status(context.Background(), "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.State != StateCompromised || report.Intact {
		t.Fatalf("expected compromised report, got %+v", report)
	}
	if len(report.BrokenLinks) != 1 {
		t.Fatalf("broken links = %d, want 1", len(report.BrokenLinks))
	}
	link := report.BrokenLinks[0]
	if link.Index != 7 || link.ActorID != "alice" || link.RunID != "run-2" {
		t.Fatalf("unexpected broken link %+v", link)
	}
	if link.Reason != string(apperrors.CodeHashMismatch) || link.Expected != "aaaa" || link.Actual != "bbbb" {
		t.Fatalf("unexpected break detail %+v", link)
	}
	if report.TotalEntries != 12 {
		t.Fatalf("total entries = %d, want totals from the full run", report.TotalEntries)
	}
}

func TestStatusIgnoresActorRunsOlderThanFullRun(t *testing.T) {
	store := openStore(t)
	record(t, store, brokenRun("run-1", storage.ScopeActor, "alice", 3))
	record(t, store, intactFull("run-2", 12))
	surface := newSurface(t, store)

	report, err := surface.Status(context.Background(), "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.State != StateHealthy {
		t.Fatalf("expected the newer full run to supersede, got %+v", report)
	}
}

func TestStatusErroredRunIsUnavailable(t *testing.T) {
	store := openStore(t)
	record(t, store, storage.VerificationRun{ID: "run-1", Scope: storage.ScopeFull, Status: storage.RunError, Error: "context canceled", TotalEntries: 10, VerifiedEntries: 4})
	surface := newSurface(t, store)

	report, err := surface.Status(context.Background(), "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.State != StateUnavailable || report.Intact {
		t.Fatalf("expected unavailable report, got %+v", report)
	}
	if report.VerifiedEntries != 4 || report.TotalEntries != 10 {
		t.Fatalf("totals = %d/%d, want 4/10", report.VerifiedEntries, report.TotalEntries)
	}
}

func TestStatusBreakOutranksError(t *testing.T) {
	store := openStore(t)
	record(t, store, storage.VerificationRun{ID: "run-1", Scope: storage.ScopeFull, Status: storage.RunError, Error: "boom"})
	record(t, store, brokenRun("run-2", storage.ScopeIncremental, "bob", 5))
	surface := newSurface(t, store)

	report, err := surface.Status(context.Background(), "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.State != StateCompromised {
		t.Fatalf("expected compromised report, got %+v", report)
	}
}

func TestStatusWithoutFullRunSumsActorRuns(t *testing.T) {
	store := openStore(t)
	record(t, store, storage.VerificationRun{ID: "run-1", Scope: storage.ScopeIncremental, ActorID: "alice", Status: storage.RunIntact, TotalEntries: 3, VerifiedEntries: 3})
	record(t, store, storage.VerificationRun{ID: "run-2", Scope: storage.ScopeActor, ActorID: "bob", Status: storage.RunIntact, TotalEntries: 4, VerifiedEntries: 4})
	record(t, store, storage.VerificationRun{ID: "run-3", Scope: storage.ScopeActor, ActorID: "alice", Status: storage.RunIntact, TotalEntries: 5, VerifiedEntries: 5})
	surface := newSurface(t, store)

	report, err := surface.Status(context.Background(), "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.State != StateHealthy {
		t.Fatalf("expected healthy report, got %+v", report)
	}
	if report.TotalEntries != 9 || report.VerifiedEntries != 9 {
		t.Fatalf("totals = %d/%d, want 9/9 from the newest run per actor", report.VerifiedEntries, report.TotalEntries)
	}
}

func TestStatusUnauthorizedIsUnavailable(t *testing.T) {
	store := openStore(t)
	record(t, store, intactFull("run-1", 1))
	deny := &denyAuthorizer{}
	surface, err := New(store, store, deny)
	if err != nil {
		t.Fatalf("new surface: %v", err)
	}

	report, err := surface.Status(context.Background(), "bad")
	if !apperrors.HasCode(err, apperrors.CodeUnauthorizedInvocation) {
		t.Fatalf("expected %s, got %v", apperrors.CodeUnauthorizedInvocation, err)
	}
	if report.State != StateUnavailable || report.Intact {
		t.Fatalf("expected unavailable report, got %+v", report)
	}
	if deny.calls != 1 {
		t.Fatalf("authorize calls = %d, want 1", deny.calls)
	}
}

func TestStatusLedgerDownIsUnavailable(t *testing.T) {
	surface, err := New(downLedger{}, openStore(t), authz.NewTrusted("ops", authz.PermStatus))
	if err != nil {
		t.Fatalf("new surface: %v", err)
	}
	report, err := surface.Status(context.Background(), "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.State != StateUnavailable || report.Intact {
		t.Fatalf("expected unavailable report, got %+v", report)
	}
}

func TestStatusRequiresStatusPermission(t *testing.T) {
	store := openStore(t)
	surface, err := New(store, store, authz.NewTrusted("ops", authz.PermAlerts))
	if err != nil {
		t.Fatalf("new surface: %v", err)
	}
	_, err = surface.Status(context.Background(), "")
	if !apperrors.HasCode(err, apperrors.CodeUnauthorizedInvocation) {
		t.Fatalf("expected %s, got %v", apperrors.CodeUnauthorizedInvocation, err)
	}
}

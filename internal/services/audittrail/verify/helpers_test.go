package verify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/audittrail/internal/services/audittrail/chain"
	"github.com/louisbranch/audittrail/internal/services/audittrail/entry"
	"github.com/louisbranch/audittrail/internal/services/audittrail/integrity"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage/sqlite"
)

var (
	keyV1 = []byte("0123456789abcdef-v1")
	keyV2 = []byte("0123456789abcdef-v2")
)

type harness struct {
	path    string
	store   *sqlite.Store
	secrets *integrity.MemorySecretStore
	reg     *integrity.Registry
	builder *chain.Builder
	created int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.sqlite")
	store, err := sqlite.OpenEvents(ctx, path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	secrets := &integrity.MemorySecretStore{}
	reg, err := integrity.NewRegistry(ctx, secrets)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := reg.Rotate(ctx, "v1", keyV1, "test"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	builder, err := chain.NewBuilder(store, reg)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	return &harness{path: path, store: store, secrets: secrets, reg: reg, builder: builder, created: 1700000000}
}

func (h *harness) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return h.engineWith(t, h.store, h.reg, opts...)
}

func (h *harness) engineWith(t *testing.T, entries storage.EntryReader, secrets Secrets, opts ...Option) *Engine {
	t.Helper()
	var n atomic.Int64
	opts = append([]Option{
		WithPageSize(4),
		WithIDGenerator(func() string { return fmt.Sprintf("run-%d", n.Add(1)) }),
	}, opts...)
	e, err := New(entries, h.store, h.store, secrets, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func (h *harness) append(t *testing.T, actor string, n int) []entry.LogEntry {
	t.Helper()
	out := make([]entry.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		h.created++
		e, err := h.builder.Append(context.Background(), entry.Input{
			ActorID:      actor,
			Action:       "record.view",
			ResourceType: "record",
			ResourceID:   ptr(fmt.Sprintf("rec-%d", h.created)),
			Metadata:     json.RawMessage(fmt.Sprintf(`{"seq":%d,"actor":%q}`, i, actor)),
			CreatedAt:    h.created,
		})
		if err != nil {
			t.Fatalf("append %s #%d: %v", actor, i, err)
		}
		out = append(out, e)
	}
	return out
}

// tamper opens a second connection, drops the immutability triggers and
// runs query against the log, simulating a write that bypasses the builder.
func (h *harness) tamper(t *testing.T, query string, args ...any) {
	t.Helper()
	raw, err := sql.Open("sqlite", h.path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer raw.Close()
	for _, stmt := range []string{
		`DROP TRIGGER IF EXISTS audit_entries_no_update`,
		`DROP TRIGGER IF EXISTS audit_entries_no_delete`,
	} {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("drop trigger: %v", err)
		}
	}
	if _, err := raw.Exec(query, args...); err != nil {
		t.Fatalf("tamper: %v", err)
	}
}

func (h *harness) runCount(t *testing.T) int {
	t.Helper()
	runs, err := h.store.ListRuns(context.Background(), 1000)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	return len(runs)
}

func ptr(s string) *string { return &s }

func assertIntact(t *testing.T, run storage.VerificationRun, want int64) {
	t.Helper()
	if !run.Intact || run.Status != storage.RunIntact {
		t.Fatalf("expected intact run, got %+v", run)
	}
	if run.VerifiedEntries != want || run.TotalEntries != want {
		t.Fatalf("verified/total = %d/%d, want %d/%d", run.VerifiedEntries, run.TotalEntries, want, want)
	}
	if run.BrokenAtEntryID != nil {
		t.Fatalf("expected no break, got entry %d", *run.BrokenAtEntryID)
	}
}

func assertBroken(t *testing.T, run storage.VerificationRun, entryID int64, reason string) {
	t.Helper()
	if run.Intact || run.Status != storage.RunBroken {
		t.Fatalf("expected broken run, got %+v", run)
	}
	if run.BrokenAtEntryID == nil || *run.BrokenAtEntryID != entryID {
		t.Fatalf("broken at = %v, want %d", run.BrokenAtEntryID, entryID)
	}
	if run.BreakReason != reason {
		t.Fatalf("break reason = %s, want %s", run.BreakReason, reason)
	}
}

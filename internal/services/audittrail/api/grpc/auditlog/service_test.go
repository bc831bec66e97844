package auditlog

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	_ "modernc.org/sqlite"

	grpcmeta "github.com/louisbranch/audittrail/internal/api/grpc/metadata"
	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/authz"
	"github.com/louisbranch/audittrail/internal/services/audittrail/chain"
	"github.com/louisbranch/audittrail/internal/services/audittrail/integrity"
	"github.com/louisbranch/audittrail/internal/services/audittrail/status"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage/sqlite"
	"github.com/louisbranch/audittrail/internal/services/audittrail/verify"
)

type testEnv struct {
	path   string
	store  *sqlite.Store
	client *Client
	priv   ed25519.PrivateKey
}

func startService(t *testing.T) *testEnv {
	t.Helper()
	return startServiceWithLedger(t, nil)
}

// startServiceWithLedger runs the service with the engine's run ledger
// wrapped by wrap, when set.
func startServiceWithLedger(t *testing.T, wrap func(storage.RunLedger) storage.RunLedger) *testEnv {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "events.sqlite")
	store, err := sqlite.OpenEvents(ctx, path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	registry, err := integrity.NewRegistry(ctx, &integrity.MemorySecretStore{})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := registry.Rotate(ctx, "v1", []byte("0123456789abcdef-v1"), "test"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	builder, err := chain.NewBuilder(store, registry)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier, err := authz.NewVerifier(authz.Config{Issuer: "ops", Audience: "audittrail", Key: pub})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	var ledger storage.RunLedger = store
	if wrap != nil {
		ledger = wrap(store)
	}
	engine, err := verify.New(store, ledger, store, registry)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	invoker, err := verify.NewInvoker(engine, verifier)
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}
	surface, err := status.New(store, store, verifier)
	if err != nil {
		t.Fatalf("new status surface: %v", err)
	}
	service, err := NewService(Deps{
		Appender: builder,
		Entries:  store,
		Verifier: invoker,
		Status:   surface,
		Secrets:  registry,
		Runs:     store,
		Auth:     verifier,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcmeta.UnaryServerInterceptor(nil)))
	RegisterIntegrityServer(server, service)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient(listener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &testEnv{path: path, store: store, client: NewClient(conn), priv: priv}
}

func (env *testEnv) ctx(t *testing.T, perms ...authz.Permission) context.Context {
	t.Helper()
	token, err := authz.Mint(env.priv, authz.MintParams{
		Issuer:      "ops",
		Audience:    "audittrail",
		Subject:     "operator",
		Permissions: perms,
		TTL:         time.Hour,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return grpcmeta.WithCredential(ctx, token)
}

func (env *testEnv) appendEntries(t *testing.T, actor string, n int) []Entry {
	t.Helper()
	ctx := env.ctx(t, authz.PermAppend)
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		resp, err := env.client.AppendEntry(ctx, &AppendEntryRequest{
			ActorID:      actor,
			Action:       "record.view",
			ResourceType: "record",
			MetadataJSON: `{"n":1}`,
			CreatedAt:    int64(1700000000 + i),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		out = append(out, resp.Entry)
	}
	return out
}

func assertReason(t *testing.T, err error, code codes.Code, reason apperrors.Code) {
	t.Helper()
	st, ok := grpcstatus.FromError(err)
	if !ok {
		t.Fatalf("expected gRPC status, got %v", err)
	}
	if st.Code() != code {
		t.Fatalf("code = %s, want %s (%v)", st.Code(), code, err)
	}
	if got := apperrors.ReasonFromStatus(err); got != reason {
		t.Fatalf("reason = %s, want %s", got, reason)
	}
}

func TestAppendEntryPreservesMetadataLiterals(t *testing.T) {
	env := startService(t)
	rid := "doc-7"
	resp, err := env.client.AppendEntry(env.ctx(t, authz.PermAppend), &AppendEntryRequest{
		ActorID:      "alice",
		Action:       "doc.read",
		ResourceType: "doc",
		ResourceID:   &rid,
		MetadataJSON: `{"z":12345678901234567890,"a":"x"}`,
		CreatedAt:    1700000000,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got := resp.Entry
	if got.ID <= 0 || got.Hash == "" || got.PrevHash != "" || got.SecretVersion != "v1" {
		t.Fatalf("unexpected entry %+v", got)
	}
	if got.MetadataJSON != `{"a":"x","z":12345678901234567890}` {
		t.Fatalf("metadata = %s", got.MetadataJSON)
	}
	if got.ResourceID == nil || *got.ResourceID != "doc-7" {
		t.Fatalf("resource id = %v, want doc-7", got.ResourceID)
	}
}

func TestAppendEntryRejectsInvalidInput(t *testing.T) {
	env := startService(t)
	_, err := env.client.AppendEntry(env.ctx(t, authz.PermAppend), &AppendEntryRequest{Action: "x", ResourceType: "r"})
	assertReason(t, err, codes.InvalidArgument, apperrors.CodeEntryInvalid)
}

func TestUnauthenticatedCallsReadNothing(t *testing.T) {
	env := startService(t)
	env.appendEntries(t, "alice", 2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := env.client.Verify(ctx, &VerifyRequest{Scope: "full"})
	assertReason(t, err, codes.Unauthenticated, apperrors.CodeUnauthorizedInvocation)

	_, err = env.client.Verify(env.ctx(t, authz.PermStatus), &VerifyRequest{Scope: "full"})
	assertReason(t, err, codes.Unauthenticated, apperrors.CodeUnauthorizedInvocation)

	_, err = env.client.GetStatus(ctx, &GetStatusRequest{})
	assertReason(t, err, codes.Unauthenticated, apperrors.CodeUnauthorizedInvocation)

	_, err = env.client.AppendEntry(ctx, &AppendEntryRequest{ActorID: "a", Action: "x", ResourceType: "r"})
	assertReason(t, err, codes.Unauthenticated, apperrors.CodeUnauthorizedInvocation)

	runs, err := env.store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no recorded runs, got %d", len(runs))
	}
}

func TestMutationsAreRefused(t *testing.T) {
	env := startService(t)
	entries := env.appendEntries(t, "alice", 1)
	ctx := env.ctx(t, authz.PermAppend)

	changed := entries[0]
	changed.Action = "doc.delete"
	_, err := env.client.UpdateEntry(ctx, &UpdateEntryRequest{Entry: changed})
	assertReason(t, err, codes.FailedPrecondition, apperrors.CodeImmutabilityViolation)

	_, err = env.client.DeleteEntry(ctx, &DeleteEntryRequest{ID: entries[0].ID})
	assertReason(t, err, codes.FailedPrecondition, apperrors.CodeImmutabilityViolation)

	_, err = env.client.DeleteEntry(ctx, &DeleteEntryRequest{ID: 999})
	assertReason(t, err, codes.NotFound, apperrors.CodeNotFound)
}

func TestVerifyStatusAndAlertsFlow(t *testing.T) {
	env := startService(t)
	env.appendEntries(t, "alice", 3)
	bob := env.appendEntries(t, "bob", 2)

	verifyCtx := env.ctx(t, authz.PermVerify)
	resp, err := env.client.Verify(verifyCtx, &VerifyRequest{Scope: "full"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(resp.Runs) != 1 || !resp.Runs[0].Intact || resp.Runs[0].VerifiedEntries != 5 {
		t.Fatalf("unexpected runs %+v", resp.Runs)
	}
	if resp.Runs[0].SourceTrigger != "invoke:operator" {
		t.Fatalf("trigger = %q, want invoke:operator", resp.Runs[0].SourceTrigger)
	}

	opsCtx := env.ctx(t, authz.PermStatus, authz.PermAlerts)
	st, err := env.client.GetStatus(opsCtx, &GetStatusRequest{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != string(status.StateHealthy) || !st.Intact || st.TotalEntries != 5 || st.CheckedAt == nil {
		t.Fatalf("unexpected status %+v", st)
	}

	raw, err := sql.Open("sqlite", env.path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`DROP TRIGGER IF EXISTS audit_entries_no_update`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if _, err := raw.Exec(`UPDATE audit_entries SET action = 'record.delete' WHERE id = ?`, bob[1].ID); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	resp, err = env.client.Verify(verifyCtx, &VerifyRequest{Scope: "actor", ActorID: "bob"})
	if err != nil {
		t.Fatalf("verify bob: %v", err)
	}
	broken := RunFromMessage(resp.Runs[0])
	if broken.Intact || broken.BrokenAtEntryID == nil || *broken.BrokenAtEntryID != bob[1].ID {
		t.Fatalf("expected break at %d, got %+v", bob[1].ID, broken)
	}
	if broken.BreakReason != string(apperrors.CodeHashMismatch) {
		t.Fatalf("break reason = %s, want %s", broken.BreakReason, apperrors.CodeHashMismatch)
	}

	st, err = env.client.GetStatus(opsCtx, &GetStatusRequest{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != string(status.StateCompromised) || st.Intact || len(st.BrokenLinks) != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.BrokenLinks[0].Index != bob[1].ID || st.BrokenLinks[0].ActorID != "bob" {
		t.Fatalf("unexpected broken link %+v", st.BrokenLinks[0])
	}

	alerts, err := env.client.ListAlerts(opsCtx, &ListAlertsRequest{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts.Alerts) != 1 || alerts.Alerts[0].RunID != broken.ID {
		t.Fatalf("unexpected alerts %+v", alerts.Alerts)
	}
	acked, err := env.client.AcknowledgeAlert(opsCtx, &AlertActionRequest{RunID: broken.ID, Note: "paging"})
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if !acked.Alert.Acknowledged || acked.Alert.AcknowledgedBy != "operator" || acked.Alert.AcknowledgedAt == nil {
		t.Fatalf("unexpected acknowledged alert %+v", acked.Alert)
	}
	if _, err := env.client.ClearAlert(opsCtx, &AlertActionRequest{RunID: broken.ID}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	alerts, err = env.client.ListAlerts(opsCtx, &ListAlertsRequest{})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts.Alerts) != 0 {
		t.Fatalf("expected no alerts after clear, got %+v", alerts.Alerts)
	}

	runs, err := env.client.ListRuns(opsCtx, &ListRunsRequest{Limit: 10})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs.Runs) != 2 || runs.Runs[0].ID != broken.ID {
		t.Fatalf("unexpected runs %+v", runs.Runs)
	}
}

// bobLedger refuses to record bob's runs.
type bobLedger struct {
	storage.RunLedger
}

func (l bobLedger) RecordRun(ctx context.Context, run storage.VerificationRun) (storage.VerificationRun, error) {
	if run.ActorID == "bob" {
		return storage.VerificationRun{}, errors.New("ledger unavailable")
	}
	return l.RunLedger.RecordRun(ctx, run)
}

func TestVerifyBatchReturnsRunsWithLedgerFailure(t *testing.T) {
	env := startServiceWithLedger(t, func(l storage.RunLedger) storage.RunLedger { return bobLedger{RunLedger: l} })
	env.appendEntries(t, "alice", 2)
	env.appendEntries(t, "bob", 1)
	env.appendEntries(t, "carol", 1)

	resp, err := env.client.Verify(env.ctx(t, authz.PermVerify), &VerifyRequest{Scope: "incremental"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(resp.Runs) != 3 {
		t.Fatalf("expected 3 runs, got %+v", resp.Runs)
	}
	for _, run := range resp.Runs {
		if !run.Intact {
			t.Fatalf("expected intact run, got %+v", run)
		}
	}
	if !strings.Contains(resp.Error, "actor bob") || strings.Contains(resp.Error, "alice") {
		t.Fatalf("error = %q, want only bob's failure", resp.Error)
	}

	runs, err := env.client.ListRuns(env.ctx(t, authz.PermStatus), &ListRunsRequest{Limit: 10})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs.Runs) != 2 {
		t.Fatalf("expected alice and carol recorded, got %+v", runs.Runs)
	}
}

func TestVerifyRejectsInvalidScope(t *testing.T) {
	env := startService(t)
	_, err := env.client.Verify(env.ctx(t, authz.PermVerify), &VerifyRequest{Scope: "everything"})
	assertReason(t, err, codes.InvalidArgument, apperrors.CodeVerifyScopeInvalid)

	_, err = env.client.Verify(env.ctx(t, authz.PermVerify), &VerifyRequest{Scope: "actor"})
	assertReason(t, err, codes.InvalidArgument, apperrors.CodeVerifyScopeInvalid)
}

func TestRotateSecretRequiresAdmin(t *testing.T) {
	env := startService(t)
	material := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef-v2"))

	_, err := env.client.RotateSecret(env.ctx(t, authz.PermVerify), &RotateSecretRequest{Version: "v2", Material: material})
	assertReason(t, err, codes.Unauthenticated, apperrors.CodeUnauthorizedInvocation)

	adminCtx := env.ctx(t, authz.PermAdmin)
	resp, err := env.client.RotateSecret(adminCtx, &RotateSecretRequest{Version: "v2", Material: material})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if resp.Secret.Version != "v2" || !resp.Secret.Current || resp.Secret.CreatedBy != "operator" {
		t.Fatalf("unexpected secret %+v", resp.Secret)
	}

	_, err = env.client.RotateSecret(adminCtx, &RotateSecretRequest{Version: "v2", Material: material})
	assertReason(t, err, codes.AlreadyExists, apperrors.CodeSecretVersionExists)

	_, err = env.client.RotateSecret(adminCtx, &RotateSecretRequest{Version: "v3", Material: "c2hvcnQ="})
	assertReason(t, err, codes.InvalidArgument, apperrors.CodeSecretInvalid)

	versions, err := env.client.ListSecretVersions(adminCtx, &ListSecretVersionsRequest{})
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions.Versions) != 2 || versions.Versions[0].Version != "v1" || !versions.Versions[1].Current {
		t.Fatalf("unexpected versions %+v", versions.Versions)
	}

	entries := env.appendEntries(t, "carol", 1)
	if entries[0].SecretVersion != "v2" {
		t.Fatalf("secret version = %s, want v2", entries[0].SecretVersion)
	}
}

func TestNewServiceRequiresDeps(t *testing.T) {
	if _, err := NewService(Deps{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

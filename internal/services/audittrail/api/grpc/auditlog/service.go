// Package auditlog exposes the audit trail over gRPC: the write path, the
// verification invoker, the status surface and secret administration.
package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	grpcmeta "github.com/louisbranch/audittrail/internal/api/grpc/metadata"
	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/authz"
	"github.com/louisbranch/audittrail/internal/services/audittrail/entry"
	"github.com/louisbranch/audittrail/internal/services/audittrail/integrity"
	"github.com/louisbranch/audittrail/internal/services/audittrail/status"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
	"github.com/louisbranch/audittrail/internal/services/audittrail/verify"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const (
	defaultListRunsLimit = 50
	maxListRunsLimit     = 500
)

// Appender seals and persists new entries.
type Appender interface {
	Append(ctx context.Context, in entry.Input) (entry.LogEntry, error)
}

// EntryMutator receives mutation attempts so they can be refused.
type EntryMutator interface {
	UpdateEntry(ctx context.Context, e entry.LogEntry) error
	DeleteEntry(ctx context.Context, id int64) error
}

// Verifier runs authenticated verifications.
type Verifier interface {
	Verify(ctx context.Context, credential string, req verify.Request) ([]storage.VerificationRun, error)
}

// StatusSurface answers status and alert calls.
type StatusSurface interface {
	Status(ctx context.Context, credential string) (status.Report, error)
	Alerts(ctx context.Context, credential string, window status.Window) ([]status.Alert, error)
	Acknowledge(ctx context.Context, credential, runID, note string) (status.Alert, error)
	Clear(ctx context.Context, credential, runID, note string) (status.Alert, error)
}

// SecretAdmin rotates and lists key versions.
type SecretAdmin interface {
	Rotate(ctx context.Context, version string, material []byte, createdBy string) (integrity.VersionInfo, error)
	Versions() []integrity.VersionInfo
}

// RunLister lists recorded runs.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]storage.VerificationRun, error)
}

// Deps are the collaborators of the service.
type Deps struct {
	Appender Appender
	Entries  EntryMutator
	Verifier Verifier
	Status   StatusSurface
	Secrets  SecretAdmin
	Runs     RunLister
	Auth     authz.Authorizer
}

// Service implements IntegrityServer.
type Service struct {
	deps Deps
}

// NewService creates the integrity service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Appender == nil:
		return nil, fmt.Errorf("appender is required")
	case deps.Entries == nil:
		return nil, fmt.Errorf("entry store is required")
	case deps.Verifier == nil:
		return nil, fmt.Errorf("verifier is required")
	case deps.Status == nil:
		return nil, fmt.Errorf("status surface is required")
	case deps.Secrets == nil:
		return nil, fmt.Errorf("secret registry is required")
	case deps.Runs == nil:
		return nil, fmt.Errorf("run ledger is required")
	case deps.Auth == nil:
		return nil, fmt.Errorf("authorizer is required")
	}
	return &Service{deps: deps}, nil
}

// AppendEntry seals and stores one entry.
func (s *Service) AppendEntry(ctx context.Context, in *AppendEntryRequest) (*AppendEntryResponse, error) {
	if _, err := s.deps.Auth.Authorize(ctx, grpcmeta.CredentialFromContext(ctx), authz.PermAppend); err != nil {
		return nil, handleError(err)
	}
	e, err := s.deps.Appender.Append(ctx, entry.Input{
		ActorID:      in.ActorID,
		Action:       in.Action,
		ResourceType: in.ResourceType,
		ResourceID:   in.ResourceID,
		Metadata:     json.RawMessage(in.MetadataJSON),
		CreatedAt:    in.CreatedAt,
	})
	if err != nil {
		return nil, handleError(err)
	}
	return &AppendEntryResponse{Entry: entryToMessage(e)}, nil
}

// UpdateEntry refuses to change a stored entry.
func (s *Service) UpdateEntry(ctx context.Context, in *UpdateEntryRequest) (*Empty, error) {
	if _, err := s.deps.Auth.Authorize(ctx, grpcmeta.CredentialFromContext(ctx), authz.PermAppend); err != nil {
		return nil, handleError(err)
	}
	if err := s.deps.Entries.UpdateEntry(ctx, messageToEntry(in.Entry)); err != nil {
		return nil, handleError(err)
	}
	return nil, grpcstatus.Error(codes.Internal, "entry update unexpectedly succeeded")
}

// DeleteEntry refuses to remove a stored entry.
func (s *Service) DeleteEntry(ctx context.Context, in *DeleteEntryRequest) (*Empty, error) {
	if _, err := s.deps.Auth.Authorize(ctx, grpcmeta.CredentialFromContext(ctx), authz.PermAppend); err != nil {
		return nil, handleError(err)
	}
	if err := s.deps.Entries.DeleteEntry(ctx, in.ID); err != nil {
		return nil, handleError(err)
	}
	return nil, grpcstatus.Error(codes.Internal, "entry delete unexpectedly succeeded")
}

// Verify runs a verification and returns its recorded runs.
func (s *Service) Verify(ctx context.Context, in *VerifyRequest) (*VerifyResponse, error) {
	runs, err := s.deps.Verifier.Verify(ctx, grpcmeta.CredentialFromContext(ctx), verify.Request{
		Scope:   storage.Scope(strings.TrimSpace(in.Scope)),
		ActorID: in.ActorID,
		Trigger: in.Trigger,
	})
	if err != nil && len(runs) == 0 {
		return nil, handleError(err)
	}
	resp := &VerifyResponse{Runs: runsToMessages(runs)}
	if err != nil {
		log.Printf("verify %s: partial result: %v", in.Scope, err)
		resp.Error = err.Error()
	}
	return resp, nil
}

// GetStatus reports the integrity state.
func (s *Service) GetStatus(ctx context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	report, err := s.deps.Status.Status(ctx, grpcmeta.CredentialFromContext(ctx))
	if err != nil {
		return nil, handleError(err)
	}
	resp := &GetStatusResponse{
		State:           string(report.State),
		Intact:          report.Intact,
		TotalEntries:    report.TotalEntries,
		VerifiedEntries: report.VerifiedEntries,
		BrokenLinks:     make([]BrokenLink, 0, len(report.BrokenLinks)),
		CheckedAt:       timePtr(report.CheckedAt),
		Health: Health{
			Runs:        report.Health.Runs,
			Intact:      report.Health.Intact,
			SuccessRate: report.Health.SuccessRate,
		},
		Detail: report.Detail,
	}
	for _, link := range report.BrokenLinks {
		resp.BrokenLinks = append(resp.BrokenLinks, BrokenLink{
			Index:    link.Index,
			Reason:   link.Reason,
			ActorID:  link.ActorID,
			Scope:    string(link.Scope),
			Expected: link.Expected,
			Actual:   link.Actual,
			RunID:    link.RunID,
		})
	}
	return resp, nil
}

// ListAlerts lists surfaced chain breaks.
func (s *Service) ListAlerts(ctx context.Context, in *ListAlertsRequest) (*ListAlertsResponse, error) {
	window := status.Window{Limit: in.Limit}
	if in.Since != nil {
		window.Since = *in.Since
	}
	if in.Until != nil {
		window.Until = *in.Until
	}
	alerts, err := s.deps.Status.Alerts(ctx, grpcmeta.CredentialFromContext(ctx), window)
	if err != nil {
		return nil, handleError(err)
	}
	resp := &ListAlertsResponse{Alerts: make([]Alert, 0, len(alerts))}
	for _, alert := range alerts {
		resp.Alerts = append(resp.Alerts, alertToMessage(alert))
	}
	return resp, nil
}

// AcknowledgeAlert marks an alert as seen.
func (s *Service) AcknowledgeAlert(ctx context.Context, in *AlertActionRequest) (*AlertActionResponse, error) {
	alert, err := s.deps.Status.Acknowledge(ctx, grpcmeta.CredentialFromContext(ctx), in.RunID, in.Note)
	if err != nil {
		return nil, handleError(err)
	}
	return &AlertActionResponse{Alert: alertToMessage(alert)}, nil
}

// ClearAlert hides an alert from future listings.
func (s *Service) ClearAlert(ctx context.Context, in *AlertActionRequest) (*AlertActionResponse, error) {
	alert, err := s.deps.Status.Clear(ctx, grpcmeta.CredentialFromContext(ctx), in.RunID, in.Note)
	if err != nil {
		return nil, handleError(err)
	}
	return &AlertActionResponse{Alert: alertToMessage(alert)}, nil
}

// ListRuns lists recent verification runs.
func (s *Service) ListRuns(ctx context.Context, in *ListRunsRequest) (*ListRunsResponse, error) {
	if _, err := s.deps.Auth.Authorize(ctx, grpcmeta.CredentialFromContext(ctx), authz.PermStatus); err != nil {
		return nil, handleError(err)
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListRunsLimit
	}
	if limit > maxListRunsLimit {
		limit = maxListRunsLimit
	}
	runs, err := s.deps.Runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, handleError(err)
	}
	return &ListRunsResponse{Runs: runsToMessages(runs)}, nil
}

// RotateSecret adds a new current key version.
func (s *Service) RotateSecret(ctx context.Context, in *RotateSecretRequest) (*RotateSecretResponse, error) {
	principal, err := s.deps.Auth.Authorize(ctx, grpcmeta.CredentialFromContext(ctx), authz.PermAdmin)
	if err != nil {
		return nil, handleError(err)
	}
	material, err := authz.DecodeBase64(in.Material)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, "secret material must be base64")
	}
	info, err := s.deps.Secrets.Rotate(ctx, in.Version, material, principal.Subject)
	if err != nil {
		return nil, handleError(err)
	}
	log.Printf("secret version %s rotated in by %s", info.Version, principal.Subject)
	return &RotateSecretResponse{Secret: versionToMessage(info)}, nil
}

// ListSecretVersions lists key versions without material.
func (s *Service) ListSecretVersions(ctx context.Context, _ *ListSecretVersionsRequest) (*ListSecretVersionsResponse, error) {
	if _, err := s.deps.Auth.Authorize(ctx, grpcmeta.CredentialFromContext(ctx), authz.PermAdmin); err != nil {
		return nil, handleError(err)
	}
	versions := s.deps.Secrets.Versions()
	resp := &ListSecretVersionsResponse{Versions: make([]SecretVersion, 0, len(versions))}
	for _, v := range versions {
		resp.Versions = append(resp.Versions, versionToMessage(v))
	}
	return resp, nil
}

// handleError converts domain errors into gRPC statuses. Unexpected errors
// are logged and reported without internals.
func handleError(err error) error {
	var domainErr *apperrors.Error
	switch {
	case errors.As(err, &domainErr):
		return domainErr.ToGRPCStatus()
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	default:
		log.Printf("integrity service: %v", err)
		return grpcstatus.Error(codes.Internal, "internal error")
	}
}

func entryToMessage(e entry.LogEntry) Entry {
	return Entry{
		ID:            e.ID,
		ActorID:       e.ActorID,
		Action:        e.Action,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		MetadataJSON:  string(e.Metadata),
		CreatedAt:     e.CreatedAt,
		SecretVersion: e.SecretVersion,
		PrevHash:      e.PrevHash,
		Hash:          e.Hash,
	}
}

func messageToEntry(m Entry) entry.LogEntry {
	return entry.LogEntry{
		ID:            m.ID,
		ActorID:       m.ActorID,
		Action:        m.Action,
		ResourceType:  m.ResourceType,
		ResourceID:    m.ResourceID,
		Metadata:      json.RawMessage(m.MetadataJSON),
		CreatedAt:     m.CreatedAt,
		SecretVersion: m.SecretVersion,
		PrevHash:      m.PrevHash,
		Hash:          m.Hash,
	}
}

// RunFromMessage converts a wire run back into the ledger type.
func RunFromMessage(m Run) storage.VerificationRun {
	return storage.VerificationRun{
		Seq:             m.Seq,
		ID:              m.ID,
		RunAt:           m.RunAt,
		FinishedAt:      m.FinishedAt,
		Scope:           storage.Scope(m.Scope),
		ActorID:         m.ActorID,
		Status:          storage.RunStatus(m.Status),
		Intact:          m.Intact,
		TotalEntries:    m.TotalEntries,
		VerifiedEntries: m.VerifiedEntries,
		BrokenAtEntryID: m.BrokenAtEntryID,
		BreakReason:     m.BreakReason,
		Expected:        m.Expected,
		Actual:          m.Actual,
		Error:           m.Error,
		SourceTrigger:   m.SourceTrigger,
		LastEntryID:     m.LastEntryID,
		LastHash:        m.LastHash,
	}
}

func runsToMessages(runs []storage.VerificationRun) []Run {
	out := make([]Run, 0, len(runs))
	for _, run := range runs {
		out = append(out, Run{
			Seq:             run.Seq,
			ID:              run.ID,
			RunAt:           run.RunAt,
			FinishedAt:      run.FinishedAt,
			Scope:           string(run.Scope),
			ActorID:         run.ActorID,
			Status:          string(run.Status),
			Intact:          run.Intact,
			TotalEntries:    run.TotalEntries,
			VerifiedEntries: run.VerifiedEntries,
			BrokenAtEntryID: run.BrokenAtEntryID,
			BreakReason:     run.BreakReason,
			Expected:        run.Expected,
			Actual:          run.Actual,
			Error:           run.Error,
			SourceTrigger:   run.SourceTrigger,
			LastEntryID:     run.LastEntryID,
			LastHash:        run.LastHash,
		})
	}
	return out
}

func alertToMessage(a status.Alert) Alert {
	return Alert{
		RunID:          a.RunID,
		Scope:          string(a.Scope),
		ActorID:        a.ActorID,
		EntryID:        a.EntryID,
		Reason:         a.Reason,
		Expected:       a.Expected,
		Actual:         a.Actual,
		DetectedAt:     a.DetectedAt,
		Acknowledged:   a.Acknowledged,
		Cleared:        a.Cleared,
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: timePtr(a.AcknowledgedAt),
		Note:           a.Note,
	}
}

func versionToMessage(v integrity.VersionInfo) SecretVersion {
	return SecretVersion{
		Version:   v.Version,
		CreatedAt: v.CreatedAt,
		CreatedBy: v.CreatedBy,
		Current:   v.Current,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

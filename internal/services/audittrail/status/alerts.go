package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/authz"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

// Alert is a chain break derived from a broken run, with its operator state.
type Alert struct {
	RunID      string
	Scope      storage.Scope
	ActorID    string
	EntryID    int64
	Reason     string
	Expected   string
	Actual     string
	DetectedAt time.Time

	Acknowledged   bool
	Cleared        bool
	AcknowledgedBy string
	AcknowledgedAt time.Time
	Note           string
}

// Window bounds an alert listing.
type Window struct {
	Since time.Time
	Until time.Time
	Limit int
}

// Alerts lists chain breaks found inside window, newest first. Cleared
// alerts are omitted.
func (s *Surface) Alerts(ctx context.Context, credential string, window Window) ([]Alert, error) {
	if _, err := s.auth.Authorize(ctx, credential, authz.PermAlerts); err != nil {
		return nil, err
	}

	failed, err := s.ledger.FailedRuns(ctx, storage.RunFilter{Since: window.Since, Until: window.Until, Limit: window.Limit})
	if err != nil {
		return nil, fmt.Errorf("list failed runs: %w", err)
	}
	broken := make([]storage.VerificationRun, 0, len(failed))
	ids := make([]string, 0, len(failed))
	for _, run := range failed {
		if run.Status != storage.RunBroken {
			continue
		}
		broken = append(broken, run)
		ids = append(ids, run.ID)
	}
	events, err := s.alerts.LatestAlertEvents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load alert events: %w", err)
	}

	alerts := make([]Alert, 0, len(broken))
	for _, run := range broken {
		alert := alertFromRun(run)
		if evt, ok := events[run.ID]; ok {
			if evt.Action == storage.AlertCleared {
				continue
			}
			alert.Acknowledged = true
			alert.AcknowledgedBy = evt.Actor
			alert.AcknowledgedAt = evt.CreatedAt
			alert.Note = evt.Note
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// Acknowledge marks the alert for runID as seen. The run itself is never
// modified.
func (s *Surface) Acknowledge(ctx context.Context, credential, runID, note string) (Alert, error) {
	return s.act(ctx, credential, runID, note, storage.AlertAcknowledged)
}

// Clear removes the alert for runID from future listings.
func (s *Surface) Clear(ctx context.Context, credential, runID, note string) (Alert, error) {
	return s.act(ctx, credential, runID, note, storage.AlertCleared)
}

func (s *Surface) act(ctx context.Context, credential, runID, note string, action storage.AlertAction) (Alert, error) {
	principal, err := s.auth.Authorize(ctx, credential, authz.PermAlerts)
	if err != nil {
		return Alert{}, err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Alert{}, apperrors.New(apperrors.CodeNotFound, "run id is required")
	}
	run, err := s.ledger.GetRun(ctx, runID)
	if err != nil {
		return Alert{}, err
	}
	if run.Status != storage.RunBroken {
		return Alert{}, apperrors.WithMetadata(
			apperrors.CodeNotFound,
			fmt.Sprintf("run %s has no chain break alert", runID),
			map[string]string{"RunID": runID},
		)
	}

	evt, err := s.alerts.AppendAlertEvent(ctx, storage.AlertEvent{
		RunID:     runID,
		Action:    action,
		Actor:     principal.Subject,
		Note:      note,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return Alert{}, fmt.Errorf("record alert %s: %w", action, err)
	}

	alert := alertFromRun(run)
	alert.Acknowledged = action == storage.AlertAcknowledged
	alert.Cleared = action == storage.AlertCleared
	alert.AcknowledgedBy = evt.Actor
	alert.AcknowledgedAt = evt.CreatedAt
	alert.Note = evt.Note
	return alert, nil
}

func alertFromRun(run storage.VerificationRun) Alert {
	alert := Alert{
		RunID:      run.ID,
		Scope:      run.Scope,
		ActorID:    run.ActorID,
		Reason:     run.BreakReason,
		Expected:   run.Expected,
		Actual:     run.Actual,
		DetectedAt: run.FinishedAt,
	}
	if run.BrokenAtEntryID != nil {
		alert.EntryID = *run.BrokenAtEntryID
	}
	return alert
}

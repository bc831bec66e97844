// Package status turns recorded verification runs into the integrity state
// shown to operators, and lets them acknowledge or clear surfaced breaks.
//
// The surface only reads the run ledger and writes alert acknowledgements.
// It never sees log entries or key material.
package status

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/louisbranch/audittrail/internal/platform/timeouts"
	"github.com/louisbranch/audittrail/internal/services/audittrail/authz"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

// State is the operator-facing integrity state.
type State string

const (
	// StateHealthy means every latest run is intact and fully counted.
	StateHealthy State = "healthy"
	// StateCompromised means a latest run found a chain break.
	StateCompromised State = "compromised"
	// StateUnavailable means integrity could not be established.
	StateUnavailable State = "unavailable"
)

// DefaultHealthWindow is how many recent runs feed rolling health.
const DefaultHealthWindow = 20

// BrokenLink is one chain break carried by a latest run.
type BrokenLink struct {
	// Index is the id of the first divergent entry.
	Index    int64
	Reason   string
	ActorID  string
	Scope    storage.Scope
	Expected string
	Actual   string
	RunID    string
}

// Report is the answer to a status query.
type Report struct {
	State           State
	Intact          bool
	TotalEntries    int64
	VerifiedEntries int64
	BrokenLinks     []BrokenLink
	CheckedAt       time.Time
	Health          storage.Health
	// Detail explains an unavailable state.
	Detail string
}

// Ledger is the read-only view of the run ledger the surface needs.
type Ledger interface {
	GetRun(ctx context.Context, id string) (storage.VerificationRun, error)
	LatestRuns(ctx context.Context) ([]storage.VerificationRun, error)
	FailedRuns(ctx context.Context, filter storage.RunFilter) ([]storage.VerificationRun, error)
	RollingHealth(ctx context.Context, lastN int) (storage.Health, error)
}

// Surface serves status and alert queries.
type Surface struct {
	ledger       Ledger
	alerts       storage.AlertStore
	auth         authz.Authorizer
	healthWindow int
	now          func() time.Time
}

// Option configures a Surface.
type Option func(*Surface)

// WithHealthWindow overrides the rolling health window.
func WithHealthWindow(n int) Option {
	return func(s *Surface) {
		if n > 0 {
			s.healthWindow = n
		}
	}
}

// WithClock overrides the clock used for acknowledgement timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Surface) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a status surface.
func New(ledger Ledger, alerts storage.AlertStore, auth authz.Authorizer, opts ...Option) (*Surface, error) {
	if ledger == nil {
		return nil, fmt.Errorf("run ledger is required")
	}
	if alerts == nil {
		return nil, fmt.Errorf("alert store is required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	s := &Surface{
		ledger:       ledger,
		alerts:       alerts,
		auth:         auth,
		healthWindow: DefaultHealthWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Status reports the current integrity state.
//
// An unauthorized caller gets an unavailable report together with the
// authorization error. Ledger failures, an empty ledger and runs that ended
// in error also report unavailable, never healthy.
func (s *Surface) Status(ctx context.Context, credential string) (Report, error) {
	if _, err := s.auth.Authorize(ctx, credential, authz.PermStatus); err != nil {
		return unavailable("caller is not authorized"), err
	}

	readCtx, cancel := context.WithTimeout(ctx, timeouts.StatusRead)
	defer cancel()

	latest, err := s.ledger.LatestRuns(readCtx)
	if err != nil {
		return unavailable(fmt.Sprintf("run ledger is unreachable: %v", err)), nil
	}
	current := currentRuns(latest)
	if len(current) == 0 {
		return unavailable("no verification run recorded"), nil
	}
	health, err := s.ledger.RollingHealth(readCtx, s.healthWindow)
	if err != nil {
		return unavailable(fmt.Sprintf("run ledger is unreachable: %v", err)), nil
	}

	report := evaluate(current)
	report.Health = health
	return report, nil
}

func unavailable(detail string) Report {
	return Report{State: StateUnavailable, Detail: detail}
}

// currentRuns picks the runs that describe the log right now: the latest
// full run plus, for each actor, its newest per-actor run recorded after it.
func currentRuns(latest []storage.VerificationRun) []storage.VerificationRun {
	var full *storage.VerificationRun
	for i := range latest {
		if latest[i].Scope == storage.ScopeFull {
			full = &latest[i]
			break
		}
	}

	byActor := make(map[string]storage.VerificationRun)
	for _, run := range latest {
		if run.Scope == storage.ScopeFull || run.ActorID == "" {
			continue
		}
		if full != nil && run.Seq <= full.Seq {
			continue
		}
		if prev, ok := byActor[run.ActorID]; !ok || run.Seq > prev.Seq {
			byActor[run.ActorID] = run
		}
	}

	var current []storage.VerificationRun
	if full != nil {
		current = append(current, *full)
	}
	actors := make([]string, 0, len(byActor))
	for actor := range byActor {
		actors = append(actors, actor)
	}
	sort.Strings(actors)
	for _, actor := range actors {
		current = append(current, byActor[actor])
	}
	return current
}

// evaluate folds current runs into a report. A break anywhere outranks an
// errored run: known tampering is reported even if another check failed.
func evaluate(current []storage.VerificationRun) Report {
	var (
		report  Report
		errored []string
		full    bool
	)
	for i, run := range current {
		if run.FinishedAt.After(report.CheckedAt) {
			report.CheckedAt = run.FinishedAt
		}
		if i == 0 && run.Scope == storage.ScopeFull {
			full = true
			report.TotalEntries = run.TotalEntries
			report.VerifiedEntries = run.VerifiedEntries
		} else if !full {
			report.TotalEntries += run.TotalEntries
			report.VerifiedEntries += run.VerifiedEntries
		}

		switch {
		case run.Status == storage.RunBroken:
			link := BrokenLink{
				Reason:   run.BreakReason,
				ActorID:  run.ActorID,
				Scope:    run.Scope,
				Expected: run.Expected,
				Actual:   run.Actual,
				RunID:    run.ID,
			}
			if run.BrokenAtEntryID != nil {
				link.Index = *run.BrokenAtEntryID
			}
			report.BrokenLinks = append(report.BrokenLinks, link)
		case run.Status == storage.RunError:
			errored = append(errored, fmt.Sprintf("%s run %s: %s", run.Scope, run.ID, run.Error))
		case !run.Intact || run.VerifiedEntries != run.TotalEntries:
			errored = append(errored, fmt.Sprintf("%s run %s did not confirm every entry", run.Scope, run.ID))
		}
	}

	switch {
	case len(report.BrokenLinks) > 0:
		report.State = StateCompromised
	case len(errored) > 0:
		report.State = StateUnavailable
		report.Detail = errored[0]
	default:
		report.State = StateHealthy
		report.Intact = true
	}
	return report
}

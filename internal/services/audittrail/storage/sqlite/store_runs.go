package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

const runColumns = `seq, id, run_at, finished_at, scope, actor_id, status, intact, total_entries, verified_entries,
broken_at_entry_id, break_reason, expected, actual, error, source_trigger, last_entry_id, last_hash`

const defaultFailedRunLimit = 100

// RecordRun appends a verification run and returns it with its ledger seq.
func (s *Store) RecordRun(ctx context.Context, run storage.VerificationRun) (storage.VerificationRun, error) {
	if err := s.ready(ctx); err != nil {
		return storage.VerificationRun{}, err
	}

	run.ID = strings.TrimSpace(run.ID)
	run.ActorID = strings.TrimSpace(run.ActorID)
	run.SourceTrigger = strings.TrimSpace(run.SourceTrigger)
	if run.ID == "" {
		return storage.VerificationRun{}, fmt.Errorf("run id is required")
	}
	if !run.Scope.Valid() {
		return storage.VerificationRun{}, fmt.Errorf("run scope %q is invalid", run.Scope)
	}
	switch run.Status {
	case storage.RunIntact, storage.RunBroken, storage.RunError:
	default:
		return storage.VerificationRun{}, fmt.Errorf("run status %q is invalid", run.Status)
	}
	if run.Intact != (run.Status == storage.RunIntact) {
		return storage.VerificationRun{}, fmt.Errorf("run intact flag disagrees with status %q", run.Status)
	}
	if run.RunAt.IsZero() {
		run.RunAt = s.nowUTC()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.RunAt
	}

	var brokenAt any
	if run.BrokenAtEntryID != nil {
		brokenAt = *run.BrokenAtEntryID
	}
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO verification_runs (
	id,
	run_at,
	finished_at,
	scope,
	actor_id,
	status,
	intact,
	total_entries,
	verified_entries,
	broken_at_entry_id,
	break_reason,
	expected,
	actual,
	error,
	source_trigger,
	last_entry_id,
	last_hash
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		run.ID,
		toMillis(run.RunAt),
		toMillis(run.FinishedAt),
		string(run.Scope),
		run.ActorID,
		string(run.Status),
		boolToInt(run.Intact),
		run.TotalEntries,
		run.VerifiedEntries,
		brokenAt,
		run.BreakReason,
		run.Expected,
		run.Actual,
		run.Error,
		run.SourceTrigger,
		run.LastEntryID,
		run.LastHash,
	)
	if err != nil {
		return storage.VerificationRun{}, fmt.Errorf("record run: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return storage.VerificationRun{}, fmt.Errorf("read run seq: %w", err)
	}
	run.Seq = seq
	run.RunAt = run.RunAt.UTC().Truncate(time.Millisecond)
	run.FinishedAt = run.FinishedAt.UTC().Truncate(time.Millisecond)
	return run, nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (storage.VerificationRun, error) {
	if err := s.ready(ctx); err != nil {
		return storage.VerificationRun{}, err
	}
	return s.queryOneRun(ctx, `SELECT `+runColumns+` FROM verification_runs WHERE id = ?`, strings.TrimSpace(id))
}

// LatestRun returns the newest run recorded for scope and actor.
func (s *Store) LatestRun(ctx context.Context, scope storage.Scope, actorID string) (storage.VerificationRun, error) {
	if err := s.ready(ctx); err != nil {
		return storage.VerificationRun{}, err
	}
	return s.queryOneRun(ctx,
		`SELECT `+runColumns+` FROM verification_runs WHERE scope = ? AND actor_id = ? ORDER BY seq DESC LIMIT 1`,
		string(scope), strings.TrimSpace(actorID),
	)
}

// LatestRuns returns the newest run per scope and actor, newest first.
func (s *Store) LatestRuns(ctx context.Context) ([]storage.VerificationRun, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryRuns(ctx, `
SELECT `+runColumns+` FROM verification_runs
WHERE seq IN (SELECT MAX(seq) FROM verification_runs GROUP BY scope, actor_id)
ORDER BY seq DESC
`)
}

// FailedRuns returns runs that did not end intact inside the filter window,
// newest first.
func (s *Store) FailedRuns(ctx context.Context, filter storage.RunFilter) ([]storage.VerificationRun, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	clauses := []string{"intact = 0"}
	var args []any
	if !filter.Since.IsZero() {
		clauses = append(clauses, "run_at >= ?")
		args = append(args, toMillis(filter.Since))
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "run_at < ?")
		args = append(args, toMillis(filter.Until))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultFailedRunLimit
	}
	args = append(args, limit)
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM verification_runs WHERE `+strings.Join(clauses, " AND ")+` ORDER BY seq DESC LIMIT ?`,
		args...,
	)
}

// RollingHealth summarizes the last lastN runs.
func (s *Store) RollingHealth(ctx context.Context, lastN int) (storage.Health, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Health{}, err
	}
	if lastN <= 0 {
		return storage.Health{}, fmt.Errorf("window must be greater than zero")
	}
	var health storage.Health
	var intact sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*), SUM(intact) FROM (
	SELECT intact FROM verification_runs ORDER BY seq DESC LIMIT ?
)
`, lastN).Scan(&health.Runs, &intact)
	if err != nil {
		return storage.Health{}, fmt.Errorf("rolling health: %w", err)
	}
	health.Intact = int(intact.Int64)
	if health.Runs > 0 {
		health.SuccessRate = float64(health.Intact) / float64(health.Runs)
	}
	return health, nil
}

// ListRuns lists newest-first runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]storage.VerificationRun, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM verification_runs ORDER BY seq DESC LIMIT ?`, limit)
}

func (s *Store) queryOneRun(ctx context.Context, query string, args ...any) (storage.VerificationRun, error) {
	run, err := scanRun(s.sqlDB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.VerificationRun{}, apperrors.New(apperrors.CodeNotFound, "verification run not found")
	}
	if err != nil {
		return storage.VerificationRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]storage.VerificationRun, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.VerificationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (storage.VerificationRun, error) {
	var (
		run        storage.VerificationRun
		runAt      int64
		finishedAt int64
		scope      string
		status     string
		intact     int64
		brokenAt   sql.NullInt64
	)
	if err := row.Scan(
		&run.Seq,
		&run.ID,
		&runAt,
		&finishedAt,
		&scope,
		&run.ActorID,
		&status,
		&intact,
		&run.TotalEntries,
		&run.VerifiedEntries,
		&brokenAt,
		&run.BreakReason,
		&run.Expected,
		&run.Actual,
		&run.Error,
		&run.SourceTrigger,
		&run.LastEntryID,
		&run.LastHash,
	); err != nil {
		return storage.VerificationRun{}, err
	}
	run.RunAt = fromMillis(runAt)
	run.FinishedAt = fromMillis(finishedAt)
	run.Scope = storage.Scope(scope)
	run.Status = storage.RunStatus(status)
	run.Intact = intact == 1
	if brokenAt.Valid {
		value := brokenAt.Int64
		run.BrokenAtEntryID = &value
	}
	return run, nil
}

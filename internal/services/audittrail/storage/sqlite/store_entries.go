package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/entry"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

const entryColumns = `id, actor_id, action, resource_type, resource_id, metadata_json, created_at, secret_version, prev_hash, hash`

// ChainHead returns the hash of the actor's newest entry, or "" when the
// actor has no entries yet.
func (s *Store) ChainHead(ctx context.Context, actorID string) (string, error) {
	if err := s.ready(ctx); err != nil {
		return "", err
	}
	var head string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT last_hash FROM actor_heads WHERE actor_id = ?`, actorID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get chain head: %w", err)
	}
	return head, nil
}

// AppendEntry inserts e after claiming the actor's head.
//
// The head claim is the transaction's first statement so the write lock is
// taken up front; a claim that matches no row means another writer linked
// first and the caller must rebuild against the new head.
func (s *Store) AppendEntry(ctx context.Context, e entry.LogEntry) (entry.LogEntry, error) {
	if err := s.ready(ctx); err != nil {
		return entry.LogEntry{}, err
	}
	if strings.TrimSpace(e.ActorID) == "" {
		return entry.LogEntry{}, apperrors.New(apperrors.CodeEntryInvalid, "actor id is required")
	}
	if strings.TrimSpace(e.Hash) == "" || strings.TrimSpace(e.SecretVersion) == "" {
		return entry.LogEntry{}, apperrors.New(apperrors.CodeEntryInvalid, "entry hash and secret version are required")
	}
	if len(e.Metadata) == 0 {
		e.Metadata = []byte("{}")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return entry.LogEntry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	updatedAt := toMillis(s.nowUTC())
	var claim sql.Result
	if e.PrevHash == "" {
		claim, err = tx.ExecContext(ctx, `
INSERT INTO actor_heads (actor_id, last_hash, last_entry_id, updated_at)
VALUES (?, ?, 0, ?)
ON CONFLICT(actor_id) DO NOTHING
`, e.ActorID, e.Hash, updatedAt)
	} else {
		claim, err = tx.ExecContext(ctx, `
UPDATE actor_heads SET last_hash = ?, updated_at = ?
WHERE actor_id = ? AND last_hash = ?
`, e.Hash, updatedAt, e.ActorID, e.PrevHash)
	}
	if err != nil {
		return entry.LogEntry{}, fmt.Errorf("claim chain head: %w", err)
	}
	claimed, err := claim.RowsAffected()
	if err != nil {
		return entry.LogEntry{}, fmt.Errorf("claim chain head: %w", err)
	}
	if claimed == 0 {
		return entry.LogEntry{}, storage.ErrHeadConflict
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO audit_entries (actor_id, action, resource_type, resource_id, metadata_json, created_at, secret_version, prev_hash, hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		e.ActorID,
		e.Action,
		e.ResourceType,
		nullableString(e.ResourceID),
		[]byte(e.Metadata),
		e.CreatedAt,
		e.SecretVersion,
		e.PrevHash,
		e.Hash,
	)
	if err != nil {
		if isConstraintError(err) {
			return entry.LogEntry{}, storage.ErrHeadConflict
		}
		return entry.LogEntry{}, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return entry.LogEntry{}, fmt.Errorf("read entry id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE actor_heads SET last_entry_id = ? WHERE actor_id = ?`, id, e.ActorID); err != nil {
		return entry.LogEntry{}, fmt.Errorf("advance chain head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return entry.LogEntry{}, fmt.Errorf("commit: %w", err)
	}

	e.ID = id
	return e, nil
}

// UpdateEntry always fails: persisted entries are immutable. The statement
// still reaches the database so the storage triggers are what reject it.
func (s *Store) UpdateEntry(ctx context.Context, e entry.LogEntry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.GetEntry(ctx, e.ID); err != nil {
		return err
	}
	return s.rejectMutation(ctx, e.ID, `
UPDATE audit_entries
SET action = ?, resource_type = ?, resource_id = ?, metadata_json = ?, created_at = ?
WHERE id = ?
`, e.Action, e.ResourceType, nullableString(e.ResourceID), []byte(e.Metadata), e.CreatedAt, e.ID)
}

// DeleteEntry always fails: persisted entries are immutable.
func (s *Store) DeleteEntry(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.GetEntry(ctx, id); err != nil {
		return err
	}
	return s.rejectMutation(ctx, id, `DELETE FROM audit_entries WHERE id = ?`, id)
}

func (s *Store) rejectMutation(ctx context.Context, id int64, query string, args ...any) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Never committed: if the triggers are gone the change is discarded.
	defer tx.Rollback()

	_, execErr := tx.ExecContext(ctx, query, args...)
	if execErr != nil && !isImmutableError(execErr) {
		return fmt.Errorf("mutate entry: %w", execErr)
	}
	return &apperrors.Error{
		Code:     apperrors.CodeImmutabilityViolation,
		Message:  fmt.Sprintf("audit entry %d is immutable", id),
		Metadata: map[string]string{"EntryID": strconv.FormatInt(id, 10)},
		Cause:    execErr,
	}
}

// GetEntry returns one entry by id.
func (s *Store) GetEntry(ctx context.Context, id int64) (entry.LogEntry, error) {
	if err := s.ready(ctx); err != nil {
		return entry.LogEntry{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entry.LogEntry{}, apperrors.WithMetadata(
			apperrors.CodeNotFound,
			fmt.Sprintf("audit entry %d not found", id),
			map[string]string{"EntryID": strconv.FormatInt(id, 10)},
		)
	}
	if err != nil {
		return entry.LogEntry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// ListEntries returns entries in (actor_id, id) order after the query's
// keyset position.
func (s *Store) ListEntries(ctx context.Context, query storage.EntryQuery) ([]entry.LogEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if query.Limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	where, args := entryFilter(query, true)
	args = append(args, query.Limit)
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM audit_entries`+where+` ORDER BY actor_id, id LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]entry.LogEntry, 0, query.Limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// CountEntries counts entries matching the query's actor, after and upper
// bounds. Limit is ignored.
func (s *Store) CountEntries(ctx context.Context, query storage.EntryQuery) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	where, args := entryFilter(query, false)
	var count int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// ListActors returns every actor with at least one entry, sorted.
func (s *Store) ListActors(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT actor_id FROM audit_entries ORDER BY actor_id`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()

	var actors []string
	for rows.Next() {
		var actor string
		if err := rows.Scan(&actor); err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		actors = append(actors, actor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actors: %w", err)
	}
	return actors, nil
}

// MaxEntryID returns the highest assigned entry id, or 0 when empty.
func (s *Store) MaxEntryID(ctx context.Context) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var id int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM audit_entries`).Scan(&id); err != nil {
		return 0, fmt.Errorf("max entry id: %w", err)
	}
	return id, nil
}

// entryFilter builds the WHERE clause for query. withKeyset adds the
// cross-actor resume position used for paging.
func entryFilter(query storage.EntryQuery, withKeyset bool) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if query.ActorID != "" {
		clauses = append(clauses, "actor_id = ?")
		args = append(args, query.ActorID)
		if query.AfterID > 0 {
			clauses = append(clauses, "id > ?")
			args = append(args, query.AfterID)
		}
	} else if withKeyset && (query.AfterActorID != "" || query.AfterID > 0) {
		clauses = append(clauses, "(actor_id > ? OR (actor_id = ? AND id > ?))")
		args = append(args, query.AfterActorID, query.AfterActorID, query.AfterID)
	}
	if query.UpToID > 0 {
		clauses = append(clauses, "id <= ?")
		args = append(args, query.UpToID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (entry.LogEntry, error) {
	var (
		e          entry.LogEntry
		resourceID sql.NullString
		metadata   []byte
	)
	if err := row.Scan(
		&e.ID,
		&e.ActorID,
		&e.Action,
		&e.ResourceType,
		&resourceID,
		&metadata,
		&e.CreatedAt,
		&e.SecretVersion,
		&e.PrevHash,
		&e.Hash,
	); err != nil {
		return entry.LogEntry{}, err
	}
	if resourceID.Valid {
		value := resourceID.String
		e.ResourceID = &value
	}
	e.Metadata = metadata
	return e, nil
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

// GetCursor returns the incremental verification cursor for an actor.
func (s *Store) GetCursor(ctx context.Context, actorID string) (storage.Cursor, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Cursor{}, err
	}
	var (
		cursor    storage.Cursor
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT actor_id, entry_id, hash, verified_count, run_id, updated_at
FROM verification_cursors WHERE actor_id = ?
`, strings.TrimSpace(actorID)).Scan(
		&cursor.ActorID,
		&cursor.EntryID,
		&cursor.Hash,
		&cursor.VerifiedCount,
		&cursor.RunID,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Cursor{}, apperrors.New(apperrors.CodeNotFound, "verification cursor not found")
	}
	if err != nil {
		return storage.Cursor{}, fmt.Errorf("get cursor: %w", err)
	}
	cursor.UpdatedAt = fromMillis(updatedAt)
	return cursor, nil
}

// PutCursor stores cursor for its actor. A cursor never moves backwards:
// an older position than the stored one is ignored.
func (s *Store) PutCursor(ctx context.Context, cursor storage.Cursor) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	cursor.ActorID = strings.TrimSpace(cursor.ActorID)
	if cursor.ActorID == "" {
		return fmt.Errorf("actor id is required")
	}
	if cursor.EntryID <= 0 || strings.TrimSpace(cursor.Hash) == "" {
		return fmt.Errorf("cursor entry id and hash are required")
	}
	if cursor.UpdatedAt.IsZero() {
		cursor.UpdatedAt = s.nowUTC()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO verification_cursors (actor_id, entry_id, hash, verified_count, run_id, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(actor_id) DO UPDATE SET
	entry_id = excluded.entry_id,
	hash = excluded.hash,
	verified_count = excluded.verified_count,
	run_id = excluded.run_id,
	updated_at = excluded.updated_at
WHERE excluded.entry_id >= verification_cursors.entry_id
`,
		cursor.ActorID,
		cursor.EntryID,
		cursor.Hash,
		cursor.VerifiedCount,
		cursor.RunID,
		toMillis(cursor.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put cursor: %w", err)
	}
	return nil
}

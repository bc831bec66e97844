// Package sqlite implements audit trail persistence on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/audittrail/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage/sqlite/migrations"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store provides SQLite-backed persistence for the log, the run ledger,
// verification cursors and alert acknowledgements.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var (
	_ storage.EntryStore  = (*Store)(nil)
	_ storage.RunLedger   = (*Store)(nil)
	_ storage.CursorStore = (*Store)(nil)
	_ storage.AlertStore  = (*Store)(nil)
)

// OpenEvents opens the events database at path and applies migrations.
func OpenEvents(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS, migrations.EventsRoot)
	if err != nil {
		return nil, err
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) nowUTC() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// isConstraintError reports unique and primary key violations.
func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// isImmutableError reports an abort raised by an append-only trigger.
func isImmutableError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_TRIGGER {
			return true
		}
		if code != sqlite3.SQLITE_CONSTRAINT && code != sqlite3.SQLITE_ABORT {
			return false
		}
	}
	return strings.Contains(err.Error(), "is immutable")
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/audittrail/internal/platform/errors"
	sqlitemigrate "github.com/louisbranch/audittrail/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/audittrail/internal/services/audittrail/integrity"
	"github.com/louisbranch/audittrail/internal/services/audittrail/storage/sqlite/migrations"
)

// SecretStore persists secret versions in their own SQLite file so log
// readers never hold a handle on key material.
type SecretStore struct {
	sqlDB *sql.DB
}

var _ integrity.SecretStore = (*SecretStore)(nil)

// OpenSecrets opens the secrets database at path and applies migrations.
func OpenSecrets(ctx context.Context, path string) (*SecretStore, error) {
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS, migrations.SecretsRoot)
	if err != nil {
		return nil, err
	}
	return &SecretStore{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *SecretStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// ListSecretVersions returns every stored version in insertion order.
func (s *SecretStore) ListSecretVersions(ctx context.Context) ([]integrity.SecretVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT version, material, created_at, created_by FROM secret_versions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list secret versions: %w", err)
	}
	defer rows.Close()

	var versions []integrity.SecretVersion
	for rows.Next() {
		var (
			v         integrity.SecretVersion
			createdAt int64
		)
		if err := rows.Scan(&v.Version, &v.Material, &createdAt, &v.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan secret version: %w", err)
		}
		v.CreatedAt = fromMillis(createdAt)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate secret versions: %w", err)
	}
	return versions, nil
}

// InsertSecretVersion appends a version. Existing versions are never replaced.
func (s *SecretStore) InsertSecretVersion(ctx context.Context, version integrity.SecretVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	version.Version = strings.TrimSpace(version.Version)
	if version.Version == "" {
		return fmt.Errorf("secret version id is required")
	}
	if len(version.Material) == 0 {
		return fmt.Errorf("secret material is required")
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO secret_versions (version, material, created_at, created_by)
VALUES (?, ?, ?, ?)
`, version.Version, version.Material, toMillis(version.CreatedAt), version.CreatedBy)
	if err != nil {
		if isConstraintError(err) {
			return apperrors.WithMetadata(
				apperrors.CodeSecretVersionExists,
				fmt.Sprintf("secret version %q already exists", version.Version),
				map[string]string{"SecretVersion": version.Version},
			)
		}
		return fmt.Errorf("insert secret version: %w", err)
	}
	return nil
}
